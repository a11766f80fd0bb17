// coursecup - secret course season tracker
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/havenclimb/coursecup/internal/api"
	"github.com/havenclimb/coursecup/internal/auth"
	"github.com/havenclimb/coursecup/internal/collector"
	"github.com/havenclimb/coursecup/internal/config"
	"github.com/havenclimb/coursecup/internal/publisher"
	"github.com/havenclimb/coursecup/internal/render"
	"github.com/havenclimb/coursecup/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/coursecup/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "season":
		cmdSeason(os.Args[2:])
	case "standings":
		cmdStandings(os.Args[2:])
	case "courses":
		cmdCourses(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "version":
		fmt.Printf("coursecup %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: coursecup <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                        Start the tracker (log ingest, publisher, API)")
	fmt.Println("  season                       Show the active season summary")
	fmt.Println("  standings [--season N]       Show ranked season standings")
	fmt.Println("  courses                      Show the active season's courses")
	fmt.Println("  user add [--admin] <username>")
	fmt.Println("                               Add a user (prompts for password)")
	fmt.Println("  user remove <username>       Remove a user")
	fmt.Println("  user reset <username>        Reset a user's password")
	fmt.Println("  user list                    List all users")
	fmt.Println("  version                      Show version")
	fmt.Println("  help                         Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/coursecup/config.yml)")
	fmt.Println("  --url <url>        Base URL of the coursecup server (default: derived from config)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  coursecup serve --config /etc/coursecup/config.yml")
	fmt.Println("  coursecup standings --season 2")
	fmt.Println("  coursecup user add --admin myuser")
}

// cmdServe starts the tracker service
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			log.Fatalf("No config file found at %s. Use --config to specify a config file.", defaultConfigPath)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Coursecup %s starting...", version)

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Printf("Database initialized at %s", cfg.Database.Path)

	manager := collector.NewManager(cfg, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		log.Fatalf("Failed to start collector: %v", err)
	}
	if cfg.Log.Path != "" {
		log.Printf("Tailing game log %s, polling every %s", cfg.Log.Path, cfg.Log.PollInterval.Std())
	} else {
		log.Printf("No game log configured, running without ingest")
	}

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration.Std())
	if cfg.Auth.JWTSecret == "" {
		log.Printf("Warning: No JWT secret configured. Auth tokens will use an empty secret.")
	}

	var scheduler *publisher.Scheduler
	if cfg.Publish.Enabled {
		if cfg.Publish.BotToken == "" || cfg.Publish.ChannelID == "" {
			log.Printf("Warning: publish enabled but bot_token or channel_id missing, publisher disabled")
		} else {
			msgr := publisher.NewDiscordMessenger(cfg.Publish.APIBaseURL, cfg.Publish.BotToken)
			scheduler = publisher.NewScheduler(cfg.Publish, store, manager, msgr)
			scheduler.Start()
		}
	}

	router := api.NewRouter(cfg, store, manager, authService)
	router.StartWebSocketHub()

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		log.Fatalf("HTTP server error: %v", err)
	}

	// Sequential shutdown
	log.Println("Shutting down HTTP server...")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if scheduler != nil {
		log.Println("Stopping publisher...")
		scheduler.Stop()
	}

	log.Println("Stopping collector...")
	manager.Stop()

	cancel()
	log.Println("Shutdown complete")
}

// CLI helper variables
var (
	baseURL = "http://localhost:8090"
	dbPath  string
)

// loadCLIConfigFromFlags loads config using pre-parsed flag values
func loadCLIConfigFromFlags(configPath, url string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", configPath, err)
		dbPath = "/var/lib/coursecup/coursecup.db"
		if url != "" {
			baseURL = url
		}
		return nil
	}

	dbPath = cfg.Database.Path
	if url != "" {
		baseURL = url
	} else {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	}
	return cfg
}

func cmdSeason(args []string) {
	fs := flag.NewFlagSet("season", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the coursecup server")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *url)

	var summary map[string]interface{}
	if err := getJSON("/api/season", &summary); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	season, _ := summary["season"].(map[string]interface{})
	if season == nil {
		fmt.Println("No active season")
		return
	}

	fmt.Printf("Season %v", season["number"])
	if title, ok := season["title"].(string); ok && title != "" {
		fmt.Printf(" - %s", title)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Active courses:\t%v\n", summary["active_courses"])
	fmt.Fprintf(w, "Expired courses:\t%v\n", summary["expired_courses"])
	fmt.Fprintf(w, "Players:\t%v\n", summary["players"])
	fmt.Fprintf(w, "Finishes:\t%v\n", summary["finishes"])
	w.Flush()
}

func cmdStandings(args []string) {
	fs := flag.NewFlagSet("standings", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the coursecup server")
	seasonNum := fs.Int("season", 0, "season number (default: active season)")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *url)

	path := "/api/standings"
	if *seasonNum > 0 {
		path = fmt.Sprintf("/api/standings?season=%d", *seasonNum)
	}

	var resp struct {
		Standings []struct {
			Rank            int    `json:"rank"`
			Player          string `json:"player"`
			QualifyingCount int    `json:"qualifying_courses"`
			TotalTimeMillis int64  `json:"total_time_ms"`
		} `json:"standings"`
	}
	if err := getJSON(path, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(resp.Standings) == 0 {
		fmt.Println("No results yet")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tTOTAL TIME\tCOURSES")
	fmt.Fprintln(w, "----\t------\t----------\t-------")
	for _, s := range resp.Standings {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", s.Rank, s.Player, render.FormatMillis(s.TotalTimeMillis), s.QualifyingCount)
	}
	w.Flush()
}

func cmdCourses(args []string) {
	fs := flag.NewFlagSet("courses", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the coursecup server")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *url)

	var courses []struct {
		FullName  string     `json:"full_name"`
		Slug      string     `json:"slug"`
		Status    string     `json:"status"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := getJSON("/api/courses", &courses); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(courses) == 0 {
		fmt.Println("No courses in the active season")
		return
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COURSE\tSLUG\tSTATUS\tEXPIRES")
	fmt.Fprintln(w, "------\t----\t------\t-------")
	for _, c := range courses {
		expires := "-"
		if c.Status == "expired" {
			expires = "EXPIRED"
		} else if c.ExpiresAt != nil {
			expires = render.FormatTimeRemaining(*c.ExpiresAt, now)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.FullName, c.Slug, c.Status, expires)
	}
	w.Flush()
}

// cmdUser handles user subcommands
func cmdUser(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: user subcommand required: add, remove, reset, list\n")
		os.Exit(1)
	}

	subCmd := args[0]
	fs := flag.NewFlagSet("user", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	isAdmin := fs.Bool("admin", false, "create as admin user")
	fs.Parse(args[1:])
	remaining := fs.Args()

	loadCLIConfigFromFlags(*configPath, "")

	store, err := storage.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	switch subCmd {
	case "add":
		err = cmdUserAdd(ctx, store, remaining, *isAdmin)
	case "remove":
		err = cmdUserRemove(ctx, store, remaining)
	case "reset":
		err = cmdUserReset(ctx, store, remaining)
	case "list":
		err = cmdUserList(ctx, store)
	default:
		err = fmt.Errorf("unknown user command: %s (use: add, remove, reset, list)", subCmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdUserAdd(ctx context.Context, store *storage.Store, args []string, isAdmin bool) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: coursecup user add [--admin] <username>")
	}
	username := args[0]

	if _, err := store.UserByUsername(ctx, username); err == nil {
		return fmt.Errorf("user '%s' already exists", username)
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if _, err := store.CreateUser(ctx, username, hash, isAdmin); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	roleStr := "user"
	if isAdmin {
		roleStr = "admin"
	}
	fmt.Printf("User '%s' created successfully (role: %s)\n", username, roleStr)
	return nil
}

func promptPassword() (string, error) {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if string(password) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(password), nil
}

func cmdUserRemove(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: coursecup user remove <username>")
	}
	username := args[0]

	if err := store.DeleteUser(ctx, username); err != nil {
		return fmt.Errorf("failed to remove user: %w", err)
	}
	fmt.Printf("User '%s' removed\n", username)
	return nil
}

func cmdUserReset(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: coursecup user reset <username>")
	}
	username := args[0]

	if _, err := store.UserByUsername(ctx, username); err != nil {
		return fmt.Errorf("user '%s' not found", username)
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := store.SetUserPassword(ctx, username, hash); err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}
	fmt.Printf("Password for '%s' updated\n", username)
	return nil
}

func cmdUserList(ctx context.Context, store *storage.Store) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tROLE\tLAST_LOGIN")
	fmt.Fprintln(w, "--------\t----\t----------")
	for _, user := range users {
		role := "user"
		if user.IsAdmin {
			role = "admin"
		}
		lastLogin := "never"
		if user.LastLogin != nil {
			lastLogin = user.LastLogin.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", user.Username, role, lastLogin)
	}
	return w.Flush()
}

func getJSON(path string, target interface{}) error {
	url := baseURL + path
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}
