package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts YAML durations written either as Go duration strings
// ("30s", "5m") or as integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the application configuration
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Auth     AuthConfig      `yaml:"auth"`
	Log      LogConfig       `yaml:"game_log"`
	Publish  PublishConfig   `yaml:"publish"`
	Scoring  ScoringDefaults `yaml:"scoring"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string   `yaml:"jwt_secret"`
	TokenDuration Duration `yaml:"token_duration"`
}

// LogConfig holds game server log tailing settings
type LogConfig struct {
	Path              string   `yaml:"path"`
	PollInterval      Duration `yaml:"poll_interval"`
	RetryBackoff      Duration `yaml:"retry_backoff"`
	AutoCreateCourses bool     `yaml:"auto_create_courses"`
}

// PublishConfig holds reconciliation loop settings
type PublishConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Interval      Duration `yaml:"interval"`
	ChannelID     string   `yaml:"channel_id"`
	BotToken      string   `yaml:"bot_token"`
	APIBaseURL    string   `yaml:"api_base_url"`
	CoursesPerRow int      `yaml:"courses_per_row"`
}

// ScoringDefaults seed the scoring settings on first run. After that the
// values stored in the database win; they are mutable via the admin API.
type ScoringDefaults struct {
	MinCoursesToQualify int `yaml:"min_courses_to_qualify"`
	BestNCourses        int `yaml:"best_n_courses"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Set defaults
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8090
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/coursecup/coursecup.db"
	}
	if cfg.Log.PollInterval == 0 {
		cfg.Log.PollInterval = Duration(2 * time.Second)
	}
	if cfg.Log.RetryBackoff == 0 {
		cfg.Log.RetryBackoff = Duration(30 * time.Second)
	}
	if cfg.Publish.Interval == 0 {
		cfg.Publish.Interval = Duration(5 * time.Minute)
	}
	if cfg.Publish.CoursesPerRow == 0 {
		cfg.Publish.CoursesPerRow = 2
	}
	if cfg.Publish.APIBaseURL == "" {
		cfg.Publish.APIBaseURL = "https://discord.com/api/v10"
	}

	// Auth defaults
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = Duration(24 * time.Hour)
	}

	return &cfg, nil
}
