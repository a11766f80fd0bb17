package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1", cfg.Server.ListenAddr)
	require.Equal(t, 8090, cfg.Server.HTTPPort)
	require.Equal(t, "/var/lib/coursecup/coursecup.db", cfg.Database.Path)
	require.Equal(t, Duration(2*time.Second), cfg.Log.PollInterval)
	require.Equal(t, Duration(30*time.Second), cfg.Log.RetryBackoff)
	require.Equal(t, Duration(5*time.Minute), cfg.Publish.Interval)
	require.Equal(t, 2, cfg.Publish.CoursesPerRow)
	require.Equal(t, "https://discord.com/api/v10", cfg.Publish.APIBaseURL)
	require.Equal(t, Duration(24*time.Hour), cfg.Auth.TokenDuration)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  listen_addr: 0.0.0.0
  http_port: 9000
database:
  path: /tmp/test.db
auth:
  jwt_secret: sekrit
  token_duration: 1h
game_log:
  path: /var/log/game/server.log
  poll_interval: 500ms
  auto_create_courses: true
publish:
  enabled: true
  interval: 2m
  channel_id: "12345"
  bot_token: tok
  courses_per_row: 3
scoring:
  min_courses_to_qualify: 2
  best_n_courses: 5
`))
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0", cfg.Server.ListenAddr)
	require.Equal(t, 9000, cfg.Server.HTTPPort)
	require.Equal(t, "/tmp/test.db", cfg.Database.Path)
	require.Equal(t, "sekrit", cfg.Auth.JWTSecret)
	require.Equal(t, Duration(time.Hour), cfg.Auth.TokenDuration)
	require.Equal(t, "/var/log/game/server.log", cfg.Log.Path)
	require.Equal(t, Duration(500*time.Millisecond), cfg.Log.PollInterval)
	require.True(t, cfg.Log.AutoCreateCourses)
	require.True(t, cfg.Publish.Enabled)
	require.Equal(t, Duration(2*time.Minute), cfg.Publish.Interval)
	require.Equal(t, "12345", cfg.Publish.ChannelID)
	require.Equal(t, 3, cfg.Publish.CoursesPerRow)
	require.Equal(t, 2, cfg.Scoring.MinCoursesToQualify)
	require.Equal(t, 5, cfg.Scoring.BestNCourses)
}

func TestDurationForms(t *testing.T) {
	cfg, err := Load(writeConfig(t, "game_log:\n  poll_interval: 2000000000\n"))
	require.NoError(t, err)
	require.Equal(t, Duration(2*time.Second), cfg.Log.PollInterval)

	_, err = Load(writeConfig(t, "game_log:\n  poll_interval: soon\n"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yml")
	require.Error(t, err)
}
