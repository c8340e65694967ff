package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp keeps a stray .env in the package directory out of the test.
func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://realtime.gtfs.de/realtime-free.pb", cfg.FeedURL)
	assert.Equal(t, time.Second, cfg.FeedPollInterval)
	assert.Equal(t, 300*time.Second, cfg.FeedTimeout)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, 10, cfg.BoardLimit)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.False(t, cfg.RedisEnabled)
	assert.Nil(t, cfg.CORSOrigins)
}

func TestLoadEnvironment(t *testing.T) {
	chdirTemp(t)
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FEED_POLL_INTERVAL", "5s")
	t.Setenv("BOARD_LIMIT", "20")
	t.Setenv("RATE_LIMIT_WHITELIST", " 10.0.0.1 , ,10.0.0.2")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.FeedPollInterval)
	assert.Equal(t, 20, cfg.BoardLimit)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.RateLimitWhitelist)
	assert.True(t, cfg.RedisEnabled)
}

func TestLoadConfigFileUnderEnvironment(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(
		"FEED_URL: https://example.com/feed.pb\n"+
			"BOARD_LIMIT: 15\n"+
			"NATS_URL: nats://localhost:4222\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("BOARD_LIMIT", "12")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/feed.pb", cfg.FeedURL)
	assert.Equal(t, 12, cfg.BoardLimit)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"feed url", map[string]string{"FEED_URL": "not a url"}},
		{"board limit", map[string]string{"BOARD_LIMIT": "500"}},
		{"timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}},
		{"missing config file", map[string]string{"CONFIG_FILE": "/nonexistent/config.yml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirTemp(t)
			t.Setenv("CONFIG_FILE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
