package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	cfg := DefaultConfig()

	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, filepath.Join("/data", "bilisub", "entities.json"), cfg.Storage.Path)
	assert.Equal(t, 10*time.Second, cfg.Gate.MinInterval)
	assert.Equal(t, 3*time.Minute, cfg.Poll.IntervalMin)
	assert.Equal(t, 6*time.Minute, cfg.Poll.IntervalMax)
	assert.Equal(t, "!bili", cfg.Twitch.CommandPrefix)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BILISUB_STORAGE_DRIVER", "redis")
	t.Setenv("BILISUB_REDIS_ADDR", "redis:6380")
	t.Setenv("BILISUB_GATE_INTERVAL", "2s")
	t.Setenv("BILISUB_POLL_MIN", "30s")
	t.Setenv("BILISUB_MAX_RETRIES", "5")
	t.Setenv("BILISUB_SCREENSHOT_ENABLED", "TRUE")
	t.Setenv("BILISUB_TWITCH_CHANNELS", "alpha, beta,,")
	t.Setenv("BILISUB_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "redis", cfg.Storage.Driver)
	assert.Equal(t, "redis:6380", cfg.Storage.RedisAddr)
	assert.Equal(t, 2*time.Second, cfg.Gate.MinInterval)
	assert.Equal(t, 30*time.Second, cfg.Poll.IntervalMin)
	assert.Equal(t, 5, cfg.Bilibili.MaxRetries)
	assert.True(t, cfg.Screenshot.Enabled)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Twitch.Channels)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvReportsBadValues(t *testing.T) {
	t.Setenv("BILISUB_GATE_INTERVAL", "soon")
	t.Setenv("BILISUB_MAX_RETRIES", "many")

	err := DefaultConfig().LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BILISUB_GATE_INTERVAL")
	assert.Contains(t, err.Error(), "BILISUB_MAX_RETRIES")
}

func TestLoadFromFile(t *testing.T) {
	t.Run("valid yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
bilibili:
  timeout: 20s
  max_retries: 2
gate:
  min_interval: 1500ms
poll:
  interval_min: 1m
  interval_max: 2m
storage:
  driver: postgres
  postgres_dsn: postgres://bilisub@localhost/bilisub
twitch:
  username: bilibot
  oauth_token: oauth:abc
  channels: [somechannel]
templates:
  video: "{author}: {title} {link}"
logging:
  level: warn
  format: json
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		cfg := DefaultConfig()
		require.NoError(t, cfg.LoadFromFile(path))

		assert.Equal(t, 20*time.Second, cfg.Bilibili.Timeout)
		assert.Equal(t, 2, cfg.Bilibili.MaxRetries)
		assert.Equal(t, 1500*time.Millisecond, cfg.Gate.MinInterval)
		assert.Equal(t, time.Minute, cfg.Poll.IntervalMin)
		assert.Equal(t, "postgres", cfg.Storage.Driver)
		assert.Equal(t, []string{"somechannel"}, cfg.Twitch.Channels)
		assert.Equal(t, "{author}: {title} {link}", cfg.Templates.Video)
		assert.Equal(t, "json", cfg.Logging.Format)
		// untouched sections keep their defaults
		assert.Equal(t, 9, cfg.Cache.ImageLimit)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte("gate:\n  min_interval: [oops\n"), 0644))

		err := DefaultConfig().LoadFromFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("non-existent file", func(t *testing.T) {
		err := DefaultConfig().LoadFromFile("/non/existent/config.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})
}

func TestFindConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	t.Chdir(tempDir)

	cfg := DefaultConfig()
	assert.Empty(t, cfg.findConfigFile())

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, ".bilisub.yaml"), []byte("logging:\n  level: info\n"), 0644))
	assert.Equal(t, ".bilisub.yaml", cfg.findConfigFile())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "inverted poll interval",
			mutate:  func(c *Config) { c.Poll.IntervalMax = time.Second },
			wantErr: "poll interval max must not be below min",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Storage.Driver = "sqlite" },
			wantErr: `unknown storage driver "sqlite"`,
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Storage.Driver = "postgres" },
			wantErr: "postgres dsn is required",
		},
		{
			name:    "twitch without token",
			mutate:  func(c *Config) { c.Twitch.Username = "bot" },
			wantErr: "twitch oauth token is required",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "log format must be console or json",
		},
		{
			name:    "sample ratio out of range",
			mutate:  func(c *Config) { c.Tracing.SampleRatio = 2 },
			wantErr: "tracing sample ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bilibili.MaxRetries = 0
	cfg.Cache.LRUSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries")
	assert.Contains(t, err.Error(), "lru size")
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Twitch.Channels = []string{"a", "b"}
	cfg.Gate.MinInterval = 3 * time.Second
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, cfg.Twitch.Channels, loaded.Twitch.Channels)
	assert.Equal(t, 3*time.Second, loaded.Gate.MinInterval)
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"storage":       "redis",
		"log-level":     "debug",
		"gate-interval": 5 * time.Second,
		"screenshot":    true,
		"listen":        ":9999",
		"ignored":       42,
	})

	assert.Equal(t, "redis", cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Gate.MinInterval)
	assert.True(t, cfg.Screenshot.Enabled)
	assert.Equal(t, ":9999", cfg.Metrics.Listen)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\ngate:\n  min_interval: 4s\n"), 0644))
	t.Setenv("BILISUB_LOG_LEVEL", "error")

	cfg, err := Load(path, map[string]interface{}{"log-level": "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 4*time.Second, cfg.Gate.MinInterval)

	cfg, err = Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	t.Setenv("BILISUB_STORAGE_DRIVER", "sqlite")

	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}
