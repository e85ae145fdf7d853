package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for bilisub
type Config struct {
	// Platform client settings
	Bilibili BilibiliConfig `yaml:"bilibili" json:"bilibili"`

	// Spacing of outbound API calls
	Gate GateConfig `yaml:"gate" json:"gate"`

	// Default poll interval for new subscriptions
	Poll PollConfig `yaml:"poll" json:"poll"`

	// Watermark store backend
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Image cache
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Headless browser screenshots of dynamics
	Screenshot ScreenshotConfig `yaml:"screenshot" json:"screenshot"`

	// Chat transports
	Twitch   TwitchConfig   `yaml:"twitch" json:"twitch"`
	Telegram TelegramConfig `yaml:"telegram" json:"telegram"`

	// Message templates, empty means built-in default
	Templates TemplateConfig `yaml:"templates" json:"templates"`

	// Schedule window file
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// BilibiliConfig holds platform client configuration
type BilibiliConfig struct {
	UserAgent  string        `yaml:"user_agent" json:"user_agent"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	CookieFile string        `yaml:"cookie_file" json:"cookie_file"`
	// Account selects the stored credential; empty means the most recent one
	Account string `yaml:"account" json:"account"`
}

// GateConfig holds the minimum spacing between API calls
type GateConfig struct {
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`
}

// PollConfig holds the randomized cycle spacing
type PollConfig struct {
	IntervalMin time.Duration `yaml:"interval_min" json:"interval_min"`
	IntervalMax time.Duration `yaml:"interval_max" json:"interval_max"`
}

// StorageConfig selects and configures the watermark store
type StorageConfig struct {
	Driver      string `yaml:"driver" json:"driver"`
	Path        string `yaml:"path" json:"path"`
	RedisAddr   string `yaml:"redis_addr" json:"redis_addr"`
	RedisDB     int    `yaml:"redis_db" json:"redis_db"`
	RedisPrefix string `yaml:"redis_prefix" json:"redis_prefix"`
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`
}

// CacheConfig holds image cache configuration
type CacheConfig struct {
	Dir        string `yaml:"dir" json:"dir"`
	LRUSize    int    `yaml:"lru_size" json:"lru_size"`
	ImageLimit int    `yaml:"image_limit" json:"image_limit"`
	Workers    int    `yaml:"workers" json:"workers"`
}

// ScreenshotConfig holds headless browser configuration
type ScreenshotConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Width   int           `yaml:"width" json:"width"`
	Height  int           `yaml:"height" json:"height"`
	Browser string        `yaml:"browser" json:"browser"`
}

// TwitchConfig holds Twitch IRC configuration
type TwitchConfig struct {
	Username          string   `yaml:"username" json:"username"`
	OAuthToken        string   `yaml:"oauth_token" json:"oauth_token"`
	Channels          []string `yaml:"channels" json:"channels"`
	CommandPrefix     string   `yaml:"command_prefix" json:"command_prefix"`
	MessagesPerSecond float64  `yaml:"messages_per_second" json:"messages_per_second"`
}

// TelegramConfig holds Telegram Bot API configuration
type TelegramConfig struct {
	BotToken string `yaml:"bot_token" json:"bot_token"`
	APIBase  string `yaml:"api_base" json:"api_base"`
}

// TemplateConfig holds message templates per feed
type TemplateConfig struct {
	Video   string `yaml:"video" json:"video"`
	Live    string `yaml:"live" json:"live"`
	Dynamic string `yaml:"dynamic" json:"dynamic"`
	Episode string `yaml:"episode" json:"episode"`
}

// ScheduleConfig holds the schedule window store locations. Season
// subscriptions keep their own sleep and at windows.
type ScheduleConfig struct {
	Path       string `yaml:"path" json:"path"`
	SeasonPath string `yaml:"season_path" json:"season_path"`
	Timezone   string `yaml:"timezone" json:"timezone"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// MetricsConfig holds the admin HTTP server configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	dataDir := DataDir()
	return &Config{
		Bilibili: BilibiliConfig{
			UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Timeout:    15 * time.Second,
			MaxRetries: 3,
			CookieFile: filepath.Join(dataDir, "cookies.json"),
		},
		Gate: GateConfig{
			MinInterval: 10 * time.Second,
		},
		Poll: PollConfig{
			IntervalMin: 3 * time.Minute,
			IntervalMax: 6 * time.Minute,
		},
		Storage: StorageConfig{
			Driver:      "file",
			Path:        filepath.Join(dataDir, "entities.json"),
			RedisAddr:   "localhost:6379",
			RedisPrefix: "bilisub",
		},
		Cache: CacheConfig{
			Dir:        filepath.Join(dataDir, "cache"),
			LRUSize:    512,
			ImageLimit: 9,
			Workers:    3,
		},
		Screenshot: ScreenshotConfig{
			Enabled: false,
			Timeout: 30 * time.Second,
			Width:   750,
			Height:  1334,
		},
		Twitch: TwitchConfig{
			CommandPrefix:     "!bili",
			MessagesPerSecond: 1,
		},
		Telegram: TelegramConfig{
			APIBase: "https://api.telegram.org",
		},
		Schedule: ScheduleConfig{
			Path:       filepath.Join(dataDir, "schedule.yaml"),
			SeasonPath: filepath.Join(dataDir, "season-schedule.yaml"),
			Timezone:   "Local",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			ServiceName: "bilisub",
			SampleRatio: 1,
		},
	}
}

// DataDir returns the directory used for persisted state, honouring XDG_DATA_HOME
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "bilisub")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bilisub"
	}
	return filepath.Join(home, ".local", "share", "bilisub")
}

// LoadFromEnv loads configuration from BILISUB_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.ToLower(v) == "true"
		}
	}

	setString("BILISUB_USER_AGENT", &c.Bilibili.UserAgent)
	setString("BILISUB_COOKIE_FILE", &c.Bilibili.CookieFile)
	setString("BILISUB_ACCOUNT", &c.Bilibili.Account)
	setInt("BILISUB_MAX_RETRIES", &c.Bilibili.MaxRetries)
	setDuration("BILISUB_GATE_INTERVAL", &c.Gate.MinInterval)
	setDuration("BILISUB_POLL_MIN", &c.Poll.IntervalMin)
	setDuration("BILISUB_POLL_MAX", &c.Poll.IntervalMax)

	setString("BILISUB_STORAGE_DRIVER", &c.Storage.Driver)
	setString("BILISUB_STORAGE_PATH", &c.Storage.Path)
	setString("BILISUB_REDIS_ADDR", &c.Storage.RedisAddr)
	setString("BILISUB_POSTGRES_DSN", &c.Storage.PostgresDSN)

	setString("BILISUB_CACHE_DIR", &c.Cache.Dir)
	setBool("BILISUB_SCREENSHOT_ENABLED", &c.Screenshot.Enabled)

	setString("BILISUB_TWITCH_USERNAME", &c.Twitch.Username)
	setString("BILISUB_TWITCH_OAUTH_TOKEN", &c.Twitch.OAuthToken)
	if channels := os.Getenv("BILISUB_TWITCH_CHANNELS"); channels != "" {
		c.Twitch.Channels = splitList(channels)
	}
	setString("BILISUB_TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken)

	setString("BILISUB_LOG_LEVEL", &c.Logging.Level)
	setString("BILISUB_LOG_FORMAT", &c.Logging.Format)
	setBool("BILISUB_METRICS_ENABLED", &c.Metrics.Enabled)
	setString("BILISUB_METRICS_LISTEN", &c.Metrics.Listen)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.Endpoint)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".bilisub.yaml",
		".bilisub.yml",
		filepath.Join(home, ".config", "bilisub", "config.yaml"),
		filepath.Join(home, ".config", "bilisub", "config.yml"),
		filepath.Join(home, ".bilisub.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Bilibili.Timeout <= 0 {
		errs = append(errs, errors.New("bilibili timeout must be positive"))
	}
	if c.Bilibili.MaxRetries < 1 {
		errs = append(errs, errors.New("bilibili max retries must be at least 1"))
	}

	if c.Gate.MinInterval < 0 {
		errs = append(errs, errors.New("gate min interval cannot be negative"))
	}

	if c.Poll.IntervalMin <= 0 {
		errs = append(errs, errors.New("poll interval min must be positive"))
	}
	if c.Poll.IntervalMax < c.Poll.IntervalMin {
		errs = append(errs, errors.New("poll interval max must not be below min"))
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "file":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage path is required for the file driver"))
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for the redis driver"))
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	if c.Cache.LRUSize <= 0 {
		errs = append(errs, errors.New("cache lru size must be positive"))
	}
	if c.Cache.ImageLimit < 0 {
		errs = append(errs, errors.New("image limit cannot be negative"))
	}
	if c.Cache.Workers <= 0 {
		errs = append(errs, errors.New("cache workers must be positive"))
	}

	if c.Screenshot.Enabled && c.Screenshot.Timeout <= 0 {
		errs = append(errs, errors.New("screenshot timeout must be positive"))
	}

	if c.Twitch.Username != "" && c.Twitch.OAuthToken == "" {
		errs = append(errs, errors.New("twitch oauth token is required when a username is set"))
	}
	if c.Twitch.MessagesPerSecond <= 0 {
		errs = append(errs, errors.New("twitch messages per second must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		errs = append(errs, errors.New("log format must be console or json"))
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing sample ratio must be within [0, 1]"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["storage"].(string); ok && v != "" {
		c.Storage.Driver = v
	}
	if v, ok := flags["storage-path"].(string); ok && v != "" {
		c.Storage.Path = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-format"].(string); ok && v != "" {
		c.Logging.Format = v
	}
	if v, ok := flags["gate-interval"].(time.Duration); ok && v > 0 {
		c.Gate.MinInterval = v
	}
	if v, ok := flags["listen"].(string); ok && v != "" {
		c.Metrics.Listen = v
	}
	if v, ok := flags["screenshot"].(bool); ok {
		c.Screenshot.Enabled = v
	}
	if v, ok := flags["account"].(string); ok && v != "" {
		c.Bilibili.Account = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".bilisub.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
