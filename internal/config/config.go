package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Router  RouterConfig  `mapstructure:"router"`
	Poll    PollConfig    `mapstructure:"poll"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Control ControlConfig `mapstructure:"control"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Devices DevicesConfig `mapstructure:"devices"`
}

// RouterConfig describes how to reach the router backend
type RouterConfig struct {
	BaseURL   string  `mapstructure:"base_url"`
	Timeout   string  `mapstructure:"timeout"`
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second, 0 disables pacing
	RateBurst int     `mapstructure:"rate_burst"`
}

// PollConfig defines refresh intervals for backend-confirmed state
type PollConfig struct {
	StatusInterval  string `mapstructure:"status_interval"`
	StatsInterval   string `mapstructure:"stats_interval"`
	RulesInterval   string `mapstructure:"rules_interval"`
	DevicesInterval string `mapstructure:"devices_interval"` // "0" disables the dedicated device poll
	JobInterval     string `mapstructure:"job_interval"`     // adblock status/log poll while a job runs
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "memory", "bolt" or "redis"
	Bolt  BoltConfig  `mapstructure:"bolt"`
	Redis RedisConfig `mapstructure:"redis"`
}

// BoltConfig defines the single-file store
type BoltConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ControlConfig defines the local control API
type ControlConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// MetricsConfig defines the metrics endpoint
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// DevicesConfig defines device projection settings
type DevicesConfig struct {
	NameCacheSize int `mapstructure:"name_cache_size"`
}

// Addr returns host:port of the control API
func (c ControlConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// Addr returns host:port of the metrics endpoint
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HOMEGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration produced by defaults alone
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Router defaults
	v.SetDefault("router.base_url", "http://192.168.1.1")
	v.SetDefault("router.timeout", "10s")
	v.SetDefault("router.rate_limit", 5.0)
	v.SetDefault("router.rate_burst", 5)

	// Poll defaults, matching the dashboard refresh cadence
	v.SetDefault("poll.status_interval", "30s")
	v.SetDefault("poll.stats_interval", "30s")
	v.SetDefault("poll.rules_interval", "60s")
	v.SetDefault("poll.devices_interval", "0")
	v.SetDefault("poll.job_interval", "2s")

	// Storage defaults
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.bolt.path", "/var/lib/homeguard/homeguard.db")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Control API defaults
	v.SetDefault("control.enabled", true)
	v.SetDefault("control.bind_address", "127.0.0.1")
	v.SetDefault("control.port", 8089)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.bind_address", "0.0.0.0")
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("devices.name_cache_size", 256)
}

// validate validates the configuration
func validate(cfg *Config) error {
	u, err := url.Parse(cfg.Router.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid router base_url: %q", cfg.Router.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported router base_url scheme: %s", u.Scheme)
	}
	if cfg.Router.RateLimit < 0 {
		return fmt.Errorf("router rate_limit must not be negative")
	}

	durations := map[string]string{
		"router.timeout":        cfg.Router.Timeout,
		"poll.status_interval":  cfg.Poll.StatusInterval,
		"poll.stats_interval":   cfg.Poll.StatsInterval,
		"poll.rules_interval":   cfg.Poll.RulesInterval,
		"poll.devices_interval": cfg.Poll.DevicesInterval,
		"poll.job_interval":     cfg.Poll.JobInterval,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", key)
		}
	}

	if cfg.Control.Enabled && (cfg.Control.Port <= 0 || cfg.Control.Port > 65535) {
		return fmt.Errorf("invalid control port: %d", cfg.Control.Port)
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	switch cfg.Storage.Type {
	case "memory", "redis":
	case "bolt":
		if cfg.Storage.Bolt.Path == "" {
			return fmt.Errorf("storage bolt.path is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if cfg.Devices.NameCacheSize <= 0 {
		return fmt.Errorf("devices name_cache_size must be positive")
	}

	return nil
}

// isNotFound reports whether viper failed only because the file is missing.
// SetConfigFile surfaces a plain fs error rather than ConfigFileNotFoundError.
func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	return errors.Is(err, fs.ErrNotExist)
}
