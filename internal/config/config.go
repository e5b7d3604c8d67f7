package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Usage        UsageConfig        `mapstructure:"usage"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	Rollover     RolloverConfig     `mapstructure:"rollover"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "redis" or "bolt"
	Path  string      `mapstructure:"path"` // bolt database directory
	Redis RedisConfig `mapstructure:"redis"`
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

// UsageConfig defines default allowance settings applied to users without
// a stored schedule
type UsageConfig struct {
	DefaultDailyMinutes int `mapstructure:"default_daily_minutes"`
	MaxBonusMinutes     int `mapstructure:"max_bonus_minutes"`
}

// MonitorConfig defines the periodic monitor schedule
type MonitorConfig struct {
	ActiveHourStart       int    `mapstructure:"active_hour_start"`
	ActiveHourEnd         int    `mapstructure:"active_hour_end"`
	ActiveInterval        string `mapstructure:"active_interval"`
	IdleInterval          string `mapstructure:"idle_interval"`
	RunawaySessionMinutes int    `mapstructure:"runaway_session_minutes"`
}

// RolloverConfig defines the daily rollover behavior
type RolloverConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// ConnectivityConfig defines the connectivity backend and its retry policy
type ConnectivityConfig struct {
	Backend      string `mapstructure:"backend"`
	ApplyTimeout string `mapstructure:"apply_timeout"`
	MaxRetries   int    `mapstructure:"max_retries"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("TIMEWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
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

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "0.0.0.0")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/timewarden")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 5)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Usage defaults
	v.SetDefault("usage.default_daily_minutes", 60)
	v.SetDefault("usage.max_bonus_minutes", 60)

	// Monitor defaults: every minute during waking hours, every five outside
	v.SetDefault("monitor.active_hour_start", 6)
	v.SetDefault("monitor.active_hour_end", 23)
	v.SetDefault("monitor.active_interval", "1m")
	v.SetDefault("monitor.idle_interval", "5m")
	v.SetDefault("monitor.runaway_session_minutes", 480)

	// Rollover defaults
	v.SetDefault("rollover.retention_days", 90)

	// Connectivity defaults
	v.SetDefault("connectivity.backend", "mock")
	v.SetDefault("connectivity.apply_timeout", "10s")
	v.SetDefault("connectivity.max_retries", 3)
}

// validate checks configuration consistency
func validate(cfg *Config) error {
	switch cfg.Storage.Type {
	case "redis", "bolt":
	default:
		return fmt.Errorf("unknown storage type: %s (must be redis or bolt)", cfg.Storage.Type)
	}

	if cfg.Storage.Type == "bolt" && cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for bolt storage")
	}

	if cfg.Monitor.ActiveHourStart < 0 || cfg.Monitor.ActiveHourStart > 23 {
		return fmt.Errorf("monitor.active_hour_start out of range: %d", cfg.Monitor.ActiveHourStart)
	}
	if cfg.Monitor.ActiveHourEnd < 0 || cfg.Monitor.ActiveHourEnd > 24 {
		return fmt.Errorf("monitor.active_hour_end out of range: %d", cfg.Monitor.ActiveHourEnd)
	}

	for name, val := range map[string]string{
		"monitor.active_interval":    cfg.Monitor.ActiveInterval,
		"monitor.idle_interval":      cfg.Monitor.IdleInterval,
		"connectivity.apply_timeout": cfg.Connectivity.ApplyTimeout,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if cfg.Rollover.RetentionDays <= 0 {
		return fmt.Errorf("rollover.retention_days must be positive")
	}

	if cfg.Usage.DefaultDailyMinutes < 0 || cfg.Usage.DefaultDailyMinutes > 480 {
		return fmt.Errorf("usage.default_daily_minutes out of range: %d", cfg.Usage.DefaultDailyMinutes)
	}
	if cfg.Usage.MaxBonusMinutes < 0 || cfg.Usage.MaxBonusMinutes > 180 {
		return fmt.Errorf("usage.max_bonus_minutes out of range: %d", cfg.Usage.MaxBonusMinutes)
	}

	return nil
}
