package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Rendezvous RendezvousConfig `mapstructure:"rendezvous"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "redis" or "bolt"
	Path  string      `mapstructure:"path"` // bolt database file
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the Redis connection used by the redis storage backend
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

// RendezvousConfig defines the press/consume protocol timings and quota seeding
type RendezvousConfig struct {
	TTL          string `mapstructure:"ttl"`           // readiness window of a press
	SettleDelay  string `mapstructure:"settle_delay"`  // debounce between both-ready and consume
	ReplayWindow string `mapstructure:"replay_window"` // how long a finished consumption is replayed
	AutoConsume  bool   `mapstructure:"auto_consume"`  // server consumes after the settle delay
	TrialActions int    `mapstructure:"trial_actions"`
	TrialPeriod  string `mapstructure:"trial_period"`
}

// AuthConfig defines member session token settings
type AuthConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret"`
	TokenExpiration string `mapstructure:"token_expiration"`
}

// NotifyConfig defines the side-channel notification gateways
type NotifyConfig struct {
	PushURL      string `mapstructure:"push_url"`
	SMSURL       string `mapstructure:"sms_url"`
	SMSFrom      string `mapstructure:"sms_from"`
	Timeout      string `mapstructure:"timeout"`
	Cooldown     string `mapstructure:"cooldown"`
	CooldownSize int    `mapstructure:"cooldown_size"`
	Always       bool   `mapstructure:"always"` // notify even when the partner is live-connected
}

// AdminConfig defines the pairing/billing collaborator interface
type AdminConfig struct {
	APIKey          string   `mapstructure:"api_key"`
	RateLimit       int      `mapstructure:"rate_limit"`
	RateLimitWindow string   `mapstructure:"rate_limit_window"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

// CatalogConfig lists the shared activities a consumption can assign
type CatalogConfig struct {
	Activities []string `mapstructure:"activities"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("DUET")
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

// Defaults returns the configuration produced by the defaults alone
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Keys returns every known configuration key
func Keys() []string {
	v := viper.New()
	SetDefaults(v)
	return v.AllKeys()
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.path", "/var/lib/duet/duet.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Rendezvous defaults
	v.SetDefault("rendezvous.ttl", "5m")
	v.SetDefault("rendezvous.settle_delay", "800ms")
	v.SetDefault("rendezvous.replay_window", "30s")
	v.SetDefault("rendezvous.auto_consume", true)
	v.SetDefault("rendezvous.trial_actions", 3)
	v.SetDefault("rendezvous.trial_period", "168h")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_expiration", "720h")

	// Notify defaults
	v.SetDefault("notify.push_url", "")
	v.SetDefault("notify.sms_url", "")
	v.SetDefault("notify.sms_from", "")
	v.SetDefault("notify.timeout", "5s")
	v.SetDefault("notify.cooldown", "1m")
	v.SetDefault("notify.cooldown_size", 4096)
	v.SetDefault("notify.always", false)

	// Admin defaults
	v.SetDefault("admin.api_key", "")
	v.SetDefault("admin.rate_limit", 120)
	v.SetDefault("admin.rate_limit_window", "1m")
	v.SetDefault("admin.allowed_origins", []string{})

	// Catalog defaults
	v.SetDefault("catalog.activities", []string{
		"date-night",
		"cook-together",
		"sunset-walk",
		"board-games",
		"movie-marathon",
	})
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "redis"
	case "redis":
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for bolt storage")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	durations := map[string]string{
		"rendezvous.ttl":           cfg.Rendezvous.TTL,
		"rendezvous.settle_delay":  cfg.Rendezvous.SettleDelay,
		"rendezvous.replay_window": cfg.Rendezvous.ReplayWindow,
		"rendezvous.trial_period":  cfg.Rendezvous.TrialPeriod,
		"auth.token_expiration":    cfg.Auth.TokenExpiration,
		"notify.timeout":           cfg.Notify.Timeout,
		"notify.cooldown":          cfg.Notify.Cooldown,
		"admin.rate_limit_window":  cfg.Admin.RateLimitWindow,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", key, value)
		}
	}

	if cfg.Rendezvous.TrialActions < 0 {
		return fmt.Errorf("rendezvous.trial_actions must not be negative")
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if len(cfg.Catalog.Activities) == 0 {
		return fmt.Errorf("at least one catalog activity is required")
	}

	return nil
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// SetConfigFile reports a missing explicit path as an os error
	return os.IsNotExist(err)
}
