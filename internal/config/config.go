package config

import (
	"strings"
	"time"
)

// Config represents the complete application configuration. Values are
// layered as defaults, then the config file, then SOURCETAP_* environment
// variables, then runtime overrides (usually CLI flags).
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Store     StoreConfig             `mapstructure:"store"`
	Cache     CacheConfig             `mapstructure:"cache"`
	HTTP      HTTPConfig              `mapstructure:"http"`
	Collector CollectorConfig         `mapstructure:"collector"`
	Sources   map[string]SourceConfig `mapstructure:"sources"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Metrics   MetricsConfig           `mapstructure:"metrics"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Auth            AuthConfig    `mapstructure:"auth"`
}

// AuthConfig enables bearer-token auth on the collection endpoints when
// JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// Enabled reports whether a signing secret is configured.
func (a AuthConfig) Enabled() bool {
	return strings.TrimSpace(a.JWTSecret) != ""
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendStore  = "store"
)

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	// Backend is one of memory, redis, or store.
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the shared Redis cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// HTTPConfig holds request engine settings shared by every source.
type HTTPConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MaxElapsed      time.Duration `mapstructure:"max_elapsed"`
	UserAgentPrefix string        `mapstructure:"user_agent_prefix"`
}

// CollectorConfig controls CollectAll.
type CollectorConfig struct {
	// Concurrency below 2 runs sources one after another.
	Concurrency int `mapstructure:"concurrency"`
}

// SourceConfig overrides a single source.
type SourceConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BaseURL   string `mapstructure:"base_url"`
	RateLimit int    `mapstructure:"rate_limit"`
}

// Source returns the named source config. Unknown names are enabled with no
// overrides.
func (c *Config) Source(name string) SourceConfig {
	if c != nil {
		if sc, ok := c.Sources[name]; ok {
			return sc
		}
	}
	return SourceConfig{Enabled: true}
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}
