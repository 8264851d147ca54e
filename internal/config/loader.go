// Package config provides centralized configuration management for sourcetap.
// Values are layered with viper:
// Layer 1: built-in defaults
// Layer 2: sourcetap.yaml (current directory, XDG config dir, or --config)
// Layer 3: SOURCETAP_* environment variables
// Layer 4: runtime overrides such as CLI flags
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName is used for config, data, and cache directory discovery.
	AppName = "sourcetap"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SOURCETAP"
)

var (
	// appConfig holds the current application configuration
	appConfig  *Config
	configMu   sync.RWMutex
	configFile string
)

// knownSources get per-source defaults so their keys are visible to
// environment lookups.
var knownSources = []string{"usgs", "world_bank", "open_meteo"}

// EnvBinding maps a config key to the environment variables that can set it.
// The first name is the canonical SOURCETAP_SECTION_KEY form; the rest are
// short aliases.
type EnvBinding struct {
	Key   string
	Names []string
}

// SetConfigFile pins Load to an explicit file. An empty path restores
// discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// Load builds the configuration from defaults, the config file, environment
// variables, and runtime overrides, in increasing precedence.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir := gfconfig.GetAppConfigDir(AppName); strings.TrimSpace(dir) != "" {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, binding := range getEnvBindings() {
		args := append([]string{binding.Key}, binding.Names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", binding.Key, err)
		}
	}

	merged := v.AllSettings()
	for _, override := range runtimeOverrides {
		mergeSettings(merged, override)
	}

	// Unmarshal into typed config struct
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	// Store the loaded config
	setConfig(cfg)

	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.auth.jwt_secret", "")
	v.SetDefault("server.auth.issuer", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Cache defaults
	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", AppName)

	// Request engine defaults
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.max_elapsed", "0s")
	v.SetDefault("http.user_agent_prefix", AppName)

	v.SetDefault("collector.concurrency", 1)

	for _, name := range knownSources {
		v.SetDefault("sources."+name+".enabled", true)
		v.SetDefault("sources."+name+".base_url", "")
		v.SetDefault("sources."+name+".rate_limit", 0)
	}

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}

// getEnvBindings returns the short-form environment aliases. Every key is
// also reachable as SOURCETAP_<SECTION>_<KEY> through AutomaticEnv.
func getEnvBindings() []EnvBinding {
	p := EnvPrefix + "_"
	return []EnvBinding{
		{Key: "server.host", Names: []string{p + "SERVER_HOST", p + "HOST"}},
		{Key: "server.port", Names: []string{p + "SERVER_PORT", p + "PORT"}},
		{Key: "server.shutdown_timeout", Names: []string{p + "SERVER_SHUTDOWN_TIMEOUT", p + "SHUTDOWN_TIMEOUT"}},
		{Key: "server.auth.jwt_secret", Names: []string{p + "SERVER_AUTH_JWT_SECRET", p + "JWT_SECRET"}},
		{Key: "logging.level", Names: []string{p + "LOGGING_LEVEL", p + "LOG_LEVEL"}},
		{Key: "store.driver", Names: []string{p + "STORE_DRIVER", p + "DB_DRIVER"}},
		{Key: "store.path", Names: []string{p + "STORE_PATH", p + "DB_PATH"}},
		{Key: "store.url", Names: []string{p + "STORE_URL", p + "DB_URL"}},
		{Key: "store.auth_token", Names: []string{p + "STORE_AUTH_TOKEN", p + "DB_AUTH_TOKEN"}},
		{Key: "cache.redis.addr", Names: []string{p + "CACHE_REDIS_ADDR", p + "REDIS_ADDR"}},
		{Key: "cache.redis.password", Names: []string{p + "CACHE_REDIS_PASSWORD", p + "REDIS_PASSWORD"}},
		{Key: "collector.concurrency", Names: []string{p + "COLLECTOR_CONCURRENCY", p + "WORKERS"}},
		{Key: "metrics.enabled", Names: []string{p + "METRICS_ENABLED"}},
		{Key: "metrics.port", Names: []string{p + "METRICS_PORT"}},
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Cache.Backend)) {
	case CacheBackendMemory, CacheBackendRedis, CacheBackendStore:
		cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	default:
		return fmt.Errorf("invalid cache backend %q (expected memory, redis, or store)", cfg.Cache.Backend)
	}
	if cfg.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0, got %d", cfg.HTTP.MaxRetries)
	}
	for name, sc := range cfg.Sources {
		if sc.RateLimit < 0 {
			return fmt.Errorf("sources.%s.rate_limit must be >= 0, got %d", name, sc.RateLimit)
		}
	}
	return nil
}

// mergeSettings deep-merges src into dst. Keys are lowercased to match viper.
func mergeSettings(dst, src map[string]any) {
	for key, value := range src {
		key = strings.ToLower(key)
		if nested, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				mergeSettings(existing, nested)
				continue
			}
			copied := make(map[string]any, len(nested))
			mergeSettings(copied, nested)
			dst[key] = copied
			continue
		}
		dst[key] = value
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, AppName+".yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
