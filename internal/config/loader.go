// Package config provides centralized configuration management for rpcfleet.
// Defaults are registered on a viper instance, a YAML file and RPCFLEET_*
// environment variables override them, and the merged settings are decoded
// into Config with mapstructure.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the config, data and cache directories.
	AppName = "rpcfleet"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "RPCFLEET"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// envAliases are short environment names kept alongside the automatic
// RPCFLEET_<SECTION>_<KEY> mapping.
var envAliases = map[string]string{
	"pool.endpoint_urls": EnvPrefix + "_ENDPOINTS",
	"pool.fallback_url":  EnvPrefix + "_FALLBACK_URL",
	"server.host":        EnvPrefix + "_HOST",
	"server.port":        EnvPrefix + "_PORT",
	"logging.level":      EnvPrefix + "_LOG_LEVEL",
	"store.path":         EnvPrefix + "_DB_PATH",
	"store.url":          EnvPrefix + "_DB_URL",
	"store.auth_token":   EnvPrefix + "_DB_AUTH_TOKEN",
	"server.admin_token": EnvPrefix + "_ADMIN_TOKEN",
}

// SetDefaults registers built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	// Pool defaults
	v.SetDefault("pool.endpoints", []map[string]any{})
	v.SetDefault("pool.endpoint_urls", []string{})
	v.SetDefault("pool.max_concurrent_per_endpoint", 10)
	v.SetDefault("pool.unhealthy_failure_threshold", 100)
	v.SetDefault("pool.backoff_base", "2s")
	v.SetDefault("pool.cooldown", "60s")
	v.SetDefault("pool.min_request_spacing", "0s")
	v.SetDefault("pool.recovery_policy", "decrement")
	v.SetDefault("pool.fallback_url", "")
	v.SetDefault("pool.probe_method", "getHealth")
	v.SetDefault("pool.probe_timeout", "5s")

	// Router defaults
	v.SetDefault("router.timeout", "15s")
	v.SetDefault("router.max_retries", 3)
	v.SetDefault("router.backoff_base", "500ms")

	// Cache defaults
	v.SetDefault("cache.driver", CacheDriverFS)
	v.SetDefault("cache.dir", DefaultCacheDir())
	v.SetDefault("cache.memory_capacity", 10000)
	v.SetDefault("cache.freshness", "0s")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.admin_token", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
}

// BindEnv wires RPCFLEET_* environment variables into v.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envAliases {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

// Load decodes the merged settings of v into a validated Config and makes
// it the current configuration.
func Load(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v.AllSettings())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	setConfig(cfg)
	return cfg, nil
}

// Decode converts a settings map into Config without validating it.
func Decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	if strings.TrimSpace(cfg.Cache.Dir) == "" {
		cfg.Cache.Dir = DefaultCacheDir()
	}

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

// DefaultConfigDir returns the XDG-compliant config directory for the app.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := DefaultConfigDir()
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultCacheDir returns the directory for the file-backed result cache.
func DefaultCacheDir() string {
	cacheDir := gfconfig.GetAppCacheDir(AppName)
	if strings.TrimSpace(cacheDir) == "" {
		return filepath.Join(".", "."+AppName, "cache")
	}
	return filepath.Join(cacheDir, "results")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
