package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	require.NoError(t, BindEnv(v))
	return v
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Decode(newViper(t).AllSettings())
		require.NoError(t, err)

		// Pool defaults
		assert.Empty(t, cfg.Pool.Endpoints)
		assert.Equal(t, 10, cfg.Pool.MaxConcurrentPerEndpoint)
		assert.Equal(t, 100, cfg.Pool.UnhealthyFailureThreshold)
		assert.Equal(t, 2*time.Second, cfg.Pool.BackoffBase)
		assert.Equal(t, time.Minute, cfg.Pool.Cooldown)
		assert.Equal(t, time.Duration(0), cfg.Pool.MinRequestSpacing)
		assert.Equal(t, "decrement", cfg.Pool.RecoveryPolicy)
		assert.Equal(t, "getHealth", cfg.Pool.ProbeMethod)
		assert.Equal(t, 5*time.Second, cfg.Pool.ProbeTimeout)

		// Router defaults
		assert.Equal(t, 15*time.Second, cfg.Router.Timeout)
		assert.Equal(t, 3, cfg.Router.MaxRetries)
		assert.Equal(t, 500*time.Millisecond, cfg.Router.BackoffBase)

		// Cache and store defaults
		assert.Equal(t, CacheDriverFS, cfg.Cache.Driver)
		assert.NotEmpty(t, cfg.Cache.Dir)
		assert.Equal(t, 10000, cfg.Cache.MemoryCapacity)
		assert.Equal(t, "libsql", cfg.Store.Driver)
		assert.NotEmpty(t, cfg.Store.Path)

		// Server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.True(t, cfg.Metrics.Enabled)

		require.Error(t, cfg.Validate(), "defaults carry no endpoints")
	})

	t.Run("ConfigFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
pool:
  endpoints:
    - url: https://rpc-a.example
      ws_url: wss://rpc-a.example/ws
      max_concurrent: 4
      cooldown: 30s
    - url: https://rpc-b.example
  unhealthy_failure_threshold: 50
  backoff_base: 1s
  recovery_policy: reset
  fallback_url: https://public.example
router:
  max_retries: 5
cache:
  freshness: 10m
`), 0o600))

		v := newViper(t)
		v.SetConfigFile(path)
		require.NoError(t, v.ReadInConfig())

		cfg, err := Load(v)
		require.NoError(t, err)
		require.Same(t, cfg, GetConfig())

		require.Len(t, cfg.Pool.Endpoints, 2)
		assert.Equal(t, "wss://rpc-a.example/ws", cfg.Pool.Endpoints[0].WSURL)
		require.NotNil(t, cfg.Pool.Endpoints[0].Cooldown)
		assert.Equal(t, 30*time.Second, *cfg.Pool.Endpoints[0].Cooldown)
		assert.Nil(t, cfg.Pool.Endpoints[1].Cooldown)
		assert.Equal(t, 50, cfg.Pool.UnhealthyFailureThreshold)
		assert.Equal(t, 5, cfg.Router.MaxRetries)
		assert.Equal(t, 10*time.Minute, cfg.Cache.Freshness)
		assert.Equal(t, core.RecoveryReset, cfg.Recovery())

		endpoints := cfg.Endpoints()
		require.Len(t, endpoints, 2)
		assert.Equal(t, core.Endpoint{
			URL:           "https://rpc-a.example",
			WSURL:         "wss://rpc-a.example/ws",
			MaxConcurrent: 4,
			Cooldown:      30 * time.Second,
			BackoffBase:   time.Second,
		}, endpoints[0])
		assert.Equal(t, 10, endpoints[1].MaxConcurrent)
		assert.Equal(t, time.Minute, endpoints[1].Cooldown)

		fb, ok := cfg.Fallback()
		require.True(t, ok)
		assert.Equal(t, "https://public.example", fb.URL)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("RPCFLEET_ENDPOINTS", "https://rpc-a.example, https://rpc-b.example")
		t.Setenv("RPCFLEET_POOL_UNHEALTHY_FAILURE_THRESHOLD", "7")
		t.Setenv("RPCFLEET_ROUTER_TIMEOUT", "2s")
		t.Setenv("RPCFLEET_LOG_LEVEL", "debug")
		t.Setenv("RPCFLEET_PORT", "9000")
		t.Setenv("RPCFLEET_METRICS_ENABLED", "false")

		cfg, err := Load(newViper(t))
		require.NoError(t, err)

		endpoints := cfg.Endpoints()
		require.Len(t, endpoints, 2)
		assert.Equal(t, "https://rpc-b.example", endpoints[1].URL)
		assert.Equal(t, 7, cfg.Pool.UnhealthyFailureThreshold)
		assert.Equal(t, 2*time.Second, cfg.Router.Timeout)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.False(t, cfg.Metrics.Enabled)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Decode(newViper(t).AllSettings())
		require.NoError(t, err)
		cfg.Pool.Endpoints = []EndpointConfig{{URL: "https://rpc.example"}}
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"BadScheme", func(c *Config) { c.Pool.Endpoints[0].URL = "ftp://rpc.example" }},
		{"MissingHost", func(c *Config) { c.Pool.Endpoints[0].URL = "https://" }},
		{"ZeroThreshold", func(c *Config) { c.Pool.UnhealthyFailureThreshold = 0 }},
		{"ZeroConcurrency", func(c *Config) { c.Pool.MaxConcurrentPerEndpoint = 0 }},
		{"UnknownPolicy", func(c *Config) { c.Pool.RecoveryPolicy = "forgive" }},
		{"ZeroRetries", func(c *Config) { c.Router.MaxRetries = 0 }},
		{"UnknownCacheDriver", func(c *Config) { c.Cache.Driver = "redis" }},
		{"BadFallback", func(c *Config) { c.Pool.FallbackURL = "not a url" }},
		{"NegativeEndpointCooldown", func(c *Config) {
			d := -time.Second
			c.Pool.Endpoints[0].Cooldown = &d
		}},
		{"ZeroEndpointBackoffBase", func(c *Config) {
			var d time.Duration
			c.Pool.Endpoints[0].BackoffBase = &d
		}},
		{"LibsqlWithoutStore", func(c *Config) {
			c.Cache.Driver = CacheDriverLibsql
			c.Store.Path = ""
			c.Store.URL = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestEndpointZeroCooldownOverridesPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  cooldown: 1m
  backoff_base: 2s
  endpoints:
    - url: https://rpc-a.example
      cooldown: 0s
      backoff_base: 250ms
    - url: https://rpc-b.example
`), 0o600))

	v := newViper(t)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	endpoints := cfg.Endpoints()
	require.Len(t, endpoints, 2)
	assert.Zero(t, endpoints[0].Cooldown)
	assert.Equal(t, 250*time.Millisecond, endpoints[0].BackoffBase)
	assert.Equal(t, time.Minute, endpoints[1].Cooldown)
	assert.Equal(t, 2*time.Second, endpoints[1].BackoffBase)
}
