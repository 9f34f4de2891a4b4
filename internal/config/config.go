package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

// Config represents the complete application configuration. Values are
// layered as built-in defaults, then the YAML config file, then RPCFLEET_*
// environment variables and flags.
type Config struct {
	Pool    PoolConfig    `mapstructure:"pool" yaml:"pool"`
	Router  RouterConfig  `mapstructure:"router" yaml:"router"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// PoolConfig describes the endpoint pool and its health policy.
type PoolConfig struct {
	Endpoints []EndpointConfig `mapstructure:"endpoints" yaml:"endpoints"`
	// EndpointURLs is the flat form used by RPCFLEET_ENDPOINTS. It is only
	// consulted when Endpoints is empty.
	EndpointURLs []string `mapstructure:"endpoint_urls" yaml:"endpoint_urls,omitempty"`

	MaxConcurrentPerEndpoint  int           `mapstructure:"max_concurrent_per_endpoint" yaml:"max_concurrent_per_endpoint"`
	UnhealthyFailureThreshold int           `mapstructure:"unhealthy_failure_threshold" yaml:"unhealthy_failure_threshold"`
	BackoffBase               time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	Cooldown                  time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	MinRequestSpacing         time.Duration `mapstructure:"min_request_spacing" yaml:"min_request_spacing"`
	RecoveryPolicy            string        `mapstructure:"recovery_policy" yaml:"recovery_policy"`
	FallbackURL               string        `mapstructure:"fallback_url" yaml:"fallback_url"`
	ProbeMethod               string        `mapstructure:"probe_method" yaml:"probe_method"`
	ProbeTimeout              time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// EndpointConfig is one pool member. Omitted fields inherit the pool
// defaults; an explicit cooldown of 0 disables the cooldown for this member.
type EndpointConfig struct {
	URL           string         `mapstructure:"url" yaml:"url"`
	WSURL         string         `mapstructure:"ws_url" yaml:"ws_url,omitempty"`
	MaxConcurrent int            `mapstructure:"max_concurrent" yaml:"max_concurrent,omitempty"`
	Cooldown      *time.Duration `mapstructure:"cooldown" yaml:"cooldown,omitempty"`
	BackoffBase   *time.Duration `mapstructure:"backoff_base" yaml:"backoff_base,omitempty"`
}

// RouterConfig holds the per-call retry defaults.
type RouterConfig struct {
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
}

// CacheConfig selects and sizes the result cache tiers.
type CacheConfig struct {
	// Driver is "fs" (one file per key under Dir), "leveldb" (a database
	// under Dir) or "libsql" (Store).
	Driver         string        `mapstructure:"driver" yaml:"driver"`
	Dir            string        `mapstructure:"dir" yaml:"dir"`
	MemoryCapacity int           `mapstructure:"memory_capacity" yaml:"memory_capacity"`
	Freshness      time.Duration `mapstructure:"freshness" yaml:"freshness"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	URL       string `mapstructure:"url" yaml:"url,omitempty"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token,omitempty"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// AdminToken enables POST /admin/signal when set.
	AdminToken string `mapstructure:"admin_token" yaml:"-"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

const (
	CacheDriverFS      = "fs"
	CacheDriverLevelDB = "leveldb"
	CacheDriverLibsql  = "libsql"
)

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	endpoints := c.Pool.resolvedEndpoints()
	if len(endpoints) == 0 {
		return errors.New("pool.endpoints: at least one endpoint url is required")
	}
	for i, ep := range endpoints {
		if err := validateURL(ep.URL); err != nil {
			return fmt.Errorf("pool.endpoints[%d].url: %w", i, err)
		}
		if ep.MaxConcurrent < 0 {
			return fmt.Errorf("pool.endpoints[%d].max_concurrent must not be negative", i)
		}
		if ep.Cooldown != nil && *ep.Cooldown < 0 {
			return fmt.Errorf("pool.endpoints[%d].cooldown must not be negative", i)
		}
		if ep.BackoffBase != nil && *ep.BackoffBase <= 0 {
			return fmt.Errorf("pool.endpoints[%d].backoff_base must be positive; omit it to inherit pool.backoff_base", i)
		}
	}
	if c.Pool.FallbackURL != "" {
		if err := validateURL(c.Pool.FallbackURL); err != nil {
			return fmt.Errorf("pool.fallback_url: %w", err)
		}
	}

	switch {
	case c.Pool.MaxConcurrentPerEndpoint < 1:
		return errors.New("pool.max_concurrent_per_endpoint must be at least 1")
	case c.Pool.UnhealthyFailureThreshold < 1:
		return errors.New("pool.unhealthy_failure_threshold must be at least 1")
	case c.Pool.BackoffBase < 0, c.Pool.Cooldown < 0, c.Pool.MinRequestSpacing < 0:
		return errors.New("pool durations must not be negative")
	case c.Router.MaxRetries < 1:
		return errors.New("router.max_retries must be at least 1")
	case c.Router.Timeout <= 0:
		return errors.New("router.timeout must be positive")
	case c.Cache.MemoryCapacity < 0:
		return errors.New("cache.memory_capacity must not be negative")
	}

	switch core.RecoveryPolicy(strings.ToLower(c.Pool.RecoveryPolicy)) {
	case core.RecoveryDecrement, core.RecoveryReset, "":
	default:
		return fmt.Errorf("pool.recovery_policy: unknown policy %q", c.Pool.RecoveryPolicy)
	}

	switch strings.ToLower(c.Cache.Driver) {
	case CacheDriverFS, CacheDriverLevelDB, "":
	case CacheDriverLibsql:
		if strings.TrimSpace(c.Store.Path) == "" && strings.TrimSpace(c.Store.URL) == "" {
			return errors.New("cache.driver libsql needs store.path or store.url")
		}
	default:
		return fmt.Errorf("cache.driver: unknown driver %q", c.Cache.Driver)
	}

	return nil
}

// Endpoints converts the pool section into registry endpoints, filling
// per-endpoint gaps from the pool defaults.
func (c *Config) Endpoints() []core.Endpoint {
	resolved := c.Pool.resolvedEndpoints()
	out := make([]core.Endpoint, 0, len(resolved))
	for _, ep := range resolved {
		e := core.Endpoint{
			URL:           strings.TrimSpace(ep.URL),
			WSURL:         strings.TrimSpace(ep.WSURL),
			MaxConcurrent: ep.MaxConcurrent,
			Cooldown:      c.Pool.Cooldown,
			BackoffBase:   c.Pool.BackoffBase,
		}
		if e.MaxConcurrent <= 0 {
			e.MaxConcurrent = c.Pool.MaxConcurrentPerEndpoint
		}
		if ep.Cooldown != nil {
			e.Cooldown = *ep.Cooldown
		}
		if ep.BackoffBase != nil {
			e.BackoffBase = *ep.BackoffBase
		}
		out = append(out, e)
	}
	return out
}

// Fallback returns the fallback endpoint, if configured.
func (c *Config) Fallback() (core.Endpoint, bool) {
	u := strings.TrimSpace(c.Pool.FallbackURL)
	if u == "" {
		return core.Endpoint{}, false
	}
	return core.Endpoint{
		URL:           u,
		MaxConcurrent: c.Pool.MaxConcurrentPerEndpoint,
		Cooldown:      c.Pool.Cooldown,
		BackoffBase:   c.Pool.BackoffBase,
	}, true
}

// Recovery returns the configured recovery policy.
func (c *Config) Recovery() core.RecoveryPolicy {
	if p := core.RecoveryPolicy(strings.ToLower(strings.TrimSpace(c.Pool.RecoveryPolicy))); p != "" {
		return p
	}
	return core.RecoveryDecrement
}

func (p PoolConfig) resolvedEndpoints() []EndpointConfig {
	if len(p.Endpoints) > 0 {
		return p.Endpoints
	}
	out := make([]EndpointConfig, 0, len(p.EndpointURLs))
	for _, raw := range p.EndpointURLs {
		if u := strings.TrimSpace(raw); u != "" {
			out = append(out, EndpointConfig{URL: u})
		}
	}
	return out
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
