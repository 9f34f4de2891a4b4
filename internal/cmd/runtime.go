package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rpcfleet/rpcfleet/internal/config"
	"github.com/rpcfleet/rpcfleet/internal/core/cache"
	"github.com/rpcfleet/rpcfleet/internal/core/pool"
	"github.com/rpcfleet/rpcfleet/internal/core/store"
	"github.com/rpcfleet/rpcfleet/internal/observability"
	"github.com/rpcfleet/rpcfleet/internal/rpc"
)

// fleet is the wired set of runtime components shared by the commands.
type fleet struct {
	cfg      *config.Config
	client   *rpc.Client
	registry *pool.Registry
	router   *pool.Router
	cache    *cache.Cache

	// durableHealth is the readiness check of the durable cache tier.
	durableHealth func(ctx context.Context) error
	closers       []func() error
}

// buildFleet wires the registry, router, RPC client and cache from cfg.
func buildFleet(ctx context.Context, cfg *config.Config) (*fleet, error) {
	f := &fleet{cfg: cfg}

	f.client = rpc.NewClient(&http.Client{Timeout: cfg.Router.Timeout}, config.AppName+"/"+versionInfo.Version)
	if m := strings.TrimSpace(cfg.Pool.ProbeMethod); m != "" {
		f.client.ProbeMethod = m
	}

	registry, err := pool.NewRegistry(cfg.Endpoints(),
		pool.WithUnhealthyThreshold(cfg.Pool.UnhealthyFailureThreshold),
		pool.WithRecoveryPolicy(cfg.Recovery()),
		pool.WithProbe(f.client.Probe),
		pool.WithLogger(observability.Component("pool")),
	)
	if err != nil {
		return nil, &configError{err: fmt.Errorf("build pool: %w", err)}
	}
	f.registry = registry

	routerOpts := []pool.RouterOption{
		pool.WithDefaults(pool.ExecuteOptions{
			Timeout:     cfg.Router.Timeout,
			MaxRetries:  cfg.Router.MaxRetries,
			BackoffBase: cfg.Router.BackoffBase,
		}),
		pool.WithRouterLogger(observability.Component("router")),
	}
	if cfg.Pool.MinRequestSpacing > 0 {
		routerOpts = append(routerOpts, pool.WithThrottle(pool.NewThrottle(cfg.Pool.MinRequestSpacing)))
	}
	if fb, ok := cfg.Fallback(); ok {
		routerOpts = append(routerOpts, pool.WithFallback(fb))
	}
	f.router = pool.NewRouter(registry, routerOpts...)

	durable, err := f.openDurable(ctx)
	if err != nil {
		f.Close()
		return nil, err
	}

	cacheOpts := []cache.Option{
		cache.WithDurable(durable),
		cache.WithLogger(observability.Component("cache")),
	}
	if cfg.Cache.MemoryCapacity > 0 {
		cacheOpts = append(cacheOpts, cache.WithMemoryCapacity(uint64(cfg.Cache.MemoryCapacity)))
	}
	f.cache = cache.New(cacheOpts...)

	return f, nil
}

func (f *fleet) openDurable(ctx context.Context) (cache.Durable, error) {
	switch strings.ToLower(strings.TrimSpace(f.cfg.Cache.Driver)) {
	case config.CacheDriverLibsql:
		db, err := openStore(ctx, f.cfg.Store)
		if err != nil {
			return nil, err
		}
		f.closers = append(f.closers, db.Close)
		f.durableHealth = db.CheckHealth
		return db, nil
	case config.CacheDriverLevelDB:
		ldb, err := store.OpenLevelDB(f.cfg.Cache.Dir, observability.Component("store"))
		if err != nil {
			return nil, err
		}
		f.closers = append(f.closers, ldb.Close)
		f.durableHealth = ldb.CheckHealth
		return ldb, nil
	default:
		fs, err := store.NewFS(f.cfg.Cache.Dir, store.WithFSLogger(observability.Component("store")))
		if err != nil {
			return nil, err
		}
		f.durableHealth = fs.CheckHealth
		return fs, nil
	}
}

// Close releases the durable tier.
func (f *fleet) Close() {
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i](); err != nil {
			observability.Component("store").Warn("close failed", zap.Error(err))
		}
	}
	f.closers = nil
}

// fleetFromConfig loads the configuration and builds a fleet.
func fleetFromConfig(ctx context.Context) (*fleet, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildFleet(ctx, cfg)
}
