package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rpcfleet/rpcfleet/internal/config"
	errwrap "github.com/rpcfleet/rpcfleet/internal/errors"
	"github.com/rpcfleet/rpcfleet/internal/metrics"
	"github.com/rpcfleet/rpcfleet/internal/observability"
	"github.com/rpcfleet/rpcfleet/internal/server"
	"github.com/rpcfleet/rpcfleet/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pool diagnostics server",
	Long: `Run the HTTP server exposing pool health, cache counters and Prometheus
metrics.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload config and apply the log level`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, config.AppName)
		logger := observability.ServerLogger

		f, err := buildFleet(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		opts := []server.Option{
			server.WithPool(f.registry, cfg.Pool.ProbeTimeout),
			server.WithCache(f.cache),
			server.WithTimeouts(cfg.Server),
			server.WithHealthChecker("cache_store", handlers.CheckFunc(f.durableHealth)),
			server.WithAdminToken(cfg.Server.AdminToken),
		}
		if cfg.Metrics.Enabled {
			reg := observability.InitMetrics()
			if err := metrics.Register(reg); err != nil {
				f.Close()
				return errwrap.WrapInternal(cmd.Context(), err, "metrics registration failed")
			}
			if err := reg.Register(metrics.NewPoolCollector(f.registry)); err != nil {
				logger.Warn("Pool collector not registered", zap.Error(err))
			}
			if err := reg.Register(metrics.NewCacheCollector(f.cache)); err != nil {
				logger.Warn("Cache collector not registered", zap.Error(err))
			}
			metrics.SetServerStartTime(time.Now().Unix())
			opts = append(opts, server.WithMetrics(reg))
		}

		logger.Info("Initializing server",
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("endpoints", f.registry.Len()),
			zap.String("cache_driver", cfg.Cache.Driver),
			zap.Bool("metrics", cfg.Metrics.Enabled))

		srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		done := make(chan struct{})

		// Shutdown handlers run LIFO: server first, then the durable
		// tier, then log flushing.
		signals.OnShutdown(func(ctx context.Context) error {
			defer close(done)
			logger.Info("Flushing logger...")
			observability.SyncComponents()
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			f.Close()
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			return reloadConfig(ctx)
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 2)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		select {
		case err := <-errChan:
			f.Close()
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		case <-done:
			return nil
		}
	},
}

// reloadConfig re-reads the config file and applies settings that can
// change without a restart. Pool membership needs a restart.
func reloadConfig(ctx context.Context) error {
	logger := observability.ServerLogger
	logger.Info("Received SIGHUP: reloading configuration")

	v := viper.GetViper()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logger.Error("Failed to reload config file",
				zap.String("file", v.ConfigFileUsed()),
				zap.Error(err))
			return errwrap.Wrap(ctx, errwrap.CodeConfigInvalid, err, "config reload failed")
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		logger.Error("Reloaded configuration is invalid; keeping current settings", zap.Error(err))
		return errwrap.Wrap(ctx, errwrap.CodeConfigInvalid, err, "config reload failed")
	}

	observability.SetComponentLevel(cfg.Logging.Level)
	logger.Info("Configuration reloaded",
		zap.String("file", v.ConfigFileUsed()),
		zap.String("component_level", observability.ComponentLevel()))
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
