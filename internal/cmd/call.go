package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpcfleet/rpcfleet/internal/core"
	"github.com/rpcfleet/rpcfleet/internal/core/cache"
	"github.com/rpcfleet/rpcfleet/internal/core/pool"
	"github.com/rpcfleet/rpcfleet/internal/observability"
)

var (
	callParams    string
	callNamespace string
	callKey       string
	callFresh     time.Duration
	callRefresh   bool
	callFallback  bool
	callTimeout   time.Duration
	callRetries   int
)

var callCmd = &cobra.Command{
	Use:   "call <method>",
	Short: "Send one JSON-RPC call through the pool",
	Long: `Send one JSON-RPC call through the endpoint pool with retries.

With --namespace and --key the result goes through the two-tier cache:
a cached value younger than --fresh is returned without a network call.`,
	Example: `  rpcfleet call getSlot
  rpcfleet call getBalance --params '["Addr111"]' --namespace balances --key Addr111-24h --fresh 5m`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		method := strings.TrimSpace(args[0])
		if method == "" {
			return fmt.Errorf("method is required")
		}
		params, err := parseParams(callParams)
		if err != nil {
			return err
		}
		if (callNamespace == "") != (callKey == "") {
			return fmt.Errorf("--namespace and --key must be used together")
		}

		f, err := fleetFromConfig(ctx)
		if err != nil {
			return err
		}
		defer f.Close()

		opts := pool.ExecuteOptions{
			Timeout:     callTimeout,
			MaxRetries:  callRetries,
			UseFallback: callFallback,
		}
		fetch := func(ctx context.Context) (json.RawMessage, error) {
			return pool.Execute(ctx, f.router, opts, func(ctx context.Context, ep core.Endpoint) (json.RawMessage, error) {
				return f.client.Call(ctx, ep, method, params)
			})
		}

		var result json.RawMessage
		if callNamespace != "" {
			freshness := callFresh
			if !cmd.Flags().Changed("fresh") {
				freshness = f.cfg.Cache.Freshness
			}
			result, err = f.cache.GetOrFetch(ctx, callNamespace, callKey, cache.Options{
				FreshnessWindow: freshness,
				ForceRefresh:    callRefresh,
			}, fetch)
		} else {
			result, err = fetch(ctx)
		}
		if err != nil {
			return err
		}

		stats := f.cache.Stats()
		observability.CLILogger.Debug("call complete",
			zap.String("method", method),
			zap.Uint64("cache_hits", stats.MemoryHits+stats.DurableHits),
			zap.Uint64("cache_misses", stats.Misses))

		return writeJSONResult(cmd, result)
	},
}

// parseParams accepts a JSON array or object; empty means no params.
func parseParams(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var params any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("--params must be JSON: %w", err)
	}
	switch params.(type) {
	case []any, map[string]any:
		return params, nil
	default:
		return nil, fmt.Errorf("--params must be a JSON array or object")
	}
}

func writeJSONResult(cmd *cobra.Command, result json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		buf.Reset()
		buf.Write(result)
	}
	buf.WriteByte('\n')
	_, err := cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVar(&callParams, "params", "", "JSON-RPC params as a JSON array or object")
	callCmd.Flags().StringVar(&callNamespace, "namespace", "", "cache namespace")
	callCmd.Flags().StringVar(&callKey, "key", "", "cache key")
	callCmd.Flags().DurationVar(&callFresh, "fresh", 0, "maximum age of a cached result (default cache.freshness)")
	callCmd.Flags().BoolVar(&callRefresh, "refresh", false, "skip cached values and refetch")
	callCmd.Flags().BoolVar(&callFallback, "fallback", false, "try the fallback endpoint after the pool is exhausted")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "per-attempt timeout (default router.timeout)")
	callCmd.Flags().IntVar(&callRetries, "retries", 0, "maximum attempts (default router.max_retries)")
}
