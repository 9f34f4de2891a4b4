package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpcfleet/rpcfleet/internal/core/pool"
	"github.com/rpcfleet/rpcfleet/internal/metrics"
)

var (
	poolProbeTimeout time.Duration
	poolProbeIndex   int
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect the endpoint pool",
}

var poolStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configured endpoints and their health",
	Long: `Show every configured endpoint with its health counters.

A fresh process has no traffic history, so status alone reports every
endpoint healthy. Use --probe to run one liveness call per endpoint first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := fleetFromConfig(cmd.Context())
		if err != nil {
			return err
		}
		defer f.Close()

		fm, err := formatter()
		if err != nil {
			return err
		}

		if probe, _ := cmd.Flags().GetBool("probe"); probe {
			f.registry.ProbeAll(cmd.Context(), probeTimeout(cmd, f.cfg.Pool.ProbeTimeout))
		}

		out, err := fm.FormatPool(metrics.Take(f.registry, f.cache, time.Now()))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
		return err
	},
}

var poolProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run a liveness call against endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := fleetFromConfig(cmd.Context())
		if err != nil {
			return err
		}
		defer f.Close()

		fm, err := formatter()
		if err != nil {
			return err
		}

		timeout := probeTimeout(cmd, f.cfg.Pool.ProbeTimeout)
		var results []pool.ProbeResult
		if cmd.Flags().Changed("index") {
			ref := pool.Ref(poolProbeIndex)
			ep, err := f.registry.Endpoint(ref)
			if err != nil {
				return err
			}
			start := time.Now()
			ok := f.registry.Probe(cmd.Context(), ref, timeout)
			res := pool.ProbeResult{Index: poolProbeIndex, URL: ep.URL, OK: ok, Latency: time.Since(start)}
			if !ok {
				res.Error = "probe failed"
			}
			results = []pool.ProbeResult{res}
		} else {
			results = f.registry.ProbeAll(cmd.Context(), timeout)
		}

		out, err := fm.FormatProbes(results)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), out); err != nil {
			return err
		}

		for _, r := range results {
			if r.OK {
				return nil
			}
		}
		return pool.ErrNoHealthyEndpoint
	},
}

func probeTimeout(cmd *cobra.Command, configured time.Duration) time.Duration {
	if cmd.Flags().Changed("timeout") {
		return poolProbeTimeout
	}
	return configured
}

func init() {
	rootCmd.AddCommand(poolCmd)
	poolCmd.AddCommand(poolStatusCmd)
	poolCmd.AddCommand(poolProbeCmd)

	poolStatusCmd.Flags().Bool("probe", false, "probe every endpoint before reporting")
	poolStatusCmd.Flags().DurationVar(&poolProbeTimeout, "timeout", 0, "probe timeout (default pool.probe_timeout)")

	poolProbeCmd.Flags().IntVar(&poolProbeIndex, "index", 0, "probe only the endpoint at this index")
	poolProbeCmd.Flags().DurationVar(&poolProbeTimeout, "timeout", 0, "probe timeout (default pool.probe_timeout)")
}
