package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/rpcfleet/rpcfleet/internal/core"
	"github.com/rpcfleet/rpcfleet/internal/core/pool"
	"github.com/rpcfleet/rpcfleet/internal/metrics"
)

// TableFormatter renders results as an ASCII table, or as a Markdown table
// when Markdown is set.
type TableFormatter struct {
	Markdown bool
}

// FormatPool renders one row per endpoint plus a cache summary.
func (f *TableFormatter) FormatPool(snap metrics.Snapshot) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"#", "Endpoint", "Status", "In flight", "Processed", "Failures", "Latency", "Errors (429/402/timeout/other)", "Backoff until"})

	for _, ep := range snap.Endpoints {
		t.AppendRow(table.Row{
			ep.Index,
			ep.URL,
			healthLabel(ep),
			fmt.Sprintf("%d/%d", ep.CurrentConcurrent, ep.MaxConcurrent),
			ep.ProcessedCount,
			ep.Failures,
			latencyLabel(ep.AvgLatencyMs),
			fmt.Sprintf("%d/%d/%d/%d", ep.ErrorCounts.RateLimited, ep.ErrorCounts.PaymentRequired, ep.ErrorCounts.Timeout, ep.ErrorCounts.Other),
			backoffLabel(ep.BackoffUntil, snap.GeneratedAt),
		})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d healthy", snap.Healthy, snap.Total), "", "", "", "", "", ""})

	rendered := f.render(t)
	if c := snap.Cache; c != nil {
		rendered += fmt.Sprintf("\n\nCache: %d memory hits, %d durable hits, %d misses, %d coalesced, %d fetch errors, %d in flight, %d entries in memory",
			c.MemoryHits, c.DurableHits, c.Misses, c.Coalesced, c.FetchErrors, c.InFlight, c.MemoryEntries)
	}
	return rendered, nil
}

// FormatProbes renders one row per probed endpoint.
func (f *TableFormatter) FormatProbes(results []pool.ProbeResult) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"#", "Endpoint", "Result", "Latency", "Error"})

	ok := 0
	for _, r := range results {
		result := "fail"
		if r.OK {
			result = "ok"
			ok++
		}
		t.AppendRow(table.Row{r.Index, r.URL, result, r.Latency.Round(time.Millisecond).String(), r.Error})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d ok", ok, len(results)), "", ""})
	return f.render(t), nil
}

// FormatEntries renders durable cache entries without their payloads.
func (f *TableFormatter) FormatEntries(entries []core.CacheEntry) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"Namespace", "Key", "Saved at", "Size"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.Namespace, e.Key, e.SavedAt.UTC().Format(time.RFC3339), fmt.Sprintf("%d B", len(e.Data))})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d entries", len(entries))})
	return f.render(t), nil
}

func (f *TableFormatter) newWriter() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	return t
}

func (f *TableFormatter) render(t table.Writer) string {
	if f.Markdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}

func healthLabel(ep core.EndpointSnapshot) string {
	if ep.Healthy {
		return "healthy"
	}
	return "unhealthy"
}

func latencyLabel(avg *float64) string {
	if avg == nil {
		return "-"
	}
	return fmt.Sprintf("%.0fms", *avg)
}

func backoffLabel(until *time.Time, now time.Time) string {
	if until == nil {
		return "-"
	}
	label := until.UTC().Format(time.RFC3339)
	if remaining := until.Sub(now); remaining > 0 {
		label += fmt.Sprintf(" (in %s)", remaining.Round(time.Second))
	}
	return label
}
