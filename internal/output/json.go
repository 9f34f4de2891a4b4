package output

import (
	"encoding/json"

	"github.com/rpcfleet/rpcfleet/internal/core"
	"github.com/rpcfleet/rpcfleet/internal/core/pool"
	"github.com/rpcfleet/rpcfleet/internal/metrics"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatPool renders a pool snapshot as JSON.
func (f *JSONFormatter) FormatPool(snap metrics.Snapshot) (string, error) {
	return f.encode(snap)
}

// FormatProbes renders probe results as JSON.
func (f *JSONFormatter) FormatProbes(results []pool.ProbeResult) (string, error) {
	if results == nil {
		results = []pool.ProbeResult{}
	}
	return f.encode(results)
}

// entryJSON is the listing view of one cache entry.
type entryJSON struct {
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	SavedAt   int64           `json:"savedAt"`
	Data      json.RawMessage `json:"data"`
}

// FormatEntries renders cache entries as JSON.
func (f *JSONFormatter) FormatEntries(entries []core.CacheEntry) (string, error) {
	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryJSON{
			Namespace: e.Namespace,
			Key:       e.Key,
			SavedAt:   e.SavedAt.UnixMilli(),
			Data:      e.Data,
		})
	}
	return f.encode(out)
}

func (f *JSONFormatter) encode(v any) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
