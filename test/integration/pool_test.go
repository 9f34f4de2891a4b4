package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcfleet/rpcfleet/internal/core"
	"github.com/rpcfleet/rpcfleet/internal/core/cache"
	"github.com/rpcfleet/rpcfleet/internal/core/pool"
	"github.com/rpcfleet/rpcfleet/internal/core/store"
	"github.com/rpcfleet/rpcfleet/internal/metrics"
	"github.com/rpcfleet/rpcfleet/internal/observability"
	"github.com/rpcfleet/rpcfleet/internal/rpc"
	"github.com/rpcfleet/rpcfleet/internal/server"
)

// isPermissionError normalizes OS-specific permission errors (macOS/Linux/BSD)
// so we can gracefully skip when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// listen binds to IPv4 loopback explicitly and skips when the sandbox
// refuses to open sockets.
func listen(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping: loopback listen not permitted: %v", err)
		}
		require.NoError(t, err)
	}

	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

// upstream is a fake JSON-RPC endpoint counting the calls it answers.
func upstream(t *testing.T, status int, calls *atomic.Int64) *httptest.Server {
	return listen(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if status != http.StatusOK {
			http.Error(w, http.StatusText(status), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"slot":42}}`, req.ID)
	}))
}

func get(t *testing.T, client *http.Client, url string) (int, string) {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, readErr)
	return resp.StatusCode, string(body)
}

func TestPoolServer_Integration(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info")

	var goodCalls, badCalls atomic.Int64
	good := upstream(t, http.StatusOK, &goodCalls)
	bad := upstream(t, http.StatusTooManyRequests, &badCalls)

	client := rpc.NewClient(nil, "rpcfleet-test")
	registry, err := pool.NewRegistry([]core.Endpoint{
		{URL: bad.URL, Cooldown: time.Hour, BackoffBase: time.Second},
		{URL: good.URL, Cooldown: time.Hour, BackoffBase: time.Second},
	},
		pool.WithUnhealthyThreshold(1),
		pool.WithProbe(client.Probe),
	)
	require.NoError(t, err)
	router := pool.NewRouter(registry, pool.WithDefaults(pool.ExecuteOptions{
		Timeout:     2 * time.Second,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
	}))

	fs, err := store.NewFS(t.TempDir())
	require.NoError(t, err)
	results := cache.New(cache.WithDurable(fs))

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	require.NoError(t, reg.Register(metrics.NewPoolCollector(registry)))
	require.NoError(t, reg.Register(metrics.NewCacheCollector(results)))

	srv := server.New("127.0.0.1", 0,
		server.WithPool(registry, time.Second),
		server.WithCache(results),
		server.WithMetrics(reg),
	)
	ts := listen(t, srv.Handler())
	httpClient := ts.Client()

	const numCalls = 20
	var wg sync.WaitGroup
	errs := make(chan error, numCalls)
	for i := 0; i < numCalls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := results.GetOrFetch(context.Background(), "slots", fmt.Sprintf("k%d", i%4), cache.Options{},
				func(ctx context.Context) (json.RawMessage, error) {
					return pool.Execute(ctx, router, pool.ExecuteOptions{}, func(ctx context.Context, ep core.Endpoint) (json.RawMessage, error) {
						return client.Call(ctx, ep, "getSlot", nil)
					})
				})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, goodCalls.Load(), int64(4), "one upstream call per cache key")
	assert.LessOrEqual(t, badCalls.Load(), int64(4), "rate-limited endpoint is quarantined after its first failure")

	status, body := get(t, httpClient, ts.URL+"/v1/pool")
	require.Equal(t, http.StatusOK, status)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal([]byte(body), &snap))
	assert.Equal(t, 2, snap.Total)
	if badCalls.Load() > 0 {
		assert.Equal(t, 1, snap.Healthy)
	}

	status, _ = get(t, httpClient, ts.URL+"/health/ready")
	assert.Equal(t, http.StatusOK, status, "one healthy endpoint keeps the service ready")

	status, body = get(t, httpClient, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "rpcfleet_endpoint_healthy")
	assert.Contains(t, body, fmt.Sprintf(`url="%s"`, good.URL))
	assert.Contains(t, body, "rpcfleet_cache_lookups_total")
	assert.Contains(t, body, "rpcfleet_http_requests_total")

	entries, err := results.List(context.Background(), "slots")
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestPoolServer_MetricsDisabled(t *testing.T) {
	observability.InitServerLogger("test", "info")

	srv := server.New("127.0.0.1", 0)
	ts := listen(t, srv.Handler())

	status, _ := get(t, ts.Client(), ts.URL+"/metrics")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = get(t, ts.Client(), ts.URL+"/v1/pool")
	assert.Equal(t, http.StatusNotFound, status)
}
