package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcfleet/rpcfleet/internal/core"
	"github.com/rpcfleet/rpcfleet/internal/core/cache"
	"github.com/rpcfleet/rpcfleet/internal/core/pool"
	apperrors "github.com/rpcfleet/rpcfleet/internal/errors"
	"github.com/rpcfleet/rpcfleet/internal/metrics"
)

func newTestServer(t *testing.T, probe pool.ProbeFunc, opts ...Option) (*Server, *pool.Registry) {
	t.Helper()
	reg, err := pool.NewRegistry([]core.Endpoint{
		{URL: "https://rpc-a.example", MaxConcurrent: 2, BackoffBase: time.Second, Cooldown: time.Minute},
	}, pool.WithUnhealthyThreshold(1), pool.WithProbe(probe))
	require.NoError(t, err)

	opts = append([]Option{WithPool(reg, time.Second), WithCache(cache.New())}, opts...)
	return New("127.0.0.1", 0, opts...), reg
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := serve(srv, http.MethodGet, "/does-not-exist")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), body.Error.RequestID)

	rec = serve(srv, http.MethodDelete, "/version")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerPoolRoutes(t *testing.T) {
	srv, reg := newTestServer(t, func(ctx context.Context, ep core.Endpoint) error { return nil })

	rec := serve(srv, http.MethodGet, "/v1/pool")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, 1, snap.Total)

	require.True(t, reg.Acquire(0))
	reg.Release(0, core.Failure(core.CategoryOther, time.Millisecond))
	assert.Equal(t, http.StatusServiceUnavailable, serve(srv, http.MethodGet, "/health/ready").Code)
	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/health/live").Code)

	rec = serve(srv, http.MethodPost, "/v1/pool/endpoints/0/probe")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/health/ready").Code)

	assert.Equal(t, http.StatusOK, serve(srv, http.MethodPost, "/v1/pool/probe").Code)
	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/v1/cache/stats").Code)
}

func TestServerWithoutPoolHasNoPoolRoutes(t *testing.T) {
	srv := New("127.0.0.1", 0)
	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/v1/pool").Code)
	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/v1/cache/stats").Code)
}

func TestServerAdminEndpointRequiresToken(t *testing.T) {
	srv := New("127.0.0.1", 0)
	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodPost, "/admin/signal").Code)

	srv = New("127.0.0.1", 0, WithAdminToken("secret"))
	code := serve(srv, http.MethodPost, "/admin/signal").Code
	assert.NotEqual(t, http.StatusNotFound, code)
	assert.GreaterOrEqual(t, code, 400, "unauthenticated signal is rejected")
}

func TestShutdownBeforeStart(t *testing.T) {
	require.NoError(t, New("127.0.0.1", 0).Shutdown(context.Background()))
}
