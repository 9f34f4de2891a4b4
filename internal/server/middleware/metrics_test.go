package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcfleet/rpcfleet/internal/metrics"
)

func requestCount(method, endpoint, status string) float64 {
	return testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(method, endpoint, status))
}

func TestRequestMetrics_BasicFunctionality(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("test response"))
	})

	before := requestCount("GET", "/version", "200")

	req := httptest.NewRequest("GET", "/version", nil)
	rec := httptest.NewRecorder()
	RequestMetrics(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test response", rec.Body.String())
	assert.Equal(t, before+1, requestCount("GET", "/version", "200"))
}

func TestRequestMetrics_WithErrorStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	errors := metrics.HTTPErrorsTotal.WithLabelValues("GET", "/v1/pool", "503", "server_error")
	before := testutil.ToFloat64(errors)

	req := httptest.NewRequest("GET", "/v1/pool", nil)
	RequestMetrics(handler).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, before+1, testutil.ToFloat64(errors))
}

func TestRequestMetrics_UsesChiPattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestMetrics)
	r.Post("/v1/pool/endpoints/{index}/probe", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	pattern := "/v1/pool/endpoints/{index}/probe"
	before := requestCount("POST", pattern, "202")

	req := httptest.NewRequest("POST", "/v1/pool/endpoints/3/probe", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, before+1, requestCount("POST", pattern, "202"))
}

func TestRoutePattern_StandardPaths(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/health", "/health/*"},
		{"/health/live", "/health/*"},
		{"/health/ready", "/health/*"},
		{"/health/startup", "/health/*"},
		{"/version", "/version"},
		{"/metrics", "/metrics"},
		{"/v1/pool", "/v1/pool"},
		{"/api/users/123", "/unknown"},
		{"/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			assert.Equal(t, tt.expected, RoutePattern(req))
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(RequestIDHeader, "test-request-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "test-request-id", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "test-request-id", seen)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	for _, bad := range []string{"id with spaces", "id\nforged: line", strings.Repeat("x", 129)} {
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set(RequestIDHeader, bad)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.NotEqual(t, bad, seen)
		assert.Len(t, seen, 36, "malformed IDs are replaced")
	}
}

func TestRecovery(t *testing.T) {
	before := testutil.ToFloat64(metrics.PanicsTotal)

	handler := RequestID(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/pool", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PanicsTotal))
}
