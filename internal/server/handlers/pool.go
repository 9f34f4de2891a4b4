package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rpcfleet/rpcfleet/internal/core/cache"
	"github.com/rpcfleet/rpcfleet/internal/core/pool"
	apperrors "github.com/rpcfleet/rpcfleet/internal/errors"
	"github.com/rpcfleet/rpcfleet/internal/metrics"
)

// PoolHandlers serves the diagnostics surface over the registry and cache.
type PoolHandlers struct {
	Registry     *pool.Registry
	Cache        *cache.Cache
	ProbeTimeout time.Duration
	Clock        func() time.Time
}

// EndpointProbeResponse reports one manual probe.
type EndpointProbeResponse struct {
	Index   int    `json:"index"`
	URL     string `json:"url"`
	OK      bool   `json:"ok"`
	Healthy bool   `json:"healthy"`
}

// Snapshot returns the pool and cache diagnostics snapshot.
func (h *PoolHandlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	var (
		p metrics.SnapshotSource
		c metrics.StatsSource
	)
	if h.Registry != nil {
		p = h.Registry
	}
	if h.Cache != nil {
		c = h.Cache
	}
	writeJSON(w, http.StatusOK, metrics.Take(p, c, h.now()))
}

// CacheStats returns cache counters.
func (h *PoolHandlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.Cache == nil {
		apperrors.RespondWithError(w, r, apperrors.NewNotFoundError("cache is not configured"))
		return
	}
	writeJSON(w, http.StatusOK, h.Cache.Stats())
}

// ProbeEndpoint probes one endpoint by index.
func (h *PoolHandlers) ProbeEndpoint(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 || index >= h.Registry.Len() {
		apperrors.RespondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err,
			fmt.Sprintf("endpoint index must be between 0 and %d", h.Registry.Len()-1)))
		return
	}

	ref := pool.Ref(index)
	ep, err := h.Registry.Endpoint(ref)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.FromPoolError(r.Context(), err))
		return
	}

	ok := h.Registry.Probe(r.Context(), ref, h.ProbeTimeout)
	healthy := h.Registry.Snapshot()[index].Healthy
	writeJSON(w, http.StatusOK, EndpointProbeResponse{Index: index, URL: ep.URL, OK: ok, Healthy: healthy})
}

// ProbeAll probes every endpoint concurrently.
func (h *PoolHandlers) ProbeAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.ProbeAll(r.Context(), h.ProbeTimeout))
}

func (h *PoolHandlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// PoolChecker fails readiness when no endpoint can take traffic.
type PoolChecker struct {
	Registry *pool.Registry
}

// CheckHealth implements HealthChecker.
func (c PoolChecker) CheckHealth(_ context.Context) error {
	if c.Registry == nil {
		return pool.ErrNoEndpoints
	}
	if c.Registry.Eligible() == 0 {
		return pool.ErrNoHealthyEndpoint
	}
	return nil
}
