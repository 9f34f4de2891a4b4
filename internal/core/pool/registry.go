package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

const (
	DefaultUnhealthyThreshold = 100
	DefaultMaxConcurrent      = 10
	DefaultBackoffBase        = 2 * time.Second
	DefaultCooldown           = time.Minute
	DefaultProbeTimeout       = 5 * time.Second

	maxBackoffExponent = 10
	latencyAlpha       = 0.2
	probeParallelism   = 8
)

// Ref identifies an endpoint by its position in the registry.
type Ref int

// ProbeFunc issues a cheap liveness call against an endpoint.
type ProbeFunc func(ctx context.Context, ep core.Endpoint) error

// ProbeResult reports the outcome of probing one endpoint.
type ProbeResult struct {
	Index   int           `json:"index"`
	URL     string        `json:"url"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

type health struct {
	failures   uint64
	successes  uint64
	processed  uint64
	healthy    bool
	backoff    time.Time
	current    int
	avgLatency float64
	hasLatency bool
	errors     core.ErrorCounts
}

// Registry owns the endpoint list and the mutable health state of every
// endpoint. All mutations happen under one mutex, so each Acquire, Release
// and Probe commit is a single uninterrupted step.
type Registry struct {
	mu        sync.Mutex
	endpoints []core.Endpoint
	state     []health
	cursor    int

	threshold uint64
	recovery  core.RecoveryPolicy
	probe     ProbeFunc
	clock     func() time.Time
	logger    *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithUnhealthyThreshold sets the failure count that quarantines an endpoint.
func WithUnhealthyThreshold(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.threshold = uint64(n)
		}
	}
}

// WithRecoveryPolicy sets how successes lower the failure counter.
func WithRecoveryPolicy(p core.RecoveryPolicy) Option {
	return func(r *Registry) {
		if p != "" {
			r.recovery = p
		}
	}
}

// WithProbe sets the liveness call used by Probe.
func WithProbe(fn ProbeFunc) Option {
	return func(r *Registry) { r.probe = fn }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the logger used for health transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry builds a registry with every endpoint healthy.
func NewRegistry(endpoints []core.Endpoint, opts ...Option) (*Registry, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	r := &Registry{
		endpoints: make([]core.Endpoint, len(endpoints)),
		state:     make([]health, len(endpoints)),
		threshold: DefaultUnhealthyThreshold,
		recovery:  core.RecoveryDecrement,
		clock:     func() time.Time { return time.Now().UTC() },
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for i, ep := range endpoints {
		ep.URL = strings.TrimSpace(ep.URL)
		if ep.URL == "" {
			return nil, fmt.Errorf("endpoint %d: url is required", i)
		}
		if ep.MaxConcurrent <= 0 {
			ep.MaxConcurrent = DefaultMaxConcurrent
		}
		if ep.BackoffBase <= 0 {
			ep.BackoffBase = DefaultBackoffBase
		}
		if ep.Cooldown < 0 {
			ep.Cooldown = 0
		}
		r.endpoints[i] = ep
		r.state[i] = health{healthy: true}
	}

	return r, nil
}

// Len returns the pool size.
func (r *Registry) Len() int {
	return len(r.endpoints)
}

// Endpoint returns the static configuration behind ref.
func (r *Registry) Endpoint(ref Ref) (core.Endpoint, error) {
	if !r.valid(ref) {
		return core.Endpoint{}, fmt.Errorf("%w: %d", ErrUnknownEndpoint, ref)
	}
	return r.endpoints[ref], nil
}

// Select scans from the round-robin cursor and returns the first eligible
// endpoint, moving the cursor past it. ok is false when nothing is eligible.
func (r *Registry) Select() (Ref, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	n := len(r.endpoints)
	for i := 0; i < n; i++ {
		idx := (r.cursor + i) % n
		if r.eligibleLocked(idx, now) {
			r.cursor = (idx + 1) % n
			return Ref(idx), true
		}
	}
	return -1, false
}

// Acquire re-checks eligibility and takes one concurrency slot. It returns
// false when the endpoint lost health or capacity since Select.
func (r *Registry) Acquire(ref Ref) bool {
	if !r.valid(ref) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.eligibleLocked(int(ref), r.clock()) {
		return false
	}
	r.state[ref].current++
	return true
}

// Release returns the slot taken by Acquire and records the outcome. It must
// be called exactly once per successful Acquire. A cancelled outcome only
// frees the slot.
func (r *Registry) Release(ref Ref, outcome core.Outcome) {
	if !r.valid(ref) {
		return
	}

	r.mu.Lock()
	now := r.clock()
	ep := r.endpoints[ref]
	st := &r.state[ref]

	if st.current > 0 {
		st.current--
	}
	if outcome.IsCancelled() {
		r.mu.Unlock()
		return
	}
	st.processed++

	sample := float64(outcome.Latency()) / float64(time.Millisecond)
	if st.hasLatency {
		st.avgLatency = latencyAlpha*sample + (1-latencyAlpha)*st.avgLatency
	} else {
		st.avgLatency = sample
		st.hasLatency = true
	}

	if outcome.OK() {
		recovered := !st.healthy
		st.successes++
		if r.recovery == core.RecoveryReset {
			st.failures = 0
		} else if st.failures > 0 {
			st.failures--
		}
		st.healthy = true
		st.backoff = time.Time{}
		failures := st.failures
		r.mu.Unlock()

		if recovered {
			r.logger.Info("endpoint recovered",
				zap.Int("index", int(ref)),
				zap.String("endpoint", ep.URL),
				zap.Uint64("failures", failures))
		}
		return
	}

	st.failures++
	st.errors.Add(outcome.Category())

	var quarantined, rearmed bool
	switch {
	case st.healthy && st.failures >= r.threshold:
		st.healthy = false
		st.backoff = now.Add(Backoff(ep.BackoffBase, st.failures, r.threshold) + ep.Cooldown)
		quarantined = true
	case !st.healthy && !now.Before(st.backoff):
		st.backoff = now.Add(Backoff(ep.BackoffBase, st.failures, r.threshold) + ep.Cooldown)
		rearmed = true
	}
	failures := st.failures
	until := st.backoff
	r.mu.Unlock()

	switch {
	case quarantined:
		r.logger.Warn("endpoint marked unhealthy",
			zap.Int("index", int(ref)),
			zap.String("endpoint", ep.URL),
			zap.Uint64("failures", failures),
			zap.String("category", string(outcome.Category())),
			zap.Time("backoff_until", until))
	case rearmed:
		r.logger.Warn("endpoint quarantine extended",
			zap.Int("index", int(ref)),
			zap.String("endpoint", ep.URL),
			zap.Uint64("failures", failures),
			zap.Time("backoff_until", until))
	}
}

// Probe issues the configured liveness call against ref. A successful probe
// clears failures and any backoff regardless of organic traffic.
func (r *Registry) Probe(ctx context.Context, ref Ref, timeout time.Duration) bool {
	return r.probeOne(ctx, ref, timeout) == nil
}

// ProbeAll probes every endpoint concurrently.
func (r *Registry) ProbeAll(ctx context.Context, timeout time.Duration) []ProbeResult {
	results := make([]ProbeResult, len(r.endpoints))

	var g errgroup.Group
	g.SetLimit(probeParallelism)
	for i := range r.endpoints {
		g.Go(func() error {
			start := time.Now()
			err := r.probeOne(ctx, Ref(i), timeout)
			results[i] = ProbeResult{
				Index:   i,
				URL:     r.endpoints[i].URL,
				OK:      err == nil,
				Latency: time.Since(start),
			}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (r *Registry) probeOne(ctx context.Context, ref Ref, timeout time.Duration) error {
	ep, err := r.Endpoint(ref)
	if err != nil {
		return err
	}
	if r.probe == nil {
		return fmt.Errorf("probe is not configured")
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if ctx == nil {
		ctx = context.Background()
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.probe(probeCtx, ep); err != nil {
		r.logger.Debug("endpoint probe failed",
			zap.Int("index", int(ref)),
			zap.String("endpoint", ep.URL),
			zap.Error(err))
		return err
	}

	r.mu.Lock()
	st := &r.state[ref]
	st.failures = 0
	st.healthy = true
	st.backoff = time.Time{}
	r.mu.Unlock()

	r.logger.Debug("endpoint probe succeeded",
		zap.Int("index", int(ref)),
		zap.String("endpoint", ep.URL))
	return nil
}

// Eligible counts endpoints that Select could return right now.
func (r *Registry) Eligible() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	count := 0
	for i := range r.endpoints {
		if r.eligibleLocked(i, now) {
			count++
		}
	}
	return count
}

// Snapshot copies the health state of every endpoint.
func (r *Registry) Snapshot() []core.EndpointSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]core.EndpointSnapshot, len(r.endpoints))
	for i, ep := range r.endpoints {
		st := r.state[i]
		snap := core.EndpointSnapshot{
			Index:             i,
			URL:               ep.URL,
			WSURL:             ep.WSURL,
			Healthy:           st.healthy,
			Failures:          st.failures,
			Successes:         st.successes,
			ProcessedCount:    st.processed,
			CurrentConcurrent: st.current,
			MaxConcurrent:     ep.MaxConcurrent,
			ErrorCounts:       st.errors,
		}
		if st.hasLatency {
			avg := st.avgLatency
			snap.AvgLatencyMs = &avg
		}
		if !st.backoff.IsZero() {
			until := st.backoff
			snap.BackoffUntil = &until
		}
		out[i] = snap
	}
	return out
}

func (r *Registry) eligibleLocked(idx int, now time.Time) bool {
	st := &r.state[idx]
	if !st.healthy && now.Before(st.backoff) {
		return false
	}
	return st.current < r.endpoints[idx].MaxConcurrent
}

func (r *Registry) valid(ref Ref) bool {
	return ref >= 0 && int(ref) < len(r.endpoints)
}

// Backoff returns base × 2^min(10, failures−threshold). Failures at or below
// the threshold use exponent zero.
func Backoff(base time.Duration, failures, threshold uint64) time.Duration {
	var exp uint64
	if failures > threshold {
		exp = failures - threshold
	}
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	return base * time.Duration(uint64(1)<<exp)
}
