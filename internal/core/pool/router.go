package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

const (
	DefaultTimeout          = 15 * time.Second
	DefaultMaxRetries       = 3
	DefaultRetryBackoffBase = 500 * time.Millisecond

	// MaxRetryAfter caps how long a server Retry-After can stretch a pause.
	MaxRetryAfter = 30 * time.Second

	idleInitialInterval = 50 * time.Millisecond
	idleMaxInterval     = time.Second
)

// Operation is one read against a single endpoint.
type Operation[T any] func(ctx context.Context, ep core.Endpoint) (T, error)

// ExecuteOptions tunes one Execute call. Zero fields fall back to the
// router defaults.
type ExecuteOptions struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxRetries bounds the number of attempts.
	MaxRetries int
	// BackoffBase scales the pause after a rate-limited attempt (base × attempt).
	// A longer Retry-After from the endpoint wins, up to MaxRetryAfter.
	BackoffBase time.Duration
	// UseFallback runs one last attempt against the router's fallback
	// endpoint once the pool is exhausted.
	UseFallback bool
}

// Router spreads operations across the registry with retry and backoff.
type Router struct {
	registry *Registry
	throttle *Throttle
	fallback *core.Endpoint
	defaults ExecuteOptions
	idle     func() backoff.BackOff
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *zap.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithThrottle installs the global request spacing throttle.
func WithThrottle(t *Throttle) RouterOption {
	return func(r *Router) { r.throttle = t }
}

// WithFallback sets the a-priori default endpoint used outside the pool.
func WithFallback(ep core.Endpoint) RouterOption {
	return func(r *Router) {
		if ep.URL != "" {
			fallback := ep
			r.fallback = &fallback
		}
	}
}

// WithDefaults sets the options used for zero ExecuteOptions fields.
func WithDefaults(opts ExecuteOptions) RouterOption {
	return func(r *Router) { r.defaults = mergeOptions(opts, r.defaults) }
}

// WithIdleBackoff overrides the pause policy used when nothing is eligible.
func WithIdleBackoff(factory func() backoff.BackOff) RouterOption {
	return func(r *Router) {
		if factory != nil {
			r.idle = factory
		}
	}
}

// WithSleep overrides how the router waits between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RouterOption {
	return func(r *Router) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithRouterLogger sets the logger used for attempt diagnostics.
func WithRouterLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter builds a router over registry.
func NewRouter(registry *Registry, opts ...RouterOption) *Router {
	r := &Router{
		registry: registry,
		defaults: ExecuteOptions{
			Timeout:     DefaultTimeout,
			MaxRetries:  DefaultMaxRetries,
			BackoffBase: DefaultRetryBackoffBase,
		},
		idle:   newIdleBackoff,
		sleep:  sleepContext,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the registry the router draws endpoints from.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Fallback returns the fallback endpoint, if one is configured.
func (r *Router) Fallback() (core.Endpoint, bool) {
	if r.fallback == nil {
		return core.Endpoint{}, false
	}
	return *r.fallback, true
}

// Execute runs op against a healthy endpoint, retrying across the pool.
// Every acquired attempt is released exactly once with its outcome. Only
// exhaustion of attempts, or the absence of any eligible endpoint, reaches
// the caller.
func Execute[T any](ctx context.Context, r *Router, opts ExecuteOptions, op Operation[T]) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	if op == nil {
		return zero, errors.New("operation is required")
	}

	opts = mergeOptions(opts, r.defaults)
	idle := r.idle()

	var lastErr error
	lostRaces := 0
	for attempt := 1; attempt <= opts.MaxRetries; {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if err := r.throttle.Wait(ctx); err != nil {
			return zero, err
		}

		ref, ok := r.registry.Select()
		if ok && !r.registry.Acquire(ref) {
			// Lost the slot between Select and Acquire; reselect without
			// spending an attempt unless the whole pool keeps racing.
			lostRaces++
			if lostRaces <= r.registry.Len() {
				continue
			}
			ok = false
		}
		lostRaces = 0

		if !ok {
			lastErr = ErrNoHealthyEndpoint
			attempt++
			if attempt > opts.MaxRetries {
				break
			}
			wait := idle.NextBackOff()
			if wait == backoff.Stop {
				break
			}
			r.logger.Debug("no eligible endpoint, waiting",
				zap.Int("attempt", attempt-1),
				zap.Duration("wait", wait))
			if err := r.sleep(ctx, wait); err != nil {
				return zero, err
			}
			continue
		}

		ep, _ := r.registry.Endpoint(ref)
		result, outcome, err := runAttempt(ctx, op, ep, opts.Timeout)
		r.registry.Release(ref, outcome)
		if err == nil {
			return result, nil
		}

		lastErr = err
		r.logger.Debug("attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("index", int(ref)),
			zap.String("endpoint", ep.URL),
			zap.String("category", string(outcome.Category())),
			zap.Error(err))

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		if outcome.Category() == core.CategoryRateLimited && attempt < opts.MaxRetries {
			if err := r.sleep(ctx, rateLimitPause(opts.BackoffBase, attempt, err)); err != nil {
				return zero, err
			}
		}
		attempt++
	}

	if opts.UseFallback && r.fallback != nil {
		result, _, err := runAttempt(ctx, op, *r.fallback, opts.Timeout)
		if err == nil {
			r.logger.Info("served by fallback endpoint", zap.String("endpoint", r.fallback.URL))
			return result, nil
		}
		r.logger.Warn("fallback endpoint failed",
			zap.String("endpoint", r.fallback.URL),
			zap.Error(err))
		lastErr = fmt.Errorf("fallback %s: %w", r.fallback.URL, err)
	}

	if lastErr == nil || errors.Is(lastErr, ErrNoHealthyEndpoint) {
		return zero, ErrNoHealthyEndpoint
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, opts.MaxRetries, lastErr)
}

type attemptResult[T any] struct {
	val T
	err error
}

// runAttempt races op against the attempt timeout. A timed-out operation is
// not aborted beyond its context being cancelled; its late result is dropped.
func runAttempt[T any](ctx context.Context, op Operation[T], ep core.Endpoint, timeout time.Duration) (T, core.Outcome, error) {
	var zero T
	start := time.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- attemptResult[T]{err: fmt.Errorf("operation panicked: %v", p)}
			}
		}()
		val, err := op(attemptCtx, ep)
		done <- attemptResult[T]{val: val, err: err}
	}()

	select {
	case res := <-done:
		latency := time.Since(start)
		if res.err != nil {
			if err := ctx.Err(); err != nil {
				return zero, core.Cancelled(latency), err
			}
			return zero, core.Failure(Classify(res.err), latency), res.err
		}
		return res.val, core.Success(latency), nil
	case <-attemptCtx.Done():
		latency := time.Since(start)
		if err := ctx.Err(); err != nil {
			return zero, core.Cancelled(latency), err
		}
		return zero, core.Failure(core.CategoryTimeout, latency),
			fmt.Errorf("%s: %w after %s", ep.URL, ErrAttemptTimeout, timeout)
	}
}

// rateLimitPause is base × attempt, stretched to the endpoint's Retry-After
// up to MaxRetryAfter.
func rateLimitPause(base time.Duration, attempt int, err error) time.Duration {
	pause := base * time.Duration(attempt)
	if hint := min(RetryAfter(err), MaxRetryAfter); hint > pause {
		pause = hint
	}
	return pause
}

func mergeOptions(opts, defaults ExecuteOptions) ExecuteOptions {
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaults.BackoffBase
	}
	opts.UseFallback = opts.UseFallback || defaults.UseFallback
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultRetryBackoffBase
	}
	return opts
}

func newIdleBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = idleInitialInterval
	b.MaxInterval = idleMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
