package pool

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func newTestRouter(t *testing.T, n int, regOpts []Option, routerOpts ...RouterOption) (*Router, *sleepRecorder) {
	t.Helper()
	reg, err := NewRegistry(testEndpoints(n), regOpts...)
	require.NoError(t, err)
	sleeps := &sleepRecorder{}
	opts := append([]RouterOption{WithSleep(sleeps.Sleep)}, routerOpts...)
	return NewRouter(reg, opts...), sleeps
}

func totalProcessed(reg *Registry) uint64 {
	var total uint64
	for _, snap := range reg.Snapshot() {
		total += snap.ProcessedCount
	}
	return total
}

func TestExecuteSuccess(t *testing.T) {
	router, sleeps := newTestRouter(t, 2, nil)

	got, err := Execute(context.Background(), router, ExecuteOptions{}, func(ctx context.Context, ep core.Endpoint) (string, error) {
		return ep.URL, nil
	})
	require.NoError(t, err)
	require.Equal(t, "https://rpc-a.example", got)
	require.Empty(t, sleeps.Waits())

	snap := router.Registry().Snapshot()
	require.EqualValues(t, 1, snap[0].Successes)
	require.Equal(t, 0, snap[0].CurrentConcurrent)
}

func TestExecuteRetriesOnNextEndpoint(t *testing.T) {
	router, sleeps := newTestRouter(t, 2, nil)

	var calls []string
	got, err := Execute(context.Background(), router, ExecuteOptions{}, func(ctx context.Context, ep core.Endpoint) (int, error) {
		calls = append(calls, ep.URL)
		if ep.URL == "https://rpc-a.example" {
			return 0, errors.New("connection reset by peer")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, []string{"https://rpc-a.example", "https://rpc-b.example"}, calls)
	require.Empty(t, sleeps.Waits(), "non rate-limited failures retry immediately")

	snap := router.Registry().Snapshot()
	require.EqualValues(t, 1, snap[0].Failures)
	require.EqualValues(t, 1, snap[0].ErrorCounts.Other)
	require.EqualValues(t, 1, snap[1].Successes)
}

func TestExecuteRateLimitedBackoff(t *testing.T) {
	router, sleeps := newTestRouter(t, 2, nil)

	_, err := Execute(context.Background(), router, ExecuteOptions{MaxRetries: 3, BackoffBase: 100 * time.Millisecond},
		func(ctx context.Context, ep core.Endpoint) (struct{}, error) {
			return struct{}{}, errors.New("http status 429: Too Many Requests")
		})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.Contains(t, err.Error(), "429")
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeps.Waits())
	require.EqualValues(t, 3, totalProcessed(router.Registry()))
}

func TestExecuteAttemptTimeout(t *testing.T) {
	router, _ := newTestRouter(t, 1, nil)

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	_, err := Execute(context.Background(), router, ExecuteOptions{MaxRetries: 1, Timeout: 20 * time.Millisecond},
		func(ctx context.Context, ep core.Endpoint) (int, error) {
			<-block
			return 1, nil
		})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, ErrAttemptTimeout)

	snap := router.Registry().Snapshot()[0]
	require.EqualValues(t, 1, snap.ErrorCounts.Timeout)
	require.Equal(t, 0, snap.CurrentConcurrent)
}

func TestExecuteRecoversPanic(t *testing.T) {
	router, _ := newTestRouter(t, 1, nil)

	_, err := Execute(context.Background(), router, ExecuteOptions{MaxRetries: 2},
		func(ctx context.Context, ep core.Endpoint) (int, error) {
			panic("decoder exploded")
		})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.Contains(t, err.Error(), "panicked")

	snap := router.Registry().Snapshot()[0]
	require.Equal(t, 0, snap.CurrentConcurrent)
	require.EqualValues(t, 2, snap.Failures)
}

func TestExecuteNoHealthyEndpoint(t *testing.T) {
	router, sleeps := newTestRouter(t, 2, []Option{WithUnhealthyThreshold(1)})
	reg := router.Registry()
	failN(t, reg, 0, 1, core.CategoryOther)
	failN(t, reg, 1, 1, core.CategoryOther)
	require.Equal(t, 0, reg.Eligible())

	calls := 0
	_, err := Execute(context.Background(), router, ExecuteOptions{MaxRetries: 3},
		func(ctx context.Context, ep core.Endpoint) (int, error) {
			calls++
			return 0, nil
		})
	require.ErrorIs(t, err, ErrNoHealthyEndpoint)
	require.Zero(t, calls)
	require.Len(t, sleeps.Waits(), 2)
}

func TestExecuteFallback(t *testing.T) {
	router, _ := newTestRouter(t, 2, nil, WithFallback(core.Endpoint{URL: "https://fallback.example"}))

	op := func(ctx context.Context, ep core.Endpoint) (string, error) {
		if ep.URL == "https://fallback.example" {
			return "fallback", nil
		}
		return "", errors.New("http status 503")
	}

	_, err := Execute(context.Background(), router, ExecuteOptions{MaxRetries: 2}, op)
	require.ErrorIs(t, err, ErrRetriesExhausted)

	got, err := Execute(context.Background(), router, ExecuteOptions{MaxRetries: 2, UseFallback: true}, op)
	require.NoError(t, err)
	require.Equal(t, "fallback", got)

	fb, ok := router.Fallback()
	require.True(t, ok)
	require.Equal(t, "https://fallback.example", fb.URL)
}

func TestExecuteContextCancelled(t *testing.T) {
	router, _ := newTestRouter(t, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Execute(ctx, router, ExecuteOptions{}, func(ctx context.Context, ep core.Endpoint) (int, error) {
		return 1, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, 0, totalProcessed(router.Registry()))
}

func TestExecuteReleasesEveryAttempt(t *testing.T) {
	reg, err := NewRegistry(testEndpoints(3))
	require.NoError(t, err)
	router := NewRouter(reg, WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))

	var invocations atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 25; i++ {
				fail := rng.Intn(3) == 0
				_, _ = Execute(context.Background(), router, ExecuteOptions{MaxRetries: 3},
					func(ctx context.Context, ep core.Endpoint) (int, error) {
						invocations.Add(1)
						if fail {
							return 0, errors.New("boom")
						}
						return 1, nil
					})
			}
		}(int64(w))
	}
	wg.Wait()

	require.EqualValues(t, invocations.Load(), totalProcessed(reg))
	for _, snap := range reg.Snapshot() {
		require.Equal(t, 0, snap.CurrentConcurrent)
	}
}

func TestThrottle(t *testing.T) {
	require.Nil(t, NewThrottle(0))
	var nilThrottle *Throttle
	require.NoError(t, nilThrottle.Wait(context.Background()))

	th := NewThrottle(time.Hour)
	require.NotNil(t, th)
	require.NoError(t, th.Wait(context.Background()), "first token is available immediately")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, th.Wait(ctx))
}

func TestExecuteCallerCancelLeavesHealthUntouched(t *testing.T) {
	router, _ := newTestRouter(t, 1, []Option{WithUnhealthyThreshold(1)})

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	_, err := Execute(ctx, router, ExecuteOptions{MaxRetries: 3, Timeout: time.Minute},
		func(ctx context.Context, ep core.Endpoint) (int, error) {
			close(started)
			<-ctx.Done()
			return 0, ctx.Err()
		})
	require.ErrorIs(t, err, context.Canceled)

	snap := router.Registry().Snapshot()[0]
	require.True(t, snap.Healthy)
	require.Zero(t, snap.Failures)
	require.Equal(t, core.ErrorCounts{}, snap.ErrorCounts)
	require.Zero(t, snap.ProcessedCount)
	require.Nil(t, snap.AvgLatencyMs)
	require.Equal(t, 0, snap.CurrentConcurrent)
}

type retryAfterErr struct{ d time.Duration }

func (e retryAfterErr) Error() string { return "http status 429: Too Many Requests" }
func (e retryAfterErr) RetryAfterHint() time.Duration { return e.d }

func TestExecuteRateLimitedHonorsRetryAfter(t *testing.T) {
	router, sleeps := newTestRouter(t, 1, nil)

	_, err := Execute(context.Background(), router, ExecuteOptions{MaxRetries: 3, BackoffBase: 100 * time.Millisecond},
		func(ctx context.Context, ep core.Endpoint) (int, error) {
			return 0, retryAfterErr{d: 150 * time.Millisecond}
		})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.Equal(t, []time.Duration{150 * time.Millisecond, 200 * time.Millisecond}, sleeps.Waits())

	require.Equal(t, MaxRetryAfter, rateLimitPause(time.Millisecond, 1, retryAfterErr{d: time.Hour}))
	require.Equal(t, 300*time.Millisecond, rateLimitPause(100*time.Millisecond, 3, errors.New("429")))
}
