package pool

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle enforces a minimum spacing between upstream requests across the
// whole pool, on top of per-endpoint concurrency limits. A nil Throttle
// never waits.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle returns a throttle allowing one request per spacing, or nil
// when spacing is not positive.
func NewThrottle(spacing time.Duration) *Throttle {
	if spacing <= 0 {
		return nil
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(spacing), 1)}
}

// Wait blocks until the next request may start or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}
