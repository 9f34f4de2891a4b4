package core

import (
	"encoding/json"
	"time"
)

// Endpoint is one upstream RPC server in the pool. It is immutable after load.
type Endpoint struct {
	URL           string        `json:"url"`
	WSURL         string        `json:"ws_url,omitempty"`
	MaxConcurrent int           `json:"max_concurrent"`
	Cooldown      time.Duration `json:"cooldown"`
	BackoffBase   time.Duration `json:"backoff_base"`
}

// ErrorCategory buckets a failed upstream call.
type ErrorCategory string

const (
	CategoryRateLimited     ErrorCategory = "rate_limited"
	CategoryPaymentRequired ErrorCategory = "payment_required"
	CategoryTimeout         ErrorCategory = "timeout"
	CategoryOther           ErrorCategory = "other"
)

// Categories lists every failure bucket in reporting order.
var Categories = []ErrorCategory{
	CategoryRateLimited,
	CategoryPaymentRequired,
	CategoryTimeout,
	CategoryOther,
}

// ErrorCounts tracks failures per category for one endpoint.
type ErrorCounts struct {
	RateLimited     uint64 `json:"rate_limited"`
	PaymentRequired uint64 `json:"payment_required"`
	Timeout         uint64 `json:"timeout"`
	Other           uint64 `json:"other"`
}

// Add increments the bucket for category.
func (c *ErrorCounts) Add(category ErrorCategory) {
	switch category {
	case CategoryRateLimited:
		c.RateLimited++
	case CategoryPaymentRequired:
		c.PaymentRequired++
	case CategoryTimeout:
		c.Timeout++
	default:
		c.Other++
	}
}

// Get returns the count stored for category.
func (c ErrorCounts) Get(category ErrorCategory) uint64 {
	switch category {
	case CategoryRateLimited:
		return c.RateLimited
	case CategoryPaymentRequired:
		return c.PaymentRequired
	case CategoryTimeout:
		return c.Timeout
	default:
		return c.Other
	}
}

// Outcome is the result of one acquired attempt, reported back to the registry.
// Build one with Success, Failure or Cancelled.
type Outcome struct {
	failed    bool
	cancelled bool
	category ErrorCategory
	latency  time.Duration
}

// Success reports a successful attempt.
func Success(latency time.Duration) Outcome {
	return Outcome{latency: latency}
}

// Failure reports a failed attempt in the given category.
func Failure(category ErrorCategory, latency time.Duration) Outcome {
	if category == "" {
		category = CategoryOther
	}
	return Outcome{failed: true, category: category, latency: latency}
}

// Cancelled reports an attempt abandoned because the caller gave up. It
// says nothing about the endpoint.
func Cancelled(latency time.Duration) Outcome {
	return Outcome{cancelled: true, latency: latency}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return !o.failed && !o.cancelled }

// IsCancelled reports whether the caller abandoned the attempt.
func (o Outcome) IsCancelled() bool { return o.cancelled }

// Category returns the failure bucket, or "" for successes.
func (o Outcome) Category() ErrorCategory { return o.category }

// Latency returns the measured attempt duration.
func (o Outcome) Latency() time.Duration { return o.latency }

// RecoveryPolicy controls how a success lowers the failure counter.
type RecoveryPolicy string

const (
	// RecoveryDecrement lowers failures by at most one per success.
	RecoveryDecrement RecoveryPolicy = "decrement"
	// RecoveryReset zeroes failures on any success.
	RecoveryReset RecoveryPolicy = "reset"
)

// EndpointSnapshot is a read-only view of one endpoint's health state.
type EndpointSnapshot struct {
	Index             int         `json:"index"`
	URL               string      `json:"url"`
	WSURL             string      `json:"ws_url,omitempty"`
	Healthy           bool        `json:"healthy"`
	Failures          uint64      `json:"failures"`
	Successes         uint64      `json:"successes"`
	ProcessedCount    uint64      `json:"processed_count"`
	CurrentConcurrent int         `json:"current_concurrent"`
	MaxConcurrent     int         `json:"max_concurrent"`
	AvgLatencyMs      *float64    `json:"avg_latency_ms"`
	BackoffUntil      *time.Time  `json:"backoff_until"`
	ErrorCounts       ErrorCounts `json:"error_counts"`
}

// CacheEntry is one cached payload. Data is opaque JSON.
type CacheEntry struct {
	Namespace string          `json:"-"`
	Key       string          `json:"-"`
	SavedAt   time.Time       `json:"-"`
	Data      json.RawMessage `json:"-"`
}

// Age returns how old the entry is relative to now.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.SavedAt)
}

// FreshWithin reports whether the entry is acceptable for a freshness window.
// A zero or negative window accepts any age.
func (e CacheEntry) FreshWithin(window time.Duration, now time.Time) bool {
	if window <= 0 {
		return true
	}
	return e.Age(now) <= window
}
