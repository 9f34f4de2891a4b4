package pool

import "errors"

var (
	// ErrNoHealthyEndpoint means every endpoint is quarantined or saturated.
	// Callers should back off globally instead of retrying immediately.
	ErrNoHealthyEndpoint = errors.New("no healthy endpoint available")

	// ErrRetriesExhausted wraps the last attempt error once Execute gives up.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrAttemptTimeout is reported when an attempt loses the race against its timeout.
	ErrAttemptTimeout = errors.New("attempt timed out")

	// ErrUnknownEndpoint is returned for an endpoint reference outside the pool.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrNoEndpoints is returned when a registry is built from an empty list.
	ErrNoEndpoints = errors.New("at least one endpoint is required")
)
