package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed matches every error produced by a failed fetch.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrInvalidKey is returned for an empty namespace or key.
	ErrInvalidKey = errors.New("namespace and key are required")
)

// FetchError wraps the error returned by a caller-supplied fetch. Every
// coalesced waiter receives the same *FetchError.
type FetchError struct {
	Namespace string
	Key       string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s/%s: %v", ErrFetchFailed, e.Namespace, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is reports true for ErrFetchFailed.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}
