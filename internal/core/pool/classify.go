package pool

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

// statusCoder is implemented by transport errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// retryAfterHinter is implemented by errors that carry a server-supplied
// Retry-After delay.
type retryAfterHinter interface {
	RetryAfterHint() time.Duration
}

// RetryAfter returns the Retry-After delay carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var h retryAfterHinter
	if errors.As(err, &h) {
		if d := h.RetryAfterHint(); d > 0 {
			return d
		}
	}
	return 0
}

// Classify maps an upstream error onto a failure bucket. Typed status codes
// win over message inspection; the message is only consulted when the error
// carries no usable status.
func Classify(err error) core.ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrAttemptTimeout) {
		return core.CategoryTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.CategoryTimeout
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatus() {
		case http.StatusTooManyRequests:
			return core.CategoryRateLimited
		case http.StatusPaymentRequired:
			return core.CategoryPaymentRequired
		case http.StatusGatewayTimeout, http.StatusRequestTimeout:
			return core.CategoryTimeout
		}
	}

	return classifyMessage(err.Error())
}

func classifyMessage(msg string) core.ErrorCategory {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate-limit"):
		return core.CategoryRateLimited
	case strings.Contains(msg, "402"),
		strings.Contains(msg, "payment required"):
		return core.CategoryPaymentRequired
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline exceeded"):
		return core.CategoryTimeout
	default:
		return core.CategoryOther
	}
}
