package pool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("upstream returned %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want core.ErrorCategory
	}{
		{"Nil", nil, ""},
		{"Status429Text", errors.New("http status 429 Too Many Requests"), core.CategoryRateLimited},
		{"RateLimitText", errors.New("rpc error -32005: rate limit exceeded"), core.CategoryRateLimited},
		{"Status402Text", errors.New("http status 402"), core.CategoryPaymentRequired},
		{"PaymentRequiredText", errors.New("Payment Required"), core.CategoryPaymentRequired},
		{"TimeoutText", errors.New("read tcp: i/o timeout"), core.CategoryTimeout},
		{"DeadlineExceeded", fmt.Errorf("call: %w", context.DeadlineExceeded), core.CategoryTimeout},
		{"AttemptTimeout", fmt.Errorf("x: %w", ErrAttemptTimeout), core.CategoryTimeout},
		{"TypedStatus429", statusErr(429), core.CategoryRateLimited},
		{"TypedStatus402", statusErr(402), core.CategoryPaymentRequired},
		{"TypedStatus504", statusErr(504), core.CategoryTimeout},
		{"TypedStatus500", statusErr(500), core.CategoryOther},
		{"Other", errors.New("connection refused"), core.CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
