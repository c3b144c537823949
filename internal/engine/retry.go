package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/clienthub/automation/pkg/schema"
)

const (
	defaultRetryDelay = time.Second
	defaultMaxDelay   = 5 * time.Minute
)

// IsRetryableError classifies an error for retry purposes. Cancellation is
// never retried; deadline expiry and network errors are. Typed errors carry
// their own classification. Unclassified errors are assumed transient since
// the retry budget is bounded per step.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ae *schema.AutomationError
	if errors.As(err, &ae) {
		return ae.IsRetryable()
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}

	return true
}

// nonRetryableCodes mark failures that are deterministic: re-running the
// step with the same inputs cannot change the outcome.
var nonRetryableCodes = []string{
	schema.ErrCodeValidation,
	schema.ErrCodeNonRetryable,
	schema.ErrCodeRetryExhausted,
	schema.ErrCodeNotFound,
	schema.ErrCodeCancelled,
	schema.ErrCodeInvalidTransition,
	schema.ErrCodeConflict,
	schema.ErrCodeInterpolation,
}

// RetryableFailure classifies a failed step result by the error code embedded
// in its message. Messages without a recognized code are assumed transient.
func RetryableFailure(message string) bool {
	for _, code := range nonRetryableCodes {
		if strings.Contains(message, "["+code+"]") {
			return false
		}
	}
	return true
}

// ComputeBackoff returns the delay before the given retry attempt (1-based).
// Unparseable delays fall back to the defaults rather than failing the step.
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil || attempt < 1 {
		return 0
	}

	delay := defaultRetryDelay
	if policy.Delay != "" {
		if d, err := time.ParseDuration(policy.Delay); err == nil && d > 0 {
			delay = d
		}
	}

	var computed time.Duration
	switch policy.Backoff {
	case "constant":
		computed = delay
	case "linear":
		computed = delay * time.Duration(attempt)
	case "exponential":
		computed = delay
		for i := 1; i < attempt; i++ {
			computed *= 2
			if computed > defaultMaxDelay {
				break
			}
		}
	default: // "none" and unrecognized strategies retry immediately
		return 0
	}

	maxDelay := defaultMaxDelay
	if policy.MaxDelay != "" {
		if d, err := time.ParseDuration(policy.MaxDelay); err == nil && d > 0 {
			maxDelay = d
		}
	}
	if computed > maxDelay {
		computed = maxDelay
	}
	return computed
}

// WaitForBackoff sleeps for the given delay, aborting early if the context
// is done.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
