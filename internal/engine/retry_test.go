package engine

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clienthub/automation/pkg/schema"
)

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))

	assert.True(t, IsRetryableError(schema.NewError(schema.ErrCodeTransient, "flaky upstream")))
	assert.True(t, IsRetryableError(schema.NewError(schema.ErrCodeTimeout, "slow upstream")))
	assert.False(t, IsRetryableError(schema.NewError(schema.ErrCodeValidation, "bad params")))
	assert.False(t, IsRetryableError(schema.NewError(schema.ErrCodeNonRetryable, "rejected")))

	var netErr net.Error = &net.DNSError{Err: "lookup failed", IsTimeout: true}
	assert.True(t, IsRetryableError(netErr))

	// unclassified errors are assumed transient; the retry budget bounds them
	assert.True(t, IsRetryableError(errors.New("connection reset by peer")))
}

func TestRetryableFailure(t *testing.T) {
	assert.True(t, RetryableFailure("[TRANSIENT_ERROR] webhook returned 502"))
	assert.True(t, RetryableFailure("something unexpected"))
	assert.False(t, RetryableFailure("[VALIDATION_ERROR] invalid status"))
	assert.False(t, RetryableFailure("[NON_RETRYABLE] webhook returned 404"))
	assert.False(t, RetryableFailure("[RETRY_EXHAUSTED] webhook failed after 3 attempts"))
	assert.False(t, RetryableFailure("[NOT_FOUND] no such client"))
}

func TestComputeBackoff(t *testing.T) {
	assert.Equal(t, time.Duration(0), ComputeBackoff(nil, 1))
	assert.Equal(t, time.Duration(0), ComputeBackoff(&schema.RetryPolicy{Max: 3}, 1), "default strategy is none")
	assert.Equal(t, time.Duration(0), ComputeBackoff(&schema.RetryPolicy{Max: 3, Backoff: "none"}, 2))

	constant := &schema.RetryPolicy{Max: 3, Backoff: "constant", Delay: "2s"}
	assert.Equal(t, 2*time.Second, ComputeBackoff(constant, 1))
	assert.Equal(t, 2*time.Second, ComputeBackoff(constant, 3))

	linear := &schema.RetryPolicy{Max: 5, Backoff: "linear", Delay: "1s"}
	assert.Equal(t, 1*time.Second, ComputeBackoff(linear, 1))
	assert.Equal(t, 3*time.Second, ComputeBackoff(linear, 3))

	exp := &schema.RetryPolicy{Max: 5, Backoff: "exponential", Delay: "1s"}
	assert.Equal(t, 1*time.Second, ComputeBackoff(exp, 1))
	assert.Equal(t, 2*time.Second, ComputeBackoff(exp, 2))
	assert.Equal(t, 8*time.Second, ComputeBackoff(exp, 4))

	capped := &schema.RetryPolicy{Max: 10, Backoff: "exponential", Delay: "1s", MaxDelay: "5s"}
	assert.Equal(t, 5*time.Second, ComputeBackoff(capped, 6))

	// unparseable delay falls back to the default rather than failing
	bad := &schema.RetryPolicy{Max: 3, Backoff: "constant", Delay: "soon"}
	assert.Equal(t, time.Second, ComputeBackoff(bad, 1))
}

func TestWaitForBackoff(t *testing.T) {
	require.NoError(t, WaitForBackoff(context.Background(), 0))
	require.NoError(t, WaitForBackoff(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitForBackoff(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}
