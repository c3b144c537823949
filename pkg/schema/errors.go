package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeTransient         = "TRANSIENT_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStepFailed        = "STEP_FAILED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeVault             = "VAULT_ERROR"
	ErrCodeNonRetryable      = "NON_RETRYABLE"
)

// AutomationError is the structured error type for all engine operations.
type AutomationError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	StepIndex int            `json:"step_index,omitempty"`
	hasStep   bool
	Cause     error `json:"-"`
}

func (e *AutomationError) Error() string {
	if e.hasStep {
		return fmt.Sprintf("[%s] step %d: %s", e.Code, e.StepIndex, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AutomationError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error's code marks a transient failure.
func (e *AutomationError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTransient, ErrCodeTimeout, ErrCodeStore:
		return true
	default:
		return false
	}
}

// NewError creates a new AutomationError.
func NewError(code, message string) *AutomationError {
	return &AutomationError{Code: code, Message: message}
}

// NewErrorf creates a new AutomationError with a formatted message.
func NewErrorf(code, format string, args ...any) *AutomationError {
	return &AutomationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step index to the error.
func (e *AutomationError) WithStep(index int) *AutomationError {
	e.StepIndex = index
	e.hasStep = true
	return e
}

// WithCause attaches an underlying cause.
func (e *AutomationError) WithCause(err error) *AutomationError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *AutomationError) WithDetails(details map[string]any) *AutomationError {
	e.Details = details
	return e
}
