package schema

// Activity event type constants, emitted on execution state changes and
// streamed to observers.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionCancelled = "execution_cancelled"
	EventExecutionPaused    = "execution_paused"
	EventExecutionResumed   = "execution_resumed"

	EventStepSucceeded = "step_succeeded"
	EventStepFailed    = "step_failed"
	EventStepSkipped   = "step_skipped"
	EventStepRetrying  = "step_retrying"

	EventConditionError   = "condition_error"
	EventConditionNoMatch = "condition_no_match"
	EventWaitScheduled    = "wait_scheduled"
	EventWebhookAttempt   = "webhook_attempt"
)

// ExecutionStatus represents the lifecycle state of one workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// LogStatus represents the recorded outcome of one executed action step.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogFailed  LogStatus = "failed"
	LogSkipped LogStatus = "skipped"
)
