package schema

import "encoding/json"

// WorkflowDefinition is the JSON-serializable automation rule format.
// The persisted record (name, version, active/template flags, owner) lives in
// the store; this is the wire form of the rule body itself.
type WorkflowDefinition struct {
	SchemaVersion int            `json:"schema_version,omitempty"` // wire format version (current: 1)
	Trigger       TriggerType    `json:"trigger"`
	TriggerConfig *TriggerConfig `json:"trigger_config,omitempty"`
	Condition     *ConditionNode `json:"condition,omitempty"` // absent = always applicable
	Actions       []ActionStep   `json:"actions"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// CurrentSchemaVersion is the wire format version written by this build.
const CurrentSchemaVersion = 1

// TriggerType enumerates the domain events that can start workflow dispatch.
type TriggerType string

const (
	TriggerClientCreated   TriggerType = "client-created"
	TriggerClientUpdated   TriggerType = "client-updated"
	TriggerStatusChanged   TriggerType = "status-changed"
	TriggerStageEntered    TriggerType = "stage-entered"
	TriggerStageExited     TriggerType = "stage-exited"
	TriggerTimeInStage     TriggerType = "time-in-stage"
	TriggerClientInactive  TriggerType = "client-inactive"
	TriggerDocumentDue     TriggerType = "document-due"
	TriggerDocumentExpired TriggerType = "document-expired"
	TriggerTaskDue         TriggerType = "task-due"
	TriggerTaskOverdue     TriggerType = "task-overdue"
	TriggerTaskCompleted   TriggerType = "task-completed"
	TriggerManual          TriggerType = "manual"
	TriggerScheduled       TriggerType = "scheduled"
	TriggerDateBased       TriggerType = "date-based"
)

// KnownTriggerTypes is the closed set of valid trigger types, used by
// validation and the dispatcher.
var KnownTriggerTypes = []TriggerType{
	TriggerClientCreated, TriggerClientUpdated, TriggerStatusChanged,
	TriggerStageEntered, TriggerStageExited, TriggerTimeInStage,
	TriggerClientInactive, TriggerDocumentDue, TriggerDocumentExpired,
	TriggerTaskDue, TriggerTaskOverdue, TriggerTaskCompleted,
	TriggerManual, TriggerScheduled, TriggerDateBased,
}

// ValidTriggerType reports whether t is a member of the closed trigger enum.
func ValidTriggerType(t TriggerType) bool {
	for _, k := range KnownTriggerTypes {
		if k == t {
			return true
		}
	}
	return false
}

// TriggerConfig carries trigger-specific settings. Which fields are required
// depends on the trigger type; validation enforces the pairing.
type TriggerConfig struct {
	Stage         string `json:"stage,omitempty"`          // stage-entered/exited, time-in-stage
	ThresholdDays int    `json:"threshold_days,omitempty"` // time-in-stage, client-inactive, document-due
	Cron          string `json:"cron,omitempty"`           // scheduled (standard 5-field expression)
	DateField     string `json:"date_field,omitempty"`     // date-based (entity timestamp field)
	OffsetDays    int    `json:"offset_days,omitempty"`    // date-based (fire N days before/after)
}

// ConditionKind enumerates the node kinds of a condition tree.
type ConditionKind string

const (
	CondAnd              ConditionKind = "and"
	CondOr               ConditionKind = "or"
	CondStatusEquals     ConditionKind = "status-equals"
	CondHasTag           ConditionKind = "has-tag"
	CondFieldCompare     ConditionKind = "field-compare"
	CondAgeInDays        ConditionKind = "age-in-days"
	CondMissingDocuments ConditionKind = "missing-documents"
	CondActorRole        ConditionKind = "actor-role"
	CondTimeOfDay        ConditionKind = "time-of-day"
	CondDayOfWeek        ConditionKind = "day-of-week"
	CondExpression       ConditionKind = "expression"
)

// KnownConditionKinds is the closed set of valid condition kinds.
var KnownConditionKinds = []ConditionKind{
	CondAnd, CondOr, CondStatusEquals, CondHasTag, CondFieldCompare,
	CondAgeInDays, CondMissingDocuments, CondActorRole, CondTimeOfDay,
	CondDayOfWeek, CondExpression,
}

// ValidConditionKind reports whether k is a member of the closed condition enum.
func ValidConditionKind(k ConditionKind) bool {
	for _, known := range KnownConditionKinds {
		if known == k {
			return true
		}
	}
	return false
}

// ConditionNode is one node of a recursive boolean condition tree.
// Composite kinds (and, or) use Children; leaf kinds use the field group
// matching their kind. Nesting depth is unbounded.
type ConditionNode struct {
	Kind     ConditionKind    `json:"kind"`
	Children []*ConditionNode `json:"children,omitempty"` // and, or

	Status     string   `json:"status,omitempty"`       // status-equals
	Tag        string   `json:"tag,omitempty"`          // has-tag
	Path       string   `json:"path,omitempty"`         // field-compare: jq path into the entity snapshot
	Op         string   `json:"op,omitempty"`           // field-compare, age-in-days: > < = >= <= !=
	Value      any      `json:"value,omitempty"`        // field-compare
	Field      string   `json:"field,omitempty"`        // age-in-days: entity timestamp field
	Days       float64  `json:"days,omitempty"`         // age-in-days threshold
	Category   string   `json:"category,omitempty"`     // missing-documents
	Roles      []string `json:"roles,omitempty"`        // actor-role
	Start      string   `json:"start,omitempty"`        // time-of-day "HH:MM"
	End        string   `json:"end,omitempty"`          // time-of-day "HH:MM"
	DaysOfWeek []any    `json:"days_of_week,omitempty"` // day-of-week: names or 0=Sunday..6=Saturday
	Language   string   `json:"language,omitempty"`     // expression: cel (default) | expr
	Expression string   `json:"expression,omitempty"`   // expression body, must yield bool
}

// ActionType enumerates the kinds of action steps.
type ActionType string

const (
	ActionSendEmail     ActionType = "send-email"
	ActionSendSMS       ActionType = "send-sms"
	ActionCreateTask    ActionType = "create-task"
	ActionCompleteTask  ActionType = "complete-task"
	ActionAssignTask    ActionType = "assign-task"
	ActionUpdateStatus  ActionType = "update-status"
	ActionAddTag        ActionType = "add-tag"
	ActionRemoveTag     ActionType = "remove-tag"
	ActionReassignOwner ActionType = "reassign-owner"
	ActionCallWebhook   ActionType = "call-webhook"
	ActionBranch        ActionType = "branch"
	ActionParallel      ActionType = "parallel"
	ActionWait          ActionType = "wait"
)

// KnownActionTypes is the closed set of valid action types.
var KnownActionTypes = []ActionType{
	ActionSendEmail, ActionSendSMS, ActionCreateTask, ActionCompleteTask,
	ActionAssignTask, ActionUpdateStatus, ActionAddTag, ActionRemoveTag,
	ActionReassignOwner, ActionCallWebhook, ActionBranch, ActionParallel,
	ActionWait,
}

// ValidActionType reports whether t is a member of the closed action enum.
func ValidActionType(t ActionType) bool {
	for _, known := range KnownActionTypes {
		if known == t {
			return true
		}
	}
	return false
}

// ActionStep describes one ordered action within a workflow definition.
type ActionStep struct {
	Type   ActionType      `json:"type"`
	Params json.RawMessage `json:"params,omitempty"` // action-specific parameters
	Retry  *RetryPolicy    `json:"retry,omitempty"`  // optional retry around transient failures
}

// RetryPolicy configures retry behavior for a step.
type RetryPolicy struct {
	Max      int    `json:"max"`                 // max retry attempts
	Backoff  string `json:"backoff,omitempty"`   // none | constant | linear | exponential (default: none)
	Delay    string `json:"delay,omitempty"`     // initial delay (e.g. "1s", "500ms")
	MaxDelay string `json:"max_delay,omitempty"` // cap for computed delays
}

// BranchParams is the params block for branch steps. Sub-actions run inline
// inside the branch step; they do not get their own top-level log rows.
type BranchParams struct {
	Condition *ConditionNode `json:"condition"`
	Then      []ActionStep   `json:"then,omitempty"`
	Else      []ActionStep   `json:"else,omitempty"`
}

// ParallelParams is the params block for parallel steps.
type ParallelParams struct {
	Actions         []ActionStep `json:"actions"`
	ContinueOnError bool         `json:"continue_on_error,omitempty"`
}

// WaitParams is the params block for wait steps. The delay is honored by
// parking the execution and resuming later, never by sleeping a worker.
type WaitParams struct {
	Duration string `json:"duration"` // e.g. "48h", "30m"
}

// WebhookParams is the params block for call-webhook steps.
type WebhookParams struct {
	URL            string            `json:"url"`
	Method         string            `json:"method,omitempty"` // default POST
	Headers        map[string]string `json:"headers,omitempty"`
	Body           any               `json:"body,omitempty"` // placeholder-interpolated before send
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	MaxRetries     int               `json:"max_retries,omitempty"`
	RetryDelay     string            `json:"retry_delay,omitempty"` // fixed inter-attempt delay
}
