package store

import (
	"encoding/json"
	"time"

	"github.com/clienthub/automation/pkg/schema"
)

// Definition is the persisted form of a workflow definition: the rule body
// plus the management metadata (name, version, flags, ownership).
type Definition struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Body        schema.WorkflowDefinition `json:"body"`
	Active      bool                      `json:"active"`
	Template    bool                      `json:"template"`
	Version     int                       `json:"version"`
	OwnerID     string                    `json:"owner_id,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// Execution is one run of a definition against one triggering event.
// Owned exclusively by the engine run that created it.
type Execution struct {
	ID                string                 `json:"id"`
	DefinitionID      string                 `json:"definition_id"`
	DefinitionVersion int                    `json:"definition_version"`
	TriggerType       schema.TriggerType     `json:"trigger_type"`
	Status            schema.ExecutionStatus `json:"status"`
	CurrentStepIndex  int                    `json:"current_step_index"`
	TriggerSnapshot   json.RawMessage        `json:"trigger_snapshot,omitempty"` // immutable event copy
	Error             string                 `json:"error,omitempty"`
	StartedAt         *time.Time             `json:"started_at,omitempty"`
	CompletedAt       *time.Time             `json:"completed_at,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// ExecutionLog is the immutable audit record of one executed action step.
// Rows are appended in strictly increasing step order and never modified.
type ExecutionLog struct {
	ID          int64            `json:"id"`
	ExecutionID string           `json:"execution_id"`
	StepIndex   int              `json:"step_index"`
	ActionType  schema.ActionType `json:"action_type"`
	Status      schema.LogStatus `json:"status"`
	Input       json.RawMessage  `json:"input,omitempty"`
	Output      json.RawMessage  `json:"output,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// WaitTimer marks a paused execution awaiting resumption at ResumeAt.
// One timer per execution; backs the durable wait action.
type WaitTimer struct {
	ExecutionID   string    `json:"execution_id"`
	NextStepIndex int       `json:"next_step_index"`
	ResumeAt      time.Time `json:"resume_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Secret is an encrypted key-value entry.
type Secret struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"-"` // encrypted, never serialized
	CreatedAt time.Time `json:"created_at"`
}

// --- Filter and update types ---

// DefinitionFilter specifies criteria for listing definitions.
type DefinitionFilter struct {
	Trigger  *schema.TriggerType `json:"trigger,omitempty"`
	Active   *bool               `json:"active,omitempty"`
	Template *bool               `json:"template,omitempty"`
	OwnerID  string              `json:"owner_id,omitempty"`
	Limit    int                 `json:"limit,omitempty"`
	Offset   int                 `json:"offset,omitempty"`
}

// DefinitionUpdate specifies mutable fields of a definition. The caller
// (definition service) is responsible for version bumps on body edits.
type DefinitionUpdate struct {
	Name        *string                    `json:"name,omitempty"`
	Description *string                    `json:"description,omitempty"`
	Body        *schema.WorkflowDefinition `json:"body,omitempty"`
	Active      *bool                      `json:"active,omitempty"`
	Version     *int                       `json:"version,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	DefinitionID string                  `json:"definition_id,omitempty"`
	Status       *schema.ExecutionStatus `json:"status,omitempty"`
	Trigger      *schema.TriggerType     `json:"trigger,omitempty"`
	Since        *time.Time              `json:"since,omitempty"`
	Limit        int                     `json:"limit,omitempty"`
	Offset       int                     `json:"offset,omitempty"`
}

// ExecutionUpdate specifies mutable fields of an execution.
type ExecutionUpdate struct {
	Status           *schema.ExecutionStatus `json:"status,omitempty"`
	CurrentStepIndex *int                    `json:"current_step_index,omitempty"`
	Error            *string                 `json:"error,omitempty"`
	StartedAt        *time.Time              `json:"started_at,omitempty"`
	CompletedAt      *time.Time              `json:"completed_at,omitempty"`
}
