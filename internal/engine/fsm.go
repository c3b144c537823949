package engine

import (
	"context"

	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/pkg/schema"
)

// TransitionHook runs around a lifecycle transition. Before-hooks can veto
// the transition by returning an error; after-hooks are best-effort.
type TransitionHook func(ctx context.Context, ex *store.Execution, from, to schema.ExecutionStatus) error

type transitionKey struct {
	from schema.ExecutionStatus
	to   schema.ExecutionStatus
}

// FSM validates and applies execution lifecycle transitions. Terminal states
// admit no outgoing edges. Safe for concurrent use after hook registration.
type FSM struct {
	transitions map[schema.ExecutionStatus][]schema.ExecutionStatus
	before      map[transitionKey][]TransitionHook
	after       map[transitionKey][]TransitionHook
}

// NewFSM builds the lifecycle graph:
//
//	pending -> running, cancelled
//	running -> paused, completed, failed, cancelled
//	paused  -> running, cancelled, failed
func NewFSM() *FSM {
	return &FSM{
		transitions: map[schema.ExecutionStatus][]schema.ExecutionStatus{
			schema.ExecutionPending: {schema.ExecutionRunning, schema.ExecutionCancelled},
			schema.ExecutionRunning: {schema.ExecutionPaused, schema.ExecutionCompleted, schema.ExecutionFailed, schema.ExecutionCancelled},
			schema.ExecutionPaused:  {schema.ExecutionRunning, schema.ExecutionCancelled, schema.ExecutionFailed},
		},
		before: make(map[transitionKey][]TransitionHook),
		after:  make(map[transitionKey][]TransitionHook),
	}
}

// OnBefore registers a hook that runs before the from->to transition and can
// veto it.
func (f *FSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	key := transitionKey{from: from, to: to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook that runs after the from->to transition commits.
func (f *FSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	key := transitionKey{from: from, to: to}
	f.after[key] = append(f.after[key], hook)
}

// CanTransition reports whether from->to is an edge of the lifecycle graph.
func (f *FSM) CanTransition(from, to schema.ExecutionStatus) bool {
	for _, allowed := range f.transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition applies from ex.Status to the target status, running before and
// after hooks. A before-hook error vetoes the transition and leaves ex
// untouched. After-hook errors are swallowed; the transition has already
// committed.
func (f *FSM) Transition(ctx context.Context, ex *store.Execution, to schema.ExecutionStatus) error {
	from := ex.Status
	if !f.CanTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot transition execution %q from %s to %s", ex.ID, from, to)
	}

	key := transitionKey{from: from, to: to}
	for _, hook := range f.before[key] {
		if err := hook(ctx, ex, from, to); err != nil {
			return schema.NewErrorf(schema.ErrCodeInvalidTransition,
				"transition %s -> %s vetoed: %s", from, to, err.Error()).WithCause(err)
		}
	}

	ex.Status = to

	for _, hook := range f.after[key] {
		_ = hook(ctx, ex, from, to)
	}
	return nil
}

// TransitionEvent maps a committed transition to the activity event it emits.
// Returns "" for edges that carry no event.
func TransitionEvent(from, to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionRunning:
		if from == schema.ExecutionPaused {
			return schema.EventExecutionResumed
		}
		return schema.EventExecutionStarted
	case schema.ExecutionPaused:
		return schema.EventExecutionPaused
	case schema.ExecutionCompleted:
		return schema.EventExecutionCompleted
	case schema.ExecutionFailed:
		return schema.EventExecutionFailed
	case schema.ExecutionCancelled:
		return schema.EventExecutionCancelled
	}
	return ""
}
