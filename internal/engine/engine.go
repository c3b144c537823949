package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/clienthub/automation/internal/actions"
	"github.com/clienthub/automation/internal/conditions"
	"github.com/clienthub/automation/internal/domain"
	"github.com/clienthub/automation/internal/expressions"
	"github.com/clienthub/automation/internal/logging"
	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/internal/streaming"
	"github.com/clienthub/automation/pkg/schema"
)

// Config wires the engine's collaborators.
type Config struct {
	Store     store.Store
	Executor  *actions.Executor
	Evaluator *conditions.Evaluator
	Services  *domain.Services
	Hub       streaming.EventHub // optional
	Logger    *slog.Logger
	Clock     func() time.Time // injectable for tests
}

// Engine drives workflow executions: it gates on the definition's condition,
// runs action steps in order, records a log row per step, and owns all
// lifecycle transitions. One engine instance serves all executions.
type Engine struct {
	store     store.Store
	executor  *actions.Executor
	evaluator *conditions.Evaluator
	services  *domain.Services
	hub       streaming.EventHub
	logger    *slog.Logger
	fsm       *FSM
	clock     func() time.Time
}

// New builds an Engine from the given configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires a store")
	}
	if cfg.Executor == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires an action executor")
	}
	if cfg.Evaluator == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires a condition evaluator")
	}
	if cfg.Services == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires domain services")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	e := &Engine{
		store:     cfg.Store,
		executor:  cfg.Executor,
		evaluator: cfg.Evaluator,
		services:  cfg.Services,
		hub:       cfg.Hub,
		logger:    logger,
		fsm:       NewFSM(),
		clock:     clock,
	}
	e.fsm.OnAfter(schema.ExecutionPending, schema.ExecutionRunning, e.logTransition)
	e.fsm.OnAfter(schema.ExecutionPaused, schema.ExecutionRunning, e.logTransition)
	return e, nil
}

func (e *Engine) logTransition(ctx context.Context, ex *store.Execution, from, to schema.ExecutionStatus) error {
	logging.LogWith(ctx, e.logger).Info("execution transition",
		slog.String("from", string(from)), slog.String("to", string(to)))
	return nil
}

// Run evaluates the definition's condition against the event and, on a match,
// creates an execution and drives it until it completes, fails, pauses, or is
// cancelled. A non-matching condition produces no execution and no error. A
// condition that cannot be evaluated produces no execution and a validation
// error, and is recorded in the activity log.
func (e *Engine) Run(ctx context.Context, def *store.Definition, event *schema.TriggerEvent) (*store.Execution, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "run requires a definition")
	}
	if event == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "run requires a trigger event")
	}

	event = event.Clone()
	now := e.clock()
	scope := expressions.NewScope(event, now)
	evalCtx := e.buildEvalContext(ctx, scope, event, now)
	ctx = logging.WithDefinitionID(ctx, def.ID)

	if def.Body.Condition != nil {
		res := e.evaluator.Evaluate(ctx, def.Body.Condition, evalCtx)
		if !res.OK {
			e.recordActivity(ctx, &domain.ActivityEntry{
				ClientID:     event.ClientID,
				Kind:         schema.EventConditionError,
				Message:      fmt.Sprintf("definition %q condition could not be evaluated: %s", def.Name, res.Message),
				DefinitionID: def.ID,
				OccurredAt:   now,
			})
			e.publish(ctx, streaming.StreamEvent{
				DefinitionID: def.ID,
				StepIndex:    -1,
				EventType:    schema.EventConditionError,
				Payload:      map[string]any{"error": res.Message},
			})
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"condition evaluation failed: %s", res.Message)
		}
		if !res.Matched {
			e.publish(ctx, streaming.StreamEvent{
				DefinitionID: def.ID,
				StepIndex:    -1,
				EventType:    schema.EventConditionNoMatch,
			})
			return nil, nil
		}
	}

	snapshot, err := json.Marshal(event)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "snapshot trigger event: %s", err.Error()).WithCause(err)
	}

	ex := &store.Execution{
		ID:                uuid.NewString(),
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		TriggerType:       event.Type,
		Status:            schema.ExecutionPending,
		TriggerSnapshot:   snapshot,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.CreateExecution(ctx, ex); err != nil {
		return nil, err
	}
	ctx = logging.WithExecutionID(ctx, ex.ID)

	started := e.clock()
	if err := e.setStatus(ctx, ex, schema.ExecutionRunning, store.ExecutionUpdate{StartedAt: &started}, nil); err != nil {
		return ex, err
	}

	e.runSteps(ctx, ex, def, scope, evalCtx, event, 0)
	return e.store.GetExecution(ctx, ex.ID)
}

// Resume restarts a paused execution at its recorded next step. Prior step
// outputs are replayed from the execution log so later placeholders still
// resolve. Any wait timer for the execution is consumed.
func (e *Engine) Resume(ctx context.Context, executionID string) (*store.Execution, error) {
	ex, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if ex.Status != schema.ExecutionPaused {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot resume execution %q in status %s", ex.ID, ex.Status)
	}
	def, err := e.store.GetDefinition(ctx, ex.DefinitionID)
	if err != nil {
		return nil, err
	}

	var event schema.TriggerEvent
	if len(ex.TriggerSnapshot) > 0 {
		if err := json.Unmarshal(ex.TriggerSnapshot, &event); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"decode trigger snapshot for execution %q: %s", ex.ID, err.Error()).WithCause(err)
		}
	}

	now := e.clock()
	scope := expressions.NewScope(&event, now)
	logs, err := e.store.ListLogs(ctx, ex.ID)
	if err != nil {
		return nil, err
	}
	for _, entry := range logs {
		if entry.Status == schema.LogSuccess {
			if err := scope.AddStepOutput(entry.StepIndex, entry.Output); err != nil {
				logging.LogWith(ctx, e.logger).Warn("replay step output",
					slog.Int("step_index", entry.StepIndex), slog.String("error", err.Error()))
			}
		}
	}
	evalCtx := e.buildEvalContext(ctx, scope, &event, now)

	if err := e.store.DeleteWaitTimer(ctx, ex.ID); err != nil {
		logging.LogWith(ctx, e.logger).Warn("delete wait timer", slog.String("error", err.Error()))
	}

	ctx = logging.WithIDs(ctx, ex.ID, def.ID)
	if err := e.setStatus(ctx, ex, schema.ExecutionRunning, store.ExecutionUpdate{}, nil); err != nil {
		return nil, err
	}

	e.runSteps(ctx, ex, def, scope, evalCtx, &event, ex.CurrentStepIndex)
	return e.store.GetExecution(ctx, ex.ID)
}

// Pause parks a running execution. The step in flight finishes; the run loop
// observes the new status before starting the next step.
func (e *Engine) Pause(ctx context.Context, executionID string) (*store.Execution, error) {
	ex, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithIDs(ctx, ex.ID, ex.DefinitionID)
	if err := e.setStatus(ctx, ex, schema.ExecutionPaused, store.ExecutionUpdate{}, nil); err != nil {
		return nil, err
	}
	return ex, nil
}

// Cancel terminates a pending, running, or paused execution. A running
// execution stops before its next step; its wait timer, if any, is removed.
func (e *Engine) Cancel(ctx context.Context, executionID string) (*store.Execution, error) {
	ex, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithIDs(ctx, ex.ID, ex.DefinitionID)

	now := e.clock()
	if err := e.setStatus(ctx, ex, schema.ExecutionCancelled, store.ExecutionUpdate{CompletedAt: &now}, nil); err != nil {
		return nil, err
	}
	if err := e.store.DeleteWaitTimer(ctx, ex.ID); err != nil {
		logging.LogWith(ctx, e.logger).Warn("delete wait timer", slog.String("error", err.Error()))
	}
	return ex, nil
}

// ResumeDue resumes every paused execution whose wait timer has come due.
// Returns the number of executions resumed.
func (e *Engine) ResumeDue(ctx context.Context, limit int) (int, error) {
	timers, err := e.store.DueWaitTimers(ctx, limit)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, timer := range timers {
		if _, err := e.Resume(ctx, timer.ExecutionID); err != nil {
			logging.LogWith(ctx, e.logger).Warn("resume due execution",
				slog.String("execution_id", timer.ExecutionID),
				slog.String("error", err.Error()))
			continue
		}
		resumed++
	}
	return resumed, nil
}

// runSteps executes steps from start onward, halting at the first failure.
// A panic anywhere below this frame fails the execution instead of crashing
// the worker.
func (e *Engine) runSteps(ctx context.Context, ex *store.Execution, def *store.Definition, scope *expressions.Scope, evalCtx *conditions.EvalContext, event *schema.TriggerEvent, start int) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogWith(ctx, e.logger).Error("execution panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			e.failExecution(ctx, ex, fmt.Sprintf("execution panicked: %v", r))
		}
	}()

	steps := def.Body.Actions
	for i := start; i < len(steps); i++ {
		// observe external pause/cancel between steps
		if current, err := e.store.GetExecution(ctx, ex.ID); err == nil {
			ex.Status = current.Status
			ex.CurrentStepIndex = current.CurrentStepIndex
			if ex.Status != schema.ExecutionRunning {
				return
			}
		}

		stepCtx := logging.WithStepIndex(ctx, i)
		step := steps[i]
		input := &actions.ActionInput{ClientID: event.ClientID, Scope: scope, EvalCtx: evalCtx}
		result := e.runStep(stepCtx, ex, i, step, input)

		entry := &store.ExecutionLog{
			ExecutionID: ex.ID,
			StepIndex:   i,
			ActionType:  step.Type,
			Input:       step.Params,
			Output:      result.Output,
			CreatedAt:   e.clock(),
		}
		if result.Success {
			entry.Status = schema.LogSuccess
		} else {
			entry.Status = schema.LogFailed
			entry.Error = result.Message
		}
		if err := e.store.AppendLog(stepCtx, entry); err != nil {
			e.failExecution(ctx, ex, fmt.Sprintf("record step %d result: %s", i, err.Error()))
			return
		}

		if !result.Success {
			e.publish(stepCtx, streaming.StreamEvent{
				ExecutionID:  ex.ID,
				DefinitionID: def.ID,
				StepIndex:    i,
				EventType:    schema.EventStepFailed,
				Payload:      map[string]any{"action": string(step.Type), "error": result.Message},
			})
			e.failExecution(ctx, ex, fmt.Sprintf("step %d (%s) failed: %s", i, step.Type, result.Message))
			return
		}

		if result.Wait != nil {
			e.parkExecution(stepCtx, ex, i, result.Wait.Duration)
			return
		}

		if err := scope.AddStepOutput(i, result.Output); err != nil {
			logging.LogWith(stepCtx, e.logger).Warn("register step output", slog.String("error", err.Error()))
		}
		e.publish(stepCtx, streaming.StreamEvent{
			ExecutionID:  ex.ID,
			DefinitionID: def.ID,
			StepIndex:    i,
			EventType:    schema.EventStepSucceeded,
			Payload:      map[string]any{"action": string(step.Type)},
		})

		next := i + 1
		if err := e.store.UpdateExecution(stepCtx, ex.ID, store.ExecutionUpdate{CurrentStepIndex: &next}); err != nil {
			e.failExecution(ctx, ex, fmt.Sprintf("advance past step %d: %s", i, err.Error()))
			return
		}
		ex.CurrentStepIndex = next
	}

	now := e.clock()
	if err := e.setStatus(ctx, ex, schema.ExecutionCompleted, store.ExecutionUpdate{CompletedAt: &now}, nil); err != nil {
		logging.LogWith(ctx, e.logger).Error("complete execution", slog.String("error", err.Error()))
	}
}

// runStep dispatches one step, applying its retry policy around failures
// that are not deterministic.
func (e *Engine) runStep(ctx context.Context, ex *store.Execution, index int, step schema.ActionStep, input *actions.ActionInput) *actions.Result {
	result := e.executor.Dispatch(ctx, step, input)
	if result.Success || step.Retry == nil || step.Retry.Max <= 0 {
		return result
	}

	for attempt := 1; attempt <= step.Retry.Max; attempt++ {
		if !RetryableFailure(result.Message) {
			return result
		}
		delay := ComputeBackoff(step.Retry, attempt)
		e.publish(ctx, streaming.StreamEvent{
			ExecutionID:  ex.ID,
			DefinitionID: ex.DefinitionID,
			StepIndex:    index,
			EventType:    schema.EventStepRetrying,
			Payload:      map[string]any{"attempt": attempt, "delay": delay.String(), "error": result.Message},
		})
		if err := WaitForBackoff(ctx, delay); err != nil {
			return result
		}
		result = e.executor.Dispatch(ctx, step, input)
		if result.Success {
			return result
		}
	}
	return result
}

// parkExecution persists a wait timer and pauses the execution at the step
// after the wait. The worker is released; the scheduler resumes the
// execution when the timer comes due.
func (e *Engine) parkExecution(ctx context.Context, ex *store.Execution, waitStep int, duration time.Duration) {
	next := waitStep + 1
	resumeAt := e.clock().Add(duration)
	timer := &store.WaitTimer{
		ExecutionID:   ex.ID,
		NextStepIndex: next,
		ResumeAt:      resumeAt,
		CreatedAt:     e.clock(),
	}
	if err := e.store.CreateWaitTimer(ctx, timer); err != nil {
		e.failExecution(ctx, ex, fmt.Sprintf("schedule wait at step %d: %s", waitStep, err.Error()))
		return
	}

	e.publish(ctx, streaming.StreamEvent{
		ExecutionID:  ex.ID,
		DefinitionID: ex.DefinitionID,
		StepIndex:    waitStep,
		EventType:    schema.EventWaitScheduled,
		Payload:      map[string]any{"resume_at": resumeAt.Format(time.RFC3339), "next_step": next},
	})
	if err := e.setStatus(ctx, ex, schema.ExecutionPaused, store.ExecutionUpdate{CurrentStepIndex: &next}, nil); err != nil {
		logging.LogWith(ctx, e.logger).Error("pause for wait", slog.String("error", err.Error()))
		return
	}
	ex.CurrentStepIndex = next
}

// failExecution moves the execution to failed with the given error message.
// Executions already in a terminal state are left untouched.
func (e *Engine) failExecution(ctx context.Context, ex *store.Execution, message string) {
	if ex.Status.Terminal() {
		return
	}
	now := e.clock()
	upd := store.ExecutionUpdate{Error: &message, CompletedAt: &now}
	if err := e.setStatus(ctx, ex, schema.ExecutionFailed, upd, map[string]any{"error": message}); err != nil {
		logging.LogWith(ctx, e.logger).Error("fail execution", slog.String("error", err.Error()))
	}
}

// setStatus validates the lifecycle transition, persists it together with the
// given field updates, and emits the matching event to the hub and the
// activity log.
func (e *Engine) setStatus(ctx context.Context, ex *store.Execution, to schema.ExecutionStatus, upd store.ExecutionUpdate, payload map[string]any) error {
	from := ex.Status
	if err := e.fsm.Transition(ctx, ex, to); err != nil {
		return err
	}
	upd.Status = &to
	if err := e.store.UpdateExecution(ctx, ex.ID, upd); err != nil {
		ex.Status = from
		return err
	}

	eventType := TransitionEvent(from, to)
	if eventType == "" {
		return nil
	}
	e.publish(ctx, streaming.StreamEvent{
		ExecutionID:  ex.ID,
		DefinitionID: ex.DefinitionID,
		StepIndex:    -1,
		EventType:    eventType,
		Payload:      payload,
	})
	e.recordActivity(ctx, &domain.ActivityEntry{
		Kind:         eventType,
		Message:      fmt.Sprintf("execution %s", to),
		Details:      payload,
		OccurredAt:   e.clock(),
		ExecutionID:  ex.ID,
		DefinitionID: ex.DefinitionID,
	})
	return nil
}

// buildEvalContext assembles the condition evaluation context: the scope,
// the client's documents, and the resolved acting user.
func (e *Engine) buildEvalContext(ctx context.Context, scope *expressions.Scope, event *schema.TriggerEvent, now time.Time) *conditions.EvalContext {
	ec := &conditions.EvalContext{Scope: scope, Now: now}
	if event == nil {
		return ec
	}
	if event.ClientID != "" && e.services.Documents != nil {
		if docs, err := e.services.Documents.ListDocuments(ctx, event.ClientID); err == nil {
			ec.Documents = docs
		}
	}
	if event.ActorID != "" && e.services.Actors != nil {
		if actor, err := e.services.Actors.ActorByID(ctx, event.ActorID); err == nil {
			ec.Actor = actor
			scope.SetActor(map[string]any{
				"id":    actor.ID,
				"name":  actor.Name,
				"role":  actor.Role,
				"email": actor.Email,
			})
		}
	}
	return ec
}

func (e *Engine) publish(ctx context.Context, ev streaming.StreamEvent) {
	if e.hub == nil {
		return
	}
	if err := e.hub.Publish(ctx, ev); err != nil {
		logging.LogWith(ctx, e.logger).Debug("publish event",
			slog.String("event_type", ev.EventType), slog.String("error", err.Error()))
	}
}

func (e *Engine) recordActivity(ctx context.Context, entry *domain.ActivityEntry) {
	if e.services == nil || e.services.Activity == nil {
		return
	}
	if err := e.services.Activity.Append(ctx, entry); err != nil {
		logging.LogWith(ctx, e.logger).Warn("append activity",
			slog.String("kind", entry.Kind), slog.String("error", err.Error()))
	}
}
