package actions

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/clienthub/automation/internal/conditions"
	"github.com/clienthub/automation/internal/domain"
	"github.com/clienthub/automation/internal/expressions"
	"github.com/clienthub/automation/internal/logging"
	"github.com/clienthub/automation/pkg/schema"
)

// Executor owns the action registry and is the single entry point for running
// a step. Dispatch never panics past its boundary and never returns nil.
type Executor struct {
	registry *Registry
	interp   *expressions.Interpolator
	logger   *slog.Logger
}

// ExecutorConfig wires the collaborators for the built-in action set.
type ExecutorConfig struct {
	Services  *domain.Services
	Interp    *expressions.Interpolator
	Evaluator *conditions.Evaluator
	Webhook   WebhookConfig
	Logger    *slog.Logger
}

// NewExecutor builds an Executor with all built-in actions registered.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Services == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "executor requires domain services")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{
		registry: NewRegistry(),
		interp:   cfg.Interp,
		logger:   logger,
	}

	builtins := []Action{
		&SendEmailAction{services: cfg.Services, interp: cfg.Interp},
		&SendSMSAction{services: cfg.Services, interp: cfg.Interp},
		&CreateTaskAction{services: cfg.Services},
		&CompleteTaskAction{services: cfg.Services},
		&AssignTaskAction{services: cfg.Services},
		&UpdateStatusAction{services: cfg.Services},
		&AddTagAction{services: cfg.Services},
		&RemoveTagAction{services: cfg.Services},
		&ReassignOwnerAction{services: cfg.Services},
		NewWebhookAction(cfg.Webhook),
		&BranchAction{executor: e, evaluator: cfg.Evaluator},
		&ParallelAction{executor: e},
		&WaitAction{},
	}
	for _, a := range builtins {
		if err := e.registry.Register(a); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Registry exposes the registered action set for listing.
func (e *Executor) Registry() *Registry { return e.registry }

// Dispatch runs one step. Unknown action types, execution errors, and panics
// all come back as a failed Result; the error path never crosses this
// boundary as a Go error or panic.
func (e *Executor) Dispatch(ctx context.Context, step schema.ActionStep, in *ActionInput) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogWith(ctx, e.logger).Error("action panicked",
				slog.String("action", string(step.Type)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			res = &Result{Success: false, Message: fmt.Sprintf("action %s panicked: %v", step.Type, r)}
		}
	}()

	action, err := e.registry.Get(step.Type)
	if err != nil {
		return &Result{Success: false, Message: err.Error()}
	}

	if in == nil {
		in = &ActionInput{}
	}
	in.Interp = e.interp

	params := step.Params
	// Flow-control params embed sub-steps and condition trees; their
	// placeholders resolve when the sub-steps themselves run.
	if e.interp != nil && in.Scope != nil && !flowControl(step.Type) {
		params, err = e.interp.Resolve(ctx, step.Params, in.Scope)
		if err != nil {
			return &Result{Success: false, Message: err.Error()}
		}
	}
	in.Params = params

	result, err := action.Execute(ctx, in)
	if err != nil {
		return &Result{Success: false, Message: err.Error()}
	}
	if result == nil {
		return &Result{Success: true}
	}
	return result
}

func flowControl(t schema.ActionType) bool {
	switch t {
	case schema.ActionBranch, schema.ActionParallel, schema.ActionWait:
		return true
	}
	return false
}
