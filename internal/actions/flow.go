package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/clienthub/automation/internal/conditions"
	"github.com/clienthub/automation/pkg/schema"
)

// subResult is the recorded outcome of one inline sub-action. Sub-actions do
// not get top-level log rows; their results travel in the parent step's output.
type subResult struct {
	Action  schema.ActionType `json:"action"`
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Output  json.RawMessage   `json:"output,omitempty"`
}

func childInput(in *ActionInput) *ActionInput {
	return &ActionInput{
		ClientID: in.ClientID,
		Scope:    in.Scope,
		EvalCtx:  in.EvalCtx,
		Interp:   in.Interp,
	}
}

// BranchAction evaluates a condition and runs the matching sub-action list
// inline, halting the branch at the first sub-action failure.
type BranchAction struct {
	executor  *Executor
	evaluator *conditions.Evaluator
}

func (a *BranchAction) Name() schema.ActionType { return schema.ActionBranch }
func (a *BranchAction) Description() string {
	return "Evaluate a condition and run the then or else sub-actions inline."
}

func (a *BranchAction) Execute(ctx context.Context, in *ActionInput) (*Result, error) {
	var p schema.BranchParams
	if err := decodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	if p.Condition == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "branch requires a condition")
	}
	if a.evaluator == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "branch: no condition evaluator configured")
	}

	cond := a.evaluator.Evaluate(ctx, p.Condition, in.EvalCtx)
	if !cond.OK {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "branch condition: %s", cond.Message)
	}

	steps := p.Then
	taken := "then"
	if !cond.Matched {
		steps = p.Else
		taken = "else"
	}

	results := make([]subResult, 0, len(steps))
	for i, step := range steps {
		if flowControl(step.Type) && step.Type != schema.ActionBranch {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"branch sub-action %d: %s not allowed inside branch", i, step.Type)
		}
		r := a.executor.Dispatch(ctx, step, childInput(in))
		if r.Wait != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"branch sub-action %d: wait not allowed inside branch", i)
		}
		results = append(results, subResult{
			Action: step.Type, Success: r.Success, Message: r.Message, Output: r.Output,
		})
		if !r.Success {
			out, _ := json.Marshal(map[string]any{"matched": cond.Matched, "branch": taken, "results": results})
			return &Result{
				Success: false,
				Message: fmt.Sprintf("branch %s sub-action %d (%s) failed: %s", taken, i, step.Type, r.Message),
				Output:  json.RawMessage(out),
			}, nil
		}
	}

	out, err := json.Marshal(map[string]any{"matched": cond.Matched, "branch": taken, "results": results})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "branch: marshal output: %s", err.Error()).WithCause(err)
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("branch took %s (%d sub-actions)", taken, len(steps)),
		Output:  json.RawMessage(out),
	}, nil
}

// ParallelAction runs sub-actions concurrently. With continue_on_error the
// step succeeds regardless of sub-action failures; otherwise the first
// failure fails the step.
type ParallelAction struct {
	executor *Executor
}

func (a *ParallelAction) Name() schema.ActionType { return schema.ActionParallel }
func (a *ParallelAction) Description() string {
	return "Run sub-actions concurrently; continue_on_error tolerates failures."
}

func (a *ParallelAction) Execute(ctx context.Context, in *ActionInput) (*Result, error) {
	var p schema.ParallelParams
	if err := decodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	if len(p.Actions) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "parallel requires at least one sub-action")
	}
	for i, step := range p.Actions {
		if flowControl(step.Type) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"parallel sub-action %d: %s not allowed inside parallel", i, step.Type)
		}
	}

	results := make([]subResult, len(p.Actions))
	var wg sync.WaitGroup
	for i, step := range p.Actions {
		wg.Add(1)
		go func(i int, step schema.ActionStep) {
			defer wg.Done()
			// Dispatch recovers panics, so a failing goroutine cannot
			// take down its siblings.
			r := a.executor.Dispatch(ctx, step, childInput(in))
			msg := r.Message
			success := r.Success
			if r.Wait != nil {
				success = false
				msg = "wait not allowed inside parallel"
			}
			results[i] = subResult{Action: step.Type, Success: success, Message: msg, Output: r.Output}
		}(i, step)
	}
	wg.Wait()

	failed := 0
	firstFailure := ""
	for i, r := range results {
		if !r.Success {
			failed++
			if firstFailure == "" {
				firstFailure = fmt.Sprintf("sub-action %d (%s): %s", i, r.Action, r.Message)
			}
		}
	}

	out, err := json.Marshal(map[string]any{
		"results": results,
		"total":   len(results),
		"failed":  failed,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "parallel: marshal output: %s", err.Error()).WithCause(err)
	}

	if failed > 0 && !p.ContinueOnError {
		return &Result{
			Success: false,
			Message: fmt.Sprintf("parallel: %d of %d sub-actions failed; first: %s", failed, len(results), firstFailure),
			Output:  json.RawMessage(out),
		}, nil
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("parallel: %d sub-actions, %d failed", len(results), failed),
		Output:  json.RawMessage(out),
	}, nil
}

// WaitAction asks the engine to park the execution for a duration. It never
// blocks a worker; the engine persists a timer and pauses the execution.
type WaitAction struct{}

func (a *WaitAction) Name() schema.ActionType { return schema.ActionWait }
func (a *WaitAction) Description() string {
	return "Pause the execution for a duration via a persisted timer."
}

func (a *WaitAction) Execute(ctx context.Context, in *ActionInput) (*Result, error) {
	var p schema.WaitParams
	if err := decodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	if p.Duration == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "wait requires a duration")
	}
	d, err := time.ParseDuration(p.Duration)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "wait: invalid duration %q", p.Duration).WithCause(err)
	}
	if d <= 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "wait: duration must be positive, got %q", p.Duration)
	}
	return &Result{
		Success: true,
		Message: "waiting " + d.String(),
		Output:  marshalOutput(map[string]any{"duration": d.String()}),
		Wait:    &WaitDirective{Duration: d},
	}, nil
}
