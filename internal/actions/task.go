package actions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clienthub/automation/internal/domain"
	"github.com/clienthub/automation/pkg/schema"
)

// resolveAssignee returns the actor id for a task: explicit id wins, else the
// first actor holding the role.
func resolveAssignee(ctx context.Context, services *domain.Services, id, role string) (string, error) {
	if id != "" {
		actor, err := services.Actors.ActorByID(ctx, id)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeExecution, "assignee %q: %s", id, err.Error()).WithCause(err)
		}
		return actor.ID, nil
	}
	if role != "" {
		candidates, err := services.Actors.ActorsByRole(ctx, role)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeExecution, "assignee role %q: %s", role, err.Error()).WithCause(err)
		}
		if len(candidates) == 0 {
			return "", schema.NewErrorf(schema.ErrCodeExecution, "no actor holds role %q", role)
		}
		return candidates[0].ID, nil
	}
	return "", nil
}

// CreateTaskAction creates a follow-up task linked to the client.
type CreateTaskAction struct {
	services *domain.Services
}

func (a *CreateTaskAction) Name() schema.ActionType { return schema.ActionCreateTask }
func (a *CreateTaskAction) Description() string {
	return "Create a follow-up task with optional due offset and assignee by id or role."
}

func (a *CreateTaskAction) Execute(ctx context.Context, in *ActionInput) (*Result, error) {
	var p struct {
		Title        string `json:"title"`
		Description  string `json:"description,omitempty"`
		Priority     string `json:"priority,omitempty"`
		DueInDays    int    `json:"due_in_days,omitempty"`
		AssigneeID   string `json:"assignee_id,omitempty"`
		AssigneeRole string `json:"assignee_role,omitempty"`
	}
	if err := decodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	if p.Title == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "create-task requires a title")
	}

	assignee, err := resolveAssignee(ctx, a.services, p.AssigneeID, p.AssigneeRole)
	if err != nil {
		return nil, err
	}

	task := &domain.Task{
		ID:          uuid.NewString(),
		ClientID:    in.ClientID,
		Title:       p.Title,
		Description: p.Description,
		Priority:    p.Priority,
		AssigneeID:  assignee,
		CreatedAt:   time.Now().UTC(),
	}
	if p.DueInDays > 0 {
		due := time.Now().UTC().AddDate(0, 0, p.DueInDays)
		task.DueAt = &due
	}
	if err := a.services.Tasks.CreateTask(ctx, task); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "create task: %s", err.Error()).WithCause(err)
	}

	return &Result{
		Success: true,
		Message: "task created: " + p.Title,
		Output: marshalOutput(map[string]any{
			"task_id":     task.ID,
			"title":       task.Title,
			"assignee_id": task.AssigneeID,
		}),
	}, nil
}

// CompleteTaskAction marks an existing task completed.
type CompleteTaskAction struct {
	services *domain.Services
}

func (a *CompleteTaskAction) Name() schema.ActionType { return schema.ActionCompleteTask }
func (a *CompleteTaskAction) Description() string     { return "Mark a task completed by id." }

func (a *CompleteTaskAction) Execute(ctx context.Context, in *ActionInput) (*Result, error) {
	var p struct {
		TaskID string `json:"task_id"`
	}
	if err := decodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	if p.TaskID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "complete-task requires a task_id")
	}
	if err := a.services.Tasks.CompleteTask(ctx, p.TaskID); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "complete task %q: %s", p.TaskID, err.Error()).WithCause(err)
	}
	return &Result{
		Success: true,
		Message: "task completed",
		Output:  marshalOutput(map[string]any{"task_id": p.TaskID}),
	}, nil
}

// AssignTaskAction assigns an existing task to an actor by id or role.
type AssignTaskAction struct {
	services *domain.Services
}

func (a *AssignTaskAction) Name() schema.ActionType { return schema.ActionAssignTask }
func (a *AssignTaskAction) Description() string     { return "Assign a task to an actor by id or role." }

func (a *AssignTaskAction) Execute(ctx context.Context, in *ActionInput) (*Result, error) {
	var p struct {
		TaskID       string `json:"task_id"`
		AssigneeID   string `json:"assignee_id,omitempty"`
		AssigneeRole string `json:"assignee_role,omitempty"`
	}
	if err := decodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	if p.TaskID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "assign-task requires a task_id")
	}
	assignee, err := resolveAssignee(ctx, a.services, p.AssigneeID, p.AssigneeRole)
	if err != nil {
		return nil, err
	}
	if assignee == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "assign-task requires assignee_id or assignee_role")
	}
	if err := a.services.Tasks.AssignTask(ctx, p.TaskID, assignee); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "assign task %q: %s", p.TaskID, err.Error()).WithCause(err)
	}
	return &Result{
		Success: true,
		Message: "task assigned",
		Output:  marshalOutput(map[string]any{"task_id": p.TaskID, "assignee_id": assignee}),
	}, nil
}
