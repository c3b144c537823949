package actions

import (
	"context"
	"strings"

	"github.com/clienthub/automation/internal/domain"
	"github.com/clienthub/automation/pkg/schema"
)

// UpdateStatusAction moves the client to a new status. The target status is
// validated against the closed enum before the write.
type UpdateStatusAction struct {
	services *domain.Services
}

func (a *UpdateStatusAction) Name() schema.ActionType { return schema.ActionUpdateStatus }
func (a *UpdateStatusAction) Description() string {
	return "Set the client status, validated against the status enum."
}

func (a *UpdateStatusAction) Execute(ctx context.Context, in *ActionInput) (*Result, error) {
	var p struct {
		Status string `json:"status"`
	}
	if err := decodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	status := strings.ToLower(p.Status)
	if !domain.ValidClientStatus(status) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid status %q; valid: %s", p.Status, strings.Join(domain.ClientStatuses, ", "))
	}
	if err := a.services.Clients.UpdateStatus(ctx, in.ClientID, status); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "update status: %s", err.Error()).WithCause(err)
	}
	return &Result{
		Success: true,
		Message: "status set to " + status,
		Output:  marshalOutput(map[string]any{"client_id": in.ClientID, "status": status}),
	}, nil
}

// AddTagAction adds a tag to the client. Tags are a set; adding a tag the
// client already carries succeeds without effect.
type AddTagAction struct {
	services *domain.Services
}

func (a *AddTagAction) Name() schema.ActionType { return schema.ActionAddTag }
func (a *AddTagAction) Description() string     { return "Add a tag to the client (set semantics)." }

func (a *AddTagAction) Execute(ctx context.Context, in *ActionInput) (*Result, error) {
	var p struct {
		Tag string `json:"tag"`
	}
	if err := decodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	if p.Tag == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "add-tag requires a tag")
	}
	if err := a.services.Clients.AddTag(ctx, in.ClientID, p.Tag); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "add tag: %s", err.Error()).WithCause(err)
	}
	return &Result{
		Success: true,
		Message: "tag added: " + p.Tag,
		Output:  marshalOutput(map[string]any{"client_id": in.ClientID, "tag": p.Tag}),
	}, nil
}

// RemoveTagAction removes a tag from the client. Removing an absent tag
// succeeds without effect.
type RemoveTagAction struct {
	services *domain.Services
}

func (a *RemoveTagAction) Name() schema.ActionType { return schema.ActionRemoveTag }
func (a *RemoveTagAction) Description() string     { return "Remove a tag from the client (set semantics)." }

func (a *RemoveTagAction) Execute(ctx context.Context, in *ActionInput) (*Result, error) {
	var p struct {
		Tag string `json:"tag"`
	}
	if err := decodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	if p.Tag == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "remove-tag requires a tag")
	}
	if err := a.services.Clients.RemoveTag(ctx, in.ClientID, p.Tag); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "remove tag: %s", err.Error()).WithCause(err)
	}
	return &Result{
		Success: true,
		Message: "tag removed: " + p.Tag,
		Output:  marshalOutput(map[string]any{"client_id": in.ClientID, "tag": p.Tag}),
	}, nil
}

// ReassignOwnerAction transfers client ownership. The new owner must resolve
// in the actor directory before the write happens.
type ReassignOwnerAction struct {
	services *domain.Services
}

func (a *ReassignOwnerAction) Name() schema.ActionType { return schema.ActionReassignOwner }
func (a *ReassignOwnerAction) Description() string {
	return "Transfer client ownership to another actor."
}

func (a *ReassignOwnerAction) Execute(ctx context.Context, in *ActionInput) (*Result, error) {
	var p struct {
		OwnerID string `json:"owner_id"`
	}
	if err := decodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	if p.OwnerID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "reassign-owner requires an owner_id")
	}
	owner, err := a.services.Actors.ActorByID(ctx, p.OwnerID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "owner %q does not resolve: %s", p.OwnerID, err.Error()).WithCause(err)
	}
	if err := a.services.Clients.ReassignOwner(ctx, in.ClientID, owner.ID); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "reassign owner: %s", err.Error()).WithCause(err)
	}
	return &Result{
		Success: true,
		Message: "owner reassigned to " + owner.ID,
		Output:  marshalOutput(map[string]any{"client_id": in.ClientID, "owner_id": owner.ID}),
	}, nil
}
