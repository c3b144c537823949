// Package definitions manages workflow definition records: creation,
// versioned edits, template cloning, and activation state.
package definitions

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/internal/validation"
	"github.com/clienthub/automation/pkg/schema"
)

// Service is the write path for workflow definitions. Every body that
// reaches the store has passed validation; edits bump the version so
// executions can record which revision they ran.
type Service struct {
	store     store.Store
	validator validation.Validator
	logger    *slog.Logger
	clock     func() time.Time
}

// Config wires the service's collaborators.
type Config struct {
	Store     store.Store
	Validator validation.Validator
	Logger    *slog.Logger
	Clock     func() time.Time
}

// New builds a definition Service from the given configuration.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition service requires a store")
	}
	if cfg.Validator == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition service requires a validator")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{store: cfg.Store, validator: cfg.Validator, logger: logger, clock: clock}, nil
}

// CreateInput describes a new definition.
type CreateInput struct {
	Name        string
	Description string
	Body        schema.WorkflowDefinition
	Active      bool
	Template    bool
	OwnerID     string
}

// Create validates the body and stores it as version 1.
func (s *Service) Create(ctx context.Context, in CreateInput) (*store.Definition, error) {
	if in.Name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition name is required")
	}
	if in.Body.SchemaVersion == 0 {
		in.Body.SchemaVersion = schema.CurrentSchemaVersion
	}
	if err := s.validator.ValidateDefinition(&in.Body); err != nil {
		return nil, err
	}

	now := s.clock()
	def := &store.Definition{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Body:        in.Body,
		Active:      in.Active,
		Template:    in.Template,
		Version:     1,
		OwnerID:     in.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateDefinition(ctx, def); err != nil {
		return nil, err
	}
	s.logger.Info("definition created",
		"definition_id", def.ID, "name", def.Name, "template", def.Template)
	return def, nil
}

// UpdateInput describes an edit. Nil fields are left unchanged. A body
// edit bumps the stored version.
type UpdateInput struct {
	Name        *string
	Description *string
	Body        *schema.WorkflowDefinition
}

// Update applies the edit and returns the stored result.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*store.Definition, error) {
	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}

	update := store.DefinitionUpdate{Name: in.Name, Description: in.Description}
	if in.Body != nil {
		if in.Body.SchemaVersion == 0 {
			in.Body.SchemaVersion = schema.CurrentSchemaVersion
		}
		if err := s.validator.ValidateDefinition(in.Body); err != nil {
			return nil, err
		}
		next := def.Version + 1
		update.Body = in.Body
		update.Version = &next
	}
	if err := s.store.UpdateDefinition(ctx, id, update); err != nil {
		return nil, err
	}
	if update.Version != nil {
		s.logger.Info("definition body updated",
			"definition_id", id, "version", *update.Version)
	}
	return s.store.GetDefinition(ctx, id)
}

// CloneOverrides selects which parts of a template body to replace in the
// clone. Steps replaces individual action steps by index.
type CloneOverrides struct {
	TriggerConfig *schema.TriggerConfig
	Condition     *schema.ConditionNode
	Steps         map[int]schema.ActionStep
}

// CloneInput describes a template clone request.
type CloneInput struct {
	Name        string
	Description string
	OwnerID     string
	Overrides   CloneOverrides
}

// CloneTemplate copies a template into a new inactive version-1 definition,
// applying any overrides before the clone is validated and stored.
func (s *Service) CloneTemplate(ctx context.Context, templateID string, in CloneInput) (*store.Definition, error) {
	src, err := s.store.GetDefinition(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !src.Template {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"definition %s is not a template", templateID)
	}

	body := cloneBody(src.Body)
	if in.Overrides.TriggerConfig != nil {
		cfg := *in.Overrides.TriggerConfig
		body.TriggerConfig = &cfg
	}
	if in.Overrides.Condition != nil {
		body.Condition = in.Overrides.Condition
	}
	for i, step := range in.Overrides.Steps {
		if i < 0 || i >= len(body.Actions) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"step override index %d out of range (template has %d actions)", i, len(body.Actions))
		}
		body.Actions[i] = step
	}

	name := in.Name
	if name == "" {
		name = src.Name + " (copy)"
	}
	description := in.Description
	if description == "" {
		description = src.Description
	}
	return s.Create(ctx, CreateInput{
		Name:        name,
		Description: description,
		Body:        body,
		Active:      false,
		Template:    false,
		OwnerID:     in.OwnerID,
	})
}

// Activate turns on dispatch for a definition. Templates stay inert.
func (s *Service) Activate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, true)
}

// Deactivate turns off dispatch for a definition.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, false)
}

func (s *Service) setActive(ctx context.Context, id string, active bool) error {
	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return err
	}
	if active && def.Template {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"template %s cannot be activated, clone it first", id)
	}
	if def.Active == active {
		return nil
	}
	return s.store.UpdateDefinition(ctx, id, store.DefinitionUpdate{Active: &active})
}

// Get returns one definition by id.
func (s *Service) Get(ctx context.Context, id string) (*store.Definition, error) {
	return s.store.GetDefinition(ctx, id)
}

// List returns definitions matching the filter.
func (s *Service) List(ctx context.Context, filter store.DefinitionFilter) ([]*store.Definition, error) {
	return s.store.ListDefinitions(ctx, filter)
}

// Delete removes a definition. The store cascades to its executions, their
// logs, and any wait timers.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteDefinition(ctx, id); err != nil {
		return err
	}
	s.logger.Info("definition deleted", "definition_id", id)
	return nil
}

// cloneBody deep-copies a workflow body so override and later edits on the
// clone never alias the template's slices.
func cloneBody(body schema.WorkflowDefinition) schema.WorkflowDefinition {
	out := body
	if body.TriggerConfig != nil {
		cfg := *body.TriggerConfig
		out.TriggerConfig = &cfg
	}
	out.Condition = cloneCondition(body.Condition)
	if body.Actions != nil {
		out.Actions = make([]schema.ActionStep, len(body.Actions))
		for i, step := range body.Actions {
			out.Actions[i] = step
			if step.Params != nil {
				out.Actions[i].Params = append([]byte(nil), step.Params...)
			}
			if step.Retry != nil {
				retry := *step.Retry
				out.Actions[i].Retry = &retry
			}
		}
	}
	if body.Metadata != nil {
		out.Metadata = make(map[string]any, len(body.Metadata))
		for k, v := range body.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func cloneCondition(node *schema.ConditionNode) *schema.ConditionNode {
	if node == nil {
		return nil
	}
	out := *node
	if node.Children != nil {
		out.Children = make([]*schema.ConditionNode, len(node.Children))
		for i, child := range node.Children {
			out.Children[i] = cloneCondition(child)
		}
	}
	if node.Roles != nil {
		out.Roles = append([]string(nil), node.Roles...)
	}
	if node.DaysOfWeek != nil {
		out.DaysOfWeek = append([]any(nil), node.DaysOfWeek...)
	}
	return &out
}
