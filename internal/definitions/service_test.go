package definitions

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/internal/validation"
	"github.com/clienthub/automation/pkg/schema"
)

func newService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "definitions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	validator, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)

	svc, err := New(Config{Store: st, Validator: validator})
	require.NoError(t, err)
	return svc, st
}

func tagParams(t *testing.T, tag string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"tag": tag})
	require.NoError(t, err)
	return raw
}

func simpleBody(t *testing.T) schema.WorkflowDefinition {
	return schema.WorkflowDefinition{
		Trigger: schema.TriggerStatusChanged,
		Condition: &schema.ConditionNode{
			Kind: schema.CondStatusEquals, Status: "active",
		},
		Actions: []schema.ActionStep{
			{Type: schema.ActionAddTag, Params: tagParams(t, "welcome")},
			{Type: schema.ActionRemoveTag, Params: tagParams(t, "pending")},
		},
	}
}

func TestCreateStoresVersionOne(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	def, err := svc.Create(ctx, CreateInput{
		Name: "Welcome flow", Body: simpleBody(t), Active: true, OwnerID: "a-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, def.Version)
	assert.Equal(t, schema.CurrentSchemaVersion, def.Body.SchemaVersion)
	assert.True(t, def.Active)
	assert.False(t, def.Template)

	stored, err := st.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome flow", stored.Name)
	assert.Equal(t, "a-1", stored.OwnerID)
}

func TestCreateRejectsInvalidBody(t *testing.T) {
	svc, _ := newService(t)

	body := simpleBody(t)
	body.Trigger = schema.TriggerScheduled // missing cron
	_, err := svc.Create(context.Background(), CreateInput{Name: "Broken", Body: body})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trigger_config.cron")

	_, err = svc.Create(context.Background(), CreateInput{Body: simpleBody(t)})
	require.Error(t, err, "name is required")
}

func TestUpdateBodyBumpsVersion(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	def, err := svc.Create(ctx, CreateInput{Name: "Flow", Body: simpleBody(t)})
	require.NoError(t, err)

	edited := simpleBody(t)
	edited.Actions = edited.Actions[:1]
	updated, err := svc.Update(ctx, def.ID, UpdateInput{Body: &edited})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Len(t, updated.Body.Actions, 1)

	// a rename alone does not bump the version
	name := "Flow v2"
	updated, err = svc.Update(ctx, def.ID, UpdateInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "Flow v2", updated.Name)
}

func TestUpdateRejectsInvalidBody(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	def, err := svc.Create(ctx, CreateInput{Name: "Flow", Body: simpleBody(t)})
	require.NoError(t, err)

	bad := simpleBody(t)
	bad.Actions = nil
	_, err = svc.Update(ctx, def.ID, UpdateInput{Body: &bad})
	require.Error(t, err)

	stored, err := svc.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version, "failed edit must not bump the version")
}

func TestCloneTemplateProducesInactiveV1(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tpl, err := svc.Create(ctx, CreateInput{
		Name: "Onboarding template", Body: simpleBody(t), Template: true,
	})
	require.NoError(t, err)

	clone, err := svc.CloneTemplate(ctx, tpl.ID, CloneInput{Name: "Acme onboarding"})
	require.NoError(t, err)
	assert.NotEqual(t, tpl.ID, clone.ID)
	assert.Equal(t, "Acme onboarding", clone.Name)
	assert.Equal(t, 1, clone.Version)
	assert.False(t, clone.Active)
	assert.False(t, clone.Template)
	assert.Equal(t, tpl.Body.Trigger, clone.Body.Trigger)
}

func TestCloneTemplateAppliesOverrides(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tpl, err := svc.Create(ctx, CreateInput{
		Name: "Stage template",
		Body: schema.WorkflowDefinition{
			Trigger:       schema.TriggerStageEntered,
			TriggerConfig: &schema.TriggerConfig{Stage: "intake"},
			Actions: []schema.ActionStep{
				{Type: schema.ActionAddTag, Params: tagParams(t, "intake")},
				{Type: schema.ActionRemoveTag, Params: tagParams(t, "dormant")},
			},
		},
		Template: true,
	})
	require.NoError(t, err)

	clone, err := svc.CloneTemplate(ctx, tpl.ID, CloneInput{
		Overrides: CloneOverrides{
			TriggerConfig: &schema.TriggerConfig{Stage: "underwriting"},
			Condition:     &schema.ConditionNode{Kind: schema.CondHasTag, Tag: "vip"},
			Steps: map[int]schema.ActionStep{
				1: {Type: schema.ActionAddTag, Params: tagParams(t, "underwriting")},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Stage template (copy)", clone.Name)
	assert.Equal(t, "underwriting", clone.Body.TriggerConfig.Stage)
	require.NotNil(t, clone.Body.Condition)
	assert.Equal(t, schema.CondHasTag, clone.Body.Condition.Kind)
	assert.Equal(t, schema.ActionAddTag, clone.Body.Actions[1].Type)

	// the template itself is untouched
	src, err := svc.Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "intake", src.Body.TriggerConfig.Stage)
	assert.Nil(t, src.Body.Condition)
	assert.Equal(t, schema.ActionRemoveTag, src.Body.Actions[1].Type)
}

func TestCloneTemplateRejectsBadInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	plain, err := svc.Create(ctx, CreateInput{Name: "Plain", Body: simpleBody(t)})
	require.NoError(t, err)
	_, err = svc.CloneTemplate(ctx, plain.ID, CloneInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a template")

	tpl, err := svc.Create(ctx, CreateInput{Name: "Tpl", Body: simpleBody(t), Template: true})
	require.NoError(t, err)
	_, err = svc.CloneTemplate(ctx, tpl.ID, CloneInput{
		Overrides: CloneOverrides{Steps: map[int]schema.ActionStep{
			5: {Type: schema.ActionAddTag, Params: tagParams(t, "x")},
		}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestActivationRules(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	def, err := svc.Create(ctx, CreateInput{Name: "Flow", Body: simpleBody(t)})
	require.NoError(t, err)
	require.NoError(t, svc.Activate(ctx, def.ID))

	got, err := svc.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)

	require.NoError(t, svc.Deactivate(ctx, def.ID))
	got, err = svc.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	tpl, err := svc.Create(ctx, CreateInput{Name: "Tpl", Body: simpleBody(t), Template: true})
	require.NoError(t, err)
	err = svc.Activate(ctx, tpl.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clone it first")
}

func TestDeleteRemovesDefinition(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	def, err := svc.Create(ctx, CreateInput{Name: "Flow", Body: simpleBody(t)})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, def.ID))

	_, err = svc.Get(ctx, def.ID)
	require.Error(t, err)
}
