package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clienthub/automation/pkg/schema"
)

func newValidator(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func params(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func validDefinition(t *testing.T) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Trigger: schema.TriggerStatusChanged,
		Condition: &schema.ConditionNode{
			Kind: schema.CondAnd,
			Children: []*schema.ConditionNode{
				{Kind: schema.CondStatusEquals, Status: "active"},
				{Kind: schema.CondHasTag, Tag: "vip"},
			},
		},
		Actions: []schema.ActionStep{
			{Type: schema.ActionAddTag, Params: params(t, map[string]any{"tag": "checked"})},
			{Type: schema.ActionCallWebhook, Params: params(t, map[string]any{
				"url": "https://hooks.example.com/notify", "max_retries": 2,
			})},
		},
	}
}

func TestValidDefinitionPasses(t *testing.T) {
	v := newValidator(t)
	require.NoError(t, v.ValidateDefinition(validDefinition(t)))
}

func TestNilAndEmptyDefinitions(t *testing.T) {
	v := newValidator(t)

	require.Error(t, v.ValidateDefinition(nil))

	err := v.ValidateDefinition(&schema.WorkflowDefinition{Trigger: schema.TriggerManual})
	require.Error(t, err, "at least one action is required")

	err = v.ValidateDefinition(&schema.WorkflowDefinition{
		Actions: []schema.ActionStep{{Type: schema.ActionAddTag}},
	})
	require.Error(t, err, "trigger is required")
}

func TestUnknownEnumMembers(t *testing.T) {
	v := newValidator(t)

	def := validDefinition(t)
	def.Trigger = "full-moon"
	err := v.ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trigger type")

	def = validDefinition(t)
	def.Actions[0].Type = "summon"
	err = v.ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action type")

	def = validDefinition(t)
	def.Condition = &schema.ConditionNode{Kind: "vibes"}
	err = v.ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown condition kind")
}

func TestTriggerConfigPairings(t *testing.T) {
	v := newValidator(t)
	step := schema.ActionStep{Type: schema.ActionAddTag, Params: params(t, map[string]any{"tag": "x"})}

	cases := []struct {
		name    string
		trigger schema.TriggerType
		cfg     *schema.TriggerConfig
		wantErr string
	}{
		{"scheduled without cron", schema.TriggerScheduled, nil, "requires trigger_config.cron"},
		{"scheduled with bad cron", schema.TriggerScheduled, &schema.TriggerConfig{Cron: "not cron"}, "invalid cron"},
		{"scheduled ok", schema.TriggerScheduled, &schema.TriggerConfig{Cron: "0 9 * * 1"}, ""},
		{"time-in-stage without threshold", schema.TriggerTimeInStage, &schema.TriggerConfig{Stage: "underwriting"}, "threshold_days"},
		{"time-in-stage ok", schema.TriggerTimeInStage, &schema.TriggerConfig{Stage: "underwriting", ThresholdDays: 7}, ""},
		{"client-inactive without threshold", schema.TriggerClientInactive, nil, "threshold_days"},
		{"date-based without field", schema.TriggerDateBased, &schema.TriggerConfig{OffsetDays: -7}, "date_field"},
		{"stage-entered without stage", schema.TriggerStageEntered, nil, "trigger_config.stage"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := &schema.WorkflowDefinition{
				Trigger:       tc.trigger,
				TriggerConfig: tc.cfg,
				Actions:       []schema.ActionStep{step},
			}
			err := v.ValidateDefinition(def)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConditionTreeStructure(t *testing.T) {
	v := newValidator(t)
	step := schema.ActionStep{Type: schema.ActionAddTag, Params: params(t, map[string]any{"tag": "x"})}

	cases := []struct {
		name    string
		cond    *schema.ConditionNode
		wantErr string
	}{
		{"and without children", &schema.ConditionNode{Kind: schema.CondAnd}, "at least one child"},
		{"or without children", &schema.ConditionNode{Kind: schema.CondOr}, "at least one child"},
		{"nested invalid child", &schema.ConditionNode{
			Kind: schema.CondAnd,
			Children: []*schema.ConditionNode{
				{Kind: schema.CondOr, Children: []*schema.ConditionNode{{Kind: schema.CondHasTag}}},
			},
		}, "has-tag requires a tag"},
		{"field-compare bad op", &schema.ConditionNode{Kind: schema.CondFieldCompare, Path: ".x", Op: "~="}, "invalid comparison op"},
		{"age-in-days rejects !=", &schema.ConditionNode{Kind: schema.CondAgeInDays, Field: "created_at", Op: "!=", Days: 3}, "invalid age comparison"},
		{"time-of-day bad clock", &schema.ConditionNode{Kind: schema.CondTimeOfDay, Start: "25:00", End: "06:00"}, "invalid start"},
		{"day-of-week out of range", &schema.ConditionNode{Kind: schema.CondDayOfWeek, DaysOfWeek: []any{7}}, "invalid weekday"},
		{"day-of-week bad name", &schema.ConditionNode{Kind: schema.CondDayOfWeek, DaysOfWeek: []any{"Funday"}}, "invalid weekday"},
		{"expression bad language", &schema.ConditionNode{Kind: schema.CondExpression, Expression: "1 == 1", Language: "lua"}, "unknown expression language"},
		{"actor-role without roles", &schema.ConditionNode{Kind: schema.CondActorRole}, "at least one role"},
		{"valid mixed tree", &schema.ConditionNode{
			Kind: schema.CondOr,
			Children: []*schema.ConditionNode{
				{Kind: schema.CondDayOfWeek, DaysOfWeek: []any{"Monday", 3}},
				{Kind: schema.CondTimeOfDay, Start: "22:00", End: "06:00"},
				{Kind: schema.CondExpression, Expression: "client.status == 'active'"},
			},
		}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := &schema.WorkflowDefinition{
				Trigger:   schema.TriggerStatusChanged,
				Condition: tc.cond,
				Actions:   []schema.ActionStep{step},
			}
			err := v.ValidateDefinition(def)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestFlowControlNesting(t *testing.T) {
	v := newValidator(t)
	cond := map[string]any{"kind": "status-equals", "status": "active"}

	t.Run("wait inside branch rejected", func(t *testing.T) {
		def := &schema.WorkflowDefinition{
			Trigger: schema.TriggerStatusChanged,
			Actions: []schema.ActionStep{{
				Type: schema.ActionBranch,
				Params: params(t, map[string]any{
					"condition": cond,
					"then":      []map[string]any{{"type": "wait", "params": map[string]any{"duration": "1h"}}},
				}),
			}},
		}
		err := v.ValidateDefinition(def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wait only allowed at the top level")
	})

	t.Run("parallel inside parallel rejected", func(t *testing.T) {
		def := &schema.WorkflowDefinition{
			Trigger: schema.TriggerStatusChanged,
			Actions: []schema.ActionStep{{
				Type: schema.ActionParallel,
				Params: params(t, map[string]any{
					"actions": []map[string]any{{"type": "parallel", "params": map[string]any{"actions": []any{}}}},
				}),
			}},
		}
		err := v.ValidateDefinition(def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parallel only allowed at the top level")
	})

	t.Run("branch inside branch allowed", func(t *testing.T) {
		def := &schema.WorkflowDefinition{
			Trigger: schema.TriggerStatusChanged,
			Actions: []schema.ActionStep{{
				Type: schema.ActionBranch,
				Params: params(t, map[string]any{
					"condition": cond,
					"then": []map[string]any{{
						"type": "branch",
						"params": map[string]any{
							"condition": map[string]any{"kind": "has-tag", "tag": "vip"},
							"else":      []map[string]any{{"type": "add-tag", "params": map[string]any{"tag": "plain"}}},
						},
					}},
				}),
			}},
		}
		require.NoError(t, v.ValidateDefinition(def))
	})

	t.Run("branch without condition rejected", func(t *testing.T) {
		def := &schema.WorkflowDefinition{
			Trigger: schema.TriggerStatusChanged,
			Actions: []schema.ActionStep{{
				Type:   schema.ActionBranch,
				Params: params(t, map[string]any{"then": []map[string]any{{"type": "add-tag"}}}),
			}},
		}
		err := v.ValidateDefinition(def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "branch requires a condition")
	})
}

func TestStepParams(t *testing.T) {
	v := newValidator(t)

	t.Run("wait duration must parse", func(t *testing.T) {
		def := &schema.WorkflowDefinition{
			Trigger: schema.TriggerStatusChanged,
			Actions: []schema.ActionStep{{
				Type:   schema.ActionWait,
				Params: params(t, map[string]any{"duration": "fortnight"}),
			}},
		}
		err := v.ValidateDefinition(def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid wait duration")
	})

	t.Run("webhook url required and checked", func(t *testing.T) {
		def := &schema.WorkflowDefinition{
			Trigger: schema.TriggerStatusChanged,
			Actions: []schema.ActionStep{{
				Type:   schema.ActionCallWebhook,
				Params: params(t, map[string]any{"url": "ftp://example.com"}),
			}},
		}
		err := v.ValidateDefinition(def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid webhook url")
	})

	t.Run("webhook url with placeholder deferred to run time", func(t *testing.T) {
		def := &schema.WorkflowDefinition{
			Trigger: schema.TriggerStatusChanged,
			Actions: []schema.ActionStep{{
				Type:   schema.ActionCallWebhook,
				Params: params(t, map[string]any{"url": "{{secrets.HOOK_URL}}"}),
			}},
		}
		require.NoError(t, v.ValidateDefinition(def))
	})

	t.Run("retry backoff enum enforced", func(t *testing.T) {
		def := &schema.WorkflowDefinition{
			Trigger: schema.TriggerStatusChanged,
			Actions: []schema.ActionStep{{
				Type:   schema.ActionAddTag,
				Params: params(t, map[string]any{"tag": "x"}),
				Retry:  &schema.RetryPolicy{Max: 2, Backoff: "fibonacci"},
			}},
		}
		err := v.ValidateDefinition(def)
		require.Error(t, err)
	})
}
