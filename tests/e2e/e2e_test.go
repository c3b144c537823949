// Package e2e drives the full stack, from definition management through
// dispatch, execution, durable waits, and webhook delivery, against a real
// libSQL database and the in-memory domain backend.
package e2e

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clienthub/automation/internal/actions"
	"github.com/clienthub/automation/internal/conditions"
	"github.com/clienthub/automation/internal/definitions"
	"github.com/clienthub/automation/internal/dispatch"
	"github.com/clienthub/automation/internal/domain"
	"github.com/clienthub/automation/internal/domain/memory"
	"github.com/clienthub/automation/internal/engine"
	"github.com/clienthub/automation/internal/expressions"
	"github.com/clienthub/automation/internal/scheduler"
	"github.com/clienthub/automation/internal/store"
	"github.com/clienthub/automation/internal/streaming"
	"github.com/clienthub/automation/internal/validation"
	"github.com/clienthub/automation/pkg/schema"
)

type suite struct {
	store      store.Store
	fixture    *memory.Fixture
	client     *domain.Client
	services   domain.Services
	evaluator  *conditions.Evaluator
	executor   *actions.Executor
	hub        *streaming.MemoryHub
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	defs       *definitions.Service
}

// newSuite wires the whole stack onto a throwaway database. clock is the
// engine's time source; pass nil for wall-clock.
func newSuite(t *testing.T, clock func() time.Time) *suite {
	t.Helper()

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "e2e.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	fixture := memory.NewFixture()
	client := fixture.AddClient(&domain.Client{
		ID:     "c-1",
		Name:   "Dana Reyes",
		Email:  "dana@example.com",
		Status: "active",
		Tags:   []string{"vip"},
	})
	fixture.AddActor(&domain.Actor{ID: "a-1", Name: "Morgan Lee", Role: "manager"})

	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	evaluator := conditions.NewEvaluator(cel, expressions.NewExprEngine(), expressions.NewGoJQEngine())

	services := fixture.Services()
	executor, err := actions.NewExecutor(actions.ExecutorConfig{
		Services:  &services,
		Interp:    expressions.NewInterpolator(nil),
		Evaluator: evaluator,
		Logger:    slog.Default(),
	})
	require.NoError(t, err)

	hub := streaming.NewMemoryHub()
	eng, err := engine.New(engine.Config{
		Store:     st,
		Executor:  executor,
		Evaluator: evaluator,
		Services:  &services,
		Hub:       hub,
		Logger:    slog.Default(),
		Clock:     clock,
	})
	require.NoError(t, err)

	dispatcher, err := dispatch.New(dispatch.Config{Store: st, Engine: eng, PoolSize: 4, Logger: slog.Default()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dispatcher.Shutdown(context.Background()) })

	validator, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	defs, err := definitions.New(definitions.Config{Store: st, Validator: validator, Logger: slog.Default()})
	require.NoError(t, err)

	return &suite{
		store:      st,
		fixture:    fixture,
		client:     client,
		services:   services,
		evaluator:  evaluator,
		executor:   executor,
		hub:        hub,
		engine:     eng,
		dispatcher: dispatcher,
		defs:       defs,
	}
}

// newEngine builds a second engine over the same store, simulating a fresh
// process picking up persisted state.
func (s *suite) newEngine(t *testing.T, clock func() time.Time) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.Config{
		Store:     s.store,
		Executor:  s.executor,
		Evaluator: s.evaluator,
		Services:  &s.services,
		Hub:       s.hub,
		Logger:    slog.Default(),
		Clock:     clock,
	})
	require.NoError(t, err)
	return eng
}

func (s *suite) createDefinition(t *testing.T, in definitions.CreateInput) *store.Definition {
	t.Helper()
	def, err := s.defs.Create(context.Background(), in)
	require.NoError(t, err)
	return def
}

func (s *suite) event(trigger schema.TriggerType) *schema.TriggerEvent {
	return &schema.TriggerEvent{
		Type:       trigger,
		ClientID:   s.client.ID,
		Entity:     s.client.Snapshot(),
		OccurredAt: time.Now().UTC(),
	}
}

func (s *suite) waitForStatus(t *testing.T, want schema.ExecutionStatus) *store.Execution {
	t.Helper()
	var found *store.Execution
	require.Eventually(t, func() bool {
		execs, err := s.store.ListExecutions(context.Background(), store.ExecutionFilter{})
		if err != nil {
			return false
		}
		for _, ex := range execs {
			if ex.Status == want {
				found = ex
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
	return found
}

func params(t *testing.T, m map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return raw
}

func addTag(t *testing.T, tag string) schema.ActionStep {
	return schema.ActionStep{Type: schema.ActionAddTag, Params: params(t, map[string]any{"tag": tag})}
}

func TestStatusChangeWorkflowRunsToCompletion(t *testing.T) {
	s := newSuite(t, nil)
	def := s.createDefinition(t, definitions.CreateInput{
		Name: "active vip follow-up",
		Body: schema.WorkflowDefinition{
			Trigger: schema.TriggerStatusChanged,
			Condition: &schema.ConditionNode{
				Kind: schema.CondAnd,
				Children: []*schema.ConditionNode{
					{Kind: schema.CondStatusEquals, Status: "active"},
					{Kind: schema.CondHasTag, Tag: "vip"},
				},
			},
			Actions: []schema.ActionStep{
				addTag(t, "welcome-call"),
				{Type: schema.ActionCreateTask, Params: params(t, map[string]any{
					"title":       "Quarterly review",
					"priority":    "high",
					"due_in_days": 3,
				})},
			},
		},
		Active: true,
	})

	dispatched, err := s.dispatcher.Fire(context.Background(), s.event(schema.TriggerStatusChanged))
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)

	ex := s.waitForStatus(t, schema.ExecutionCompleted)
	assert.Equal(t, def.ID, ex.DefinitionID)
	assert.Equal(t, 1, ex.DefinitionVersion)
	assert.Equal(t, schema.TriggerStatusChanged, ex.TriggerType)
	require.NotNil(t, ex.CompletedAt)

	got, err := s.fixture.GetClient(context.Background(), s.client.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Tags, "welcome-call")

	tasks := s.fixture.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "Quarterly review", tasks[0].Title)
	assert.Equal(t, s.client.ID, tasks[0].ClientID)

	logs, err := s.store.ListLogs(context.Background(), ex.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for i, entry := range logs {
		assert.Equal(t, i, entry.StepIndex)
		assert.Equal(t, schema.LogSuccess, entry.Status)
	}
}

func TestConditionNoMatchProducesNoExecution(t *testing.T) {
	s := newSuite(t, nil)
	def := s.createDefinition(t, definitions.CreateInput{
		Name: "churn rescue",
		Body: schema.WorkflowDefinition{
			Trigger:   schema.TriggerStatusChanged,
			Condition: &schema.ConditionNode{Kind: schema.CondStatusEquals, Status: "churned"},
			Actions:   []schema.ActionStep{addTag(t, "rescue")},
		},
		Active: true,
	})

	ex, err := s.engine.Run(context.Background(), def, s.event(schema.TriggerStatusChanged))
	require.NoError(t, err)
	assert.Nil(t, ex)

	execs, err := s.store.ListExecutions(context.Background(), store.ExecutionFilter{})
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestBranchAndParallelFlow(t *testing.T) {
	s := newSuite(t, nil)
	branch := map[string]any{
		"condition": map[string]any{"kind": "status-equals", "status": "active"},
		"then":      []map[string]any{{"type": "add-tag", "params": map[string]any{"tag": "active-path"}}},
		"else":      []map[string]any{{"type": "add-tag", "params": map[string]any{"tag": "inactive-path"}}},
	}
	parallel := map[string]any{
		"actions": []map[string]any{
			{"type": "add-tag", "params": map[string]any{"tag": "fanned-out"}},
			{"type": "create-task", "params": map[string]any{"title": "Parallel check-in"}},
		},
	}
	def := s.createDefinition(t, definitions.CreateInput{
		Name: "branch and fan-out",
		Body: schema.WorkflowDefinition{
			Trigger: schema.TriggerManual,
			Actions: []schema.ActionStep{
				{Type: schema.ActionBranch, Params: params(t, branch)},
				{Type: schema.ActionParallel, Params: params(t, parallel)},
			},
		},
	})

	ex, err := s.dispatcher.FireManual(context.Background(), def.ID, s.event(schema.TriggerManual))
	require.NoError(t, err)
	require.NotNil(t, ex)
	assert.Equal(t, schema.ExecutionCompleted, ex.Status)
	assert.Equal(t, schema.TriggerManual, ex.TriggerType)

	got, err := s.fixture.GetClient(context.Background(), s.client.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Tags, "active-path")
	assert.NotContains(t, got.Tags, "inactive-path")
	assert.Contains(t, got.Tags, "fanned-out")
	require.Len(t, s.fixture.Tasks(), 1)

	logs, err := s.store.ListLogs(context.Background(), ex.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	var branchOut map[string]any
	require.NoError(t, json.Unmarshal(logs[0].Output, &branchOut))
	assert.Equal(t, "then", branchOut["branch"])
	assert.Equal(t, true, branchOut["matched"])
}

func TestWaitParksAndResumesAcrossRestart(t *testing.T) {
	// The first engine's clock sits two hours in the past, so the one-hour
	// wait it schedules is already due on the wall clock a fresh process
	// sees.
	past := time.Now().UTC().Add(-2 * time.Hour)
	s := newSuite(t, func() time.Time { return past })
	def := s.createDefinition(t, definitions.CreateInput{
		Name: "cooling-off period",
		Body: schema.WorkflowDefinition{
			Trigger: schema.TriggerManual,
			Actions: []schema.ActionStep{
				addTag(t, "before-wait"),
				{Type: schema.ActionWait, Params: params(t, map[string]any{"duration": "1h"})},
				addTag(t, "after-wait"),
			},
		},
	})

	ex, err := s.dispatcher.FireManual(context.Background(), def.ID, s.event(schema.TriggerManual))
	require.NoError(t, err)
	require.NotNil(t, ex)
	assert.Equal(t, schema.ExecutionPaused, ex.Status)
	assert.Equal(t, 2, ex.CurrentStepIndex)

	got, err := s.fixture.GetClient(context.Background(), s.client.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Tags, "before-wait")
	assert.NotContains(t, got.Tags, "after-wait")

	timers, err := s.store.DueWaitTimers(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, timers, 1)
	assert.Equal(t, ex.ID, timers[0].ExecutionID)

	restarted := s.newEngine(t, nil)
	resumed, err := restarted.ResumeDue(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	final, err := s.store.GetExecution(context.Background(), ex.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, final.Status)

	got, err = s.fixture.GetClient(context.Background(), s.client.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Tags, "after-wait")

	timers, err = s.store.DueWaitTimers(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, timers)
}

func TestSchedulerResumesDueWaits(t *testing.T) {
	past := time.Now().UTC().Add(-2 * time.Hour)
	s := newSuite(t, func() time.Time { return past })
	def := s.createDefinition(t, definitions.CreateInput{
		Name: "scheduled resume",
		Body: schema.WorkflowDefinition{
			Trigger: schema.TriggerManual,
			Actions: []schema.ActionStep{
				{Type: schema.ActionWait, Params: params(t, map[string]any{"duration": "30m"})},
				addTag(t, "timer-fired"),
			},
		},
	})

	ex, err := s.dispatcher.FireManual(context.Background(), def.ID, s.event(schema.TriggerManual))
	require.NoError(t, err)
	require.Equal(t, schema.ExecutionPaused, ex.Status)

	resumer := s.newEngine(t, nil)
	sched, err := scheduler.New(scheduler.Config{
		Store:      s.store,
		Engine:     resumer,
		Dispatcher: s.dispatcher,
		Services:   &s.services,
		Logger:     slog.Default(),
		Interval:   20 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(func() { _ = sched.Stop() })

	s.waitForStatus(t, schema.ExecutionCompleted)
	got, err := s.fixture.GetClient(context.Background(), s.client.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Tags, "timer-fired")
}

func TestWebhookDeliveryWithRetries(t *testing.T) {
	s := newSuite(t, nil)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer srv.Close()

	def := s.createDefinition(t, definitions.CreateInput{
		Name: "notify downstream",
		Body: schema.WorkflowDefinition{
			Trigger: schema.TriggerManual,
			Actions: []schema.ActionStep{
				{Type: schema.ActionCallWebhook, Params: params(t, map[string]any{
					"url":         srv.URL,
					"max_retries": 2,
					"retry_delay": "5ms",
					"body":        map[string]any{"client": "{{client.id}}"},
				})},
			},
		},
	})

	ex, err := s.dispatcher.FireManual(context.Background(), def.ID, s.event(schema.TriggerManual))
	require.NoError(t, err)
	require.NotNil(t, ex)
	assert.Equal(t, schema.ExecutionCompleted, ex.Status)
	assert.Equal(t, int32(3), hits.Load())

	logs, err := s.store.ListLogs(context.Background(), ex.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	var out map[string]any
	require.NoError(t, json.Unmarshal(logs[0].Output, &out))
	assert.Equal(t, float64(200), out["status_code"])
	assert.Equal(t, float64(3), out["attempts"])
}

func TestFailedStepFailsExecution(t *testing.T) {
	s := newSuite(t, nil)
	def := s.createDefinition(t, definitions.CreateInput{
		Name: "bad status update",
		Body: schema.WorkflowDefinition{
			Trigger: schema.TriggerManual,
			Actions: []schema.ActionStep{
				addTag(t, "reached"),
				{Type: schema.ActionUpdateStatus, Params: params(t, map[string]any{"status": "bogus"})},
				addTag(t, "unreached"),
			},
		},
	})

	ex, err := s.dispatcher.FireManual(context.Background(), def.ID, s.event(schema.TriggerManual))
	require.NoError(t, err)
	require.NotNil(t, ex)
	assert.Equal(t, schema.ExecutionFailed, ex.Status)
	assert.NotEmpty(t, ex.Error)

	got, err := s.fixture.GetClient(context.Background(), s.client.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Tags, "reached")
	assert.NotContains(t, got.Tags, "unreached")

	logs, err := s.store.ListLogs(context.Background(), ex.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, schema.LogSuccess, logs[0].Status)
	assert.Equal(t, schema.LogFailed, logs[1].Status)
}

func TestTemplateLifecycle(t *testing.T) {
	s := newSuite(t, nil)
	tpl := s.createDefinition(t, definitions.CreateInput{
		Name: "onboarding template",
		Body: schema.WorkflowDefinition{
			Trigger: schema.TriggerClientCreated,
			Actions: []schema.ActionStep{addTag(t, "onboarded")},
		},
		Template: true,
	})

	// Templates never fire, directly or by activation.
	_, err := s.dispatcher.FireManual(context.Background(), tpl.ID, s.event(schema.TriggerManual))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clone it before firing")
	err = s.defs.Activate(context.Background(), tpl.ID)
	require.Error(t, err)

	clone, err := s.defs.CloneTemplate(context.Background(), tpl.ID, definitions.CloneInput{
		Name: "onboarding for dana",
		Overrides: definitions.CloneOverrides{
			Steps: map[int]schema.ActionStep{0: addTag(t, "custom-onboarded")},
		},
	})
	require.NoError(t, err)
	assert.False(t, clone.Template)
	assert.False(t, clone.Active)
	assert.Equal(t, 1, clone.Version)

	require.NoError(t, s.defs.Activate(context.Background(), clone.ID))

	dispatched, err := s.dispatcher.Fire(context.Background(), s.event(schema.TriggerClientCreated))
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)

	s.waitForStatus(t, schema.ExecutionCompleted)
	got, err := s.fixture.GetClient(context.Background(), s.client.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Tags, "custom-onboarded")
	assert.NotContains(t, got.Tags, "onboarded")
}

func TestStreamingEventsForExecution(t *testing.T) {
	s := newSuite(t, nil)
	def := s.createDefinition(t, definitions.CreateInput{
		Name: "observed run",
		Body: schema.WorkflowDefinition{
			Trigger: schema.TriggerManual,
			Actions: []schema.ActionStep{addTag(t, "observed")},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, unsubscribe, err := s.hub.Subscribe(ctx, streaming.EventFilter{DefinitionID: def.ID})
	require.NoError(t, err)
	defer unsubscribe()

	ex, err := s.dispatcher.FireManual(context.Background(), def.ID, s.event(schema.TriggerManual))
	require.NoError(t, err)
	require.Equal(t, schema.ExecutionCompleted, ex.Status)

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for !(seen[schema.EventExecutionStarted] && seen[schema.EventStepSucceeded] && seen[schema.EventExecutionCompleted]) {
		select {
		case ev := <-events:
			assert.Equal(t, def.ID, ev.DefinitionID)
			seen[ev.EventType] = true
		case <-deadline:
			t.Fatalf("timed out waiting for stream events, saw %v", seen)
		}
	}
}
