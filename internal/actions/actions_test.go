package actions

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clienthub/automation/internal/conditions"
	"github.com/clienthub/automation/internal/domain"
	"github.com/clienthub/automation/internal/domain/memory"
	"github.com/clienthub/automation/internal/expressions"
	"github.com/clienthub/automation/pkg/schema"
)

type harness struct {
	fixture  *memory.Fixture
	executor *Executor
	client   *domain.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fixture := memory.NewFixture()
	client := fixture.AddClient(&domain.Client{
		ID:     "c-1",
		Name:   "Dana Reyes",
		Email:  "dana@example.com",
		Phone:  "+15550001111",
		Status: "active",
		Tags:   []string{"vip"},
	})
	fixture.AddActor(&domain.Actor{ID: "a-1", Name: "Morgan Lee", Role: "manager"})
	fixture.AddActor(&domain.Actor{ID: "a-2", Name: "Sam Ortiz", Role: "agent"})
	fixture.AddTemplate(&domain.MessageTemplate{
		ID:      "tpl-welcome",
		Name:    "welcome",
		Subject: "Welcome, {{client.name}}",
		Body:    "Hi {{client.name}}, your status is {{client.status}}.",
	})

	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	evaluator := conditions.NewEvaluator(cel, expressions.NewExprEngine(), expressions.NewGoJQEngine())

	services := fixture.Services()
	executor, err := NewExecutor(ExecutorConfig{
		Services:  &services,
		Interp:    expressions.NewInterpolator(nil),
		Evaluator: evaluator,
		Webhook:   WebhookConfig{DefaultDelay: 5 * time.Millisecond, DefaultTimeout: 2 * time.Second},
		Logger:    slog.Default(),
	})
	require.NoError(t, err)

	return &harness{fixture: fixture, executor: executor, client: client}
}

func (h *harness) input(t *testing.T) *ActionInput {
	t.Helper()
	event := &schema.TriggerEvent{
		Type:       schema.TriggerStatusChanged,
		ClientID:   h.client.ID,
		Entity:     h.client.Snapshot(),
		OccurredAt: time.Now(),
	}
	scope := expressions.NewScope(event, time.Now())
	return &ActionInput{
		ClientID: h.client.ID,
		Scope:    scope,
		EvalCtx:  &conditions.EvalContext{Scope: scope},
	}
}

func step(t schema.ActionType, params string) schema.ActionStep {
	return schema.ActionStep{Type: t, Params: json.RawMessage(params)}
}

func TestSendEmailWithTemplate(t *testing.T) {
	h := newHarness(t)

	r := h.executor.Dispatch(context.Background(),
		step(schema.ActionSendEmail, `{"template_id":"tpl-welcome"}`), h.input(t))
	require.True(t, r.Success, r.Message)

	comms := h.fixture.Communications()
	require.Len(t, comms, 1)
	assert.Equal(t, "email", comms[0].Channel)
	assert.Equal(t, domain.CommunicationSent, comms[0].Status)
	assert.Equal(t, "tpl-welcome", comms[0].TemplateID)
	assert.Equal(t, "Welcome, Dana Reyes", comms[0].Subject)
	assert.Equal(t, "Hi Dana Reyes, your status is active.", comms[0].Body)
}

func TestSendSMSInlineBody(t *testing.T) {
	h := newHarness(t)

	r := h.executor.Dispatch(context.Background(),
		step(schema.ActionSendSMS, `{"body":"Reminder for {{client.name}}"}`), h.input(t))
	require.True(t, r.Success, r.Message)

	comms := h.fixture.Communications()
	require.Len(t, comms, 1)
	assert.Equal(t, "sms", comms[0].Channel)
	assert.Equal(t, "Reminder for Dana Reyes", comms[0].Body)
}

func TestCreateTaskWithRoleAssignee(t *testing.T) {
	h := newHarness(t)

	r := h.executor.Dispatch(context.Background(),
		step(schema.ActionCreateTask, `{"title":"Call client","priority":"high","due_in_days":3,"assignee_role":"manager"}`),
		h.input(t))
	require.True(t, r.Success, r.Message)

	tasks := h.fixture.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "Call client", tasks[0].Title)
	assert.Equal(t, "a-1", tasks[0].AssigneeID)
	require.NotNil(t, tasks[0].DueAt)
	assert.False(t, tasks[0].Completed)

	// Missing title is a failure.
	r = h.executor.Dispatch(context.Background(), step(schema.ActionCreateTask, `{}`), h.input(t))
	assert.False(t, r.Success)
}

func TestCompleteAndAssignTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.executor.Dispatch(ctx, step(schema.ActionCreateTask, `{"title":"Review file"}`), h.input(t))
	require.True(t, r.Success)
	taskID := h.fixture.Tasks()[0].ID

	r = h.executor.Dispatch(ctx, step(schema.ActionAssignTask, `{"task_id":"`+taskID+`","assignee_id":"a-2"}`), h.input(t))
	require.True(t, r.Success, r.Message)
	assert.Equal(t, "a-2", h.fixture.Tasks()[0].AssigneeID)

	r = h.executor.Dispatch(ctx, step(schema.ActionCompleteTask, `{"task_id":"`+taskID+`"}`), h.input(t))
	require.True(t, r.Success, r.Message)
	assert.True(t, h.fixture.Tasks()[0].Completed)
}

func TestUpdateStatusValidatesEnum(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.executor.Dispatch(ctx, step(schema.ActionUpdateStatus, `{"status":"on-hold"}`), h.input(t))
	require.True(t, r.Success, r.Message)
	got, err := h.fixture.GetClient(ctx, h.client.ID)
	require.NoError(t, err)
	assert.Equal(t, "on-hold", got.Status)

	r = h.executor.Dispatch(ctx, step(schema.ActionUpdateStatus, `{"status":"frozen"}`), h.input(t))
	assert.False(t, r.Success, "status outside the enum must fail")
}

func TestTagSetSemantics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Adding a tag the client already carries is a no-op success.
	r := h.executor.Dispatch(ctx, step(schema.ActionAddTag, `{"tag":"vip"}`), h.input(t))
	require.True(t, r.Success, r.Message)
	got, _ := h.fixture.GetClient(ctx, h.client.ID)
	assert.Equal(t, []string{"vip"}, got.Tags)

	r = h.executor.Dispatch(ctx, step(schema.ActionAddTag, `{"tag":"priority"}`), h.input(t))
	require.True(t, r.Success)
	got, _ = h.fixture.GetClient(ctx, h.client.ID)
	assert.ElementsMatch(t, []string{"vip", "priority"}, got.Tags)

	// Removing an absent tag is also a no-op success.
	r = h.executor.Dispatch(ctx, step(schema.ActionRemoveTag, `{"tag":"dormant"}`), h.input(t))
	require.True(t, r.Success)

	r = h.executor.Dispatch(ctx, step(schema.ActionRemoveTag, `{"tag":"vip"}`), h.input(t))
	require.True(t, r.Success)
	got, _ = h.fixture.GetClient(ctx, h.client.ID)
	assert.Equal(t, []string{"priority"}, got.Tags)
}

func TestReassignOwnerRequiresResolvableActor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.executor.Dispatch(ctx, step(schema.ActionReassignOwner, `{"owner_id":"a-2"}`), h.input(t))
	require.True(t, r.Success, r.Message)
	got, _ := h.fixture.GetClient(ctx, h.client.ID)
	assert.Equal(t, "a-2", got.OwnerID)

	r = h.executor.Dispatch(ctx, step(schema.ActionReassignOwner, `{"owner_id":"ghost"}`), h.input(t))
	assert.False(t, r.Success)
	got, _ = h.fixture.GetClient(ctx, h.client.ID)
	assert.Equal(t, "a-2", got.OwnerID, "owner unchanged after failed reassign")
}

func TestWebhookRetriesThenSucceeds(t *testing.T) {
	h := newHarness(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	r := h.executor.Dispatch(context.Background(),
		step(schema.ActionCallWebhook, `{"url":"`+srv.URL+`","max_retries":2,"retry_delay":"5ms","body":{"client":"{{client.id}}"}}`),
		h.input(t))
	require.True(t, r.Success, r.Message)
	assert.Equal(t, int32(3), hits.Load())

	var out map[string]any
	require.NoError(t, json.Unmarshal(r.Output, &out))
	assert.Equal(t, float64(200), out["status_code"])
	assert.Equal(t, float64(3), out["attempts"])
}

func TestWebhookExhaustsRetries(t *testing.T) {
	h := newHarness(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// max_retries=2 means exactly three attempts.
	r := h.executor.Dispatch(context.Background(),
		step(schema.ActionCallWebhook, `{"url":"`+srv.URL+`","max_retries":2,"retry_delay":"5ms"}`),
		h.input(t))
	assert.False(t, r.Success)
	assert.Equal(t, int32(3), hits.Load())
}

func TestWebhookNeverRetries4xx(t *testing.T) {
	h := newHarness(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := h.executor.Dispatch(context.Background(),
		step(schema.ActionCallWebhook, `{"url":"`+srv.URL+`","max_retries":5,"retry_delay":"5ms"}`),
		h.input(t))
	assert.False(t, r.Success)
	assert.Equal(t, int32(1), hits.Load(), "4xx is terminal on the first attempt")
}

func TestWebhookNetworkErrorRetries(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // connection refused from here on

	start := time.Now()
	r := h.executor.Dispatch(context.Background(),
		step(schema.ActionCallWebhook, `{"url":"`+url+`","max_retries":2,"retry_delay":"5ms"}`),
		h.input(t))
	assert.False(t, r.Success)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBranchTakesThenAndElse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	params := `{
		"condition": {"kind": "status-equals", "status": "active"},
		"then": [{"type": "add-tag", "params": {"tag": "engaged"}}],
		"else": [{"type": "add-tag", "params": {"tag": "stale"}}]
	}`
	r := h.executor.Dispatch(ctx, step(schema.ActionBranch, params), h.input(t))
	require.True(t, r.Success, r.Message)

	got, _ := h.fixture.GetClient(ctx, h.client.ID)
	assert.Contains(t, got.Tags, "engaged")
	assert.NotContains(t, got.Tags, "stale")

	var out map[string]any
	require.NoError(t, json.Unmarshal(r.Output, &out))
	assert.Equal(t, true, out["matched"])
	assert.Equal(t, "then", out["branch"])

	params = `{
		"condition": {"kind": "status-equals", "status": "archived"},
		"then": [{"type": "add-tag", "params": {"tag": "never"}}],
		"else": [{"type": "add-tag", "params": {"tag": "stale"}}]
	}`
	r = h.executor.Dispatch(ctx, step(schema.ActionBranch, params), h.input(t))
	require.True(t, r.Success, r.Message)
	got, _ = h.fixture.GetClient(ctx, h.client.ID)
	assert.Contains(t, got.Tags, "stale")
	assert.NotContains(t, got.Tags, "never")
}

func TestBranchConditionErrorFails(t *testing.T) {
	h := newHarness(t)
	params := `{
		"condition": {"kind": "and"},
		"then": [{"type": "add-tag", "params": {"tag": "x"}}]
	}`
	r := h.executor.Dispatch(context.Background(), step(schema.ActionBranch, params), h.input(t))
	assert.False(t, r.Success)
}

func TestParallelContinueOnError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// One failing sub-action (bad status) alongside two good ones.
	params := `{
		"actions": [
			{"type": "add-tag", "params": {"tag": "p1"}},
			{"type": "update-status", "params": {"status": "bogus"}},
			{"type": "add-tag", "params": {"tag": "p2"}}
		],
		"continue_on_error": true
	}`
	r := h.executor.Dispatch(ctx, step(schema.ActionParallel, params), h.input(t))
	require.True(t, r.Success, r.Message)

	got, _ := h.fixture.GetClient(ctx, h.client.ID)
	assert.Contains(t, got.Tags, "p1")
	assert.Contains(t, got.Tags, "p2")

	var out map[string]any
	require.NoError(t, json.Unmarshal(r.Output, &out))
	assert.Equal(t, float64(1), out["failed"])

	// Without continue_on_error the same mix fails the step.
	params = `{
		"actions": [
			{"type": "add-tag", "params": {"tag": "p3"}},
			{"type": "update-status", "params": {"status": "bogus"}}
		]
	}`
	r = h.executor.Dispatch(ctx, step(schema.ActionParallel, params), h.input(t))
	assert.False(t, r.Success)
}

func TestWaitProducesDirective(t *testing.T) {
	h := newHarness(t)

	r := h.executor.Dispatch(context.Background(), step(schema.ActionWait, `{"duration":"48h"}`), h.input(t))
	require.True(t, r.Success, r.Message)
	require.NotNil(t, r.Wait)
	assert.Equal(t, 48*time.Hour, r.Wait.Duration)

	r = h.executor.Dispatch(context.Background(), step(schema.ActionWait, `{"duration":"-1h"}`), h.input(t))
	assert.False(t, r.Success)

	r = h.executor.Dispatch(context.Background(), step(schema.ActionWait, `{}`), h.input(t))
	assert.False(t, r.Success)
}

func TestDispatchUnknownAction(t *testing.T) {
	h := newHarness(t)
	r := h.executor.Dispatch(context.Background(), step("teleport", `{}`), h.input(t))
	assert.False(t, r.Success)
	assert.Contains(t, r.Message, "not registered")
}

type panicAction struct{}

func (panicAction) Name() schema.ActionType { return "panic-test" }
func (panicAction) Description() string     { return "panics" }
func (panicAction) Execute(context.Context, *ActionInput) (*Result, error) {
	panic("boom")
}

func TestDispatchRecoversPanic(t *testing.T) {
	e := &Executor{registry: NewRegistry(), logger: slog.Default()}
	require.NoError(t, e.registry.Register(panicAction{}))

	r := e.Dispatch(context.Background(), schema.ActionStep{Type: "panic-test"}, nil)
	require.NotNil(t, r)
	assert.False(t, r.Success)
	assert.Contains(t, r.Message, "panicked")
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(panicAction{}))
	err := reg.Register(panicAction{})
	require.Error(t, err)
	assert.True(t, reg.Has("panic-test"))
	assert.Equal(t, 1, reg.Count())
}
