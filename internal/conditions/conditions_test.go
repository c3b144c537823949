package conditions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clienthub/automation/internal/domain"
	"github.com/clienthub/automation/internal/expressions"
	"github.com/clienthub/automation/pkg/schema"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	return NewEvaluator(cel, expressions.NewExprEngine(), expressions.NewGoJQEngine())
}

func testContext(now time.Time) *EvalContext {
	client := &domain.Client{
		ID:        "c-1",
		Name:      "Dana Reyes",
		Status:    "active",
		Stage:     "underwriting",
		Tags:      []string{"vip", "priority"},
		Fields:    map[string]any{"score": 88.0, "region": "west"},
		CreatedAt: now.Add(-10 * 24 * time.Hour),
		UpdatedAt: now,
	}
	event := &schema.TriggerEvent{
		Type:       schema.TriggerStatusChanged,
		ClientID:   client.ID,
		Entity:     client.Snapshot(),
		OccurredAt: now,
	}
	return &EvalContext{
		Scope: expressions.NewScope(event, now),
		Now:   now,
	}
}

func TestStatusEquals(t *testing.T) {
	e := newTestEvaluator(t)
	ec := testContext(time.Now())

	r := e.Evaluate(context.Background(), &schema.ConditionNode{
		Kind: schema.CondStatusEquals, Status: "ACTIVE",
	}, ec)
	require.True(t, r.OK)
	assert.True(t, r.Matched, "status comparison is case-insensitive")

	r = e.Evaluate(context.Background(), &schema.ConditionNode{
		Kind: schema.CondStatusEquals, Status: "archived",
	}, ec)
	require.True(t, r.OK)
	assert.False(t, r.Matched)

	r = e.Evaluate(context.Background(), &schema.ConditionNode{Kind: schema.CondStatusEquals}, ec)
	assert.False(t, r.OK, "missing status is a configuration error")
}

func TestHasTag(t *testing.T) {
	e := newTestEvaluator(t)
	ec := testContext(time.Now())

	r := e.Evaluate(context.Background(), &schema.ConditionNode{Kind: schema.CondHasTag, Tag: "vip"}, ec)
	require.True(t, r.OK)
	assert.True(t, r.Matched)

	r = e.Evaluate(context.Background(), &schema.ConditionNode{Kind: schema.CondHasTag, Tag: "dormant"}, ec)
	require.True(t, r.OK)
	assert.False(t, r.Matched)
}

func TestFieldCompare(t *testing.T) {
	e := newTestEvaluator(t)
	ec := testContext(time.Now())
	ctx := context.Background()

	tests := []struct {
		name    string
		node    *schema.ConditionNode
		ok      bool
		matched bool
	}{
		{"numeric gt", &schema.ConditionNode{Kind: schema.CondFieldCompare, Path: ".fields.score", Op: ">", Value: 80}, true, true},
		{"numeric lt false", &schema.ConditionNode{Kind: schema.CondFieldCompare, Path: ".fields.score", Op: "<", Value: 80}, true, false},
		{"string eq", &schema.ConditionNode{Kind: schema.CondFieldCompare, Path: ".fields.region", Op: "=", Value: "west"}, true, true},
		{"string neq", &schema.ConditionNode{Kind: schema.CondFieldCompare, Path: ".stage", Op: "!=", Value: "closing"}, true, true},
		{"null path", &schema.ConditionNode{Kind: schema.CondFieldCompare, Path: ".fields.missing", Op: "=", Value: "x"}, true, false},
		{"bad op", &schema.ConditionNode{Kind: schema.CondFieldCompare, Path: ".stage", Op: "~", Value: "x"}, false, false},
		{"no path", &schema.ConditionNode{Kind: schema.CondFieldCompare, Op: "="}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.Evaluate(ctx, tt.node, ec)
			assert.Equal(t, tt.ok, r.OK, r.Message)
			if tt.ok {
				assert.Equal(t, tt.matched, r.Matched, r.Message)
			}
		})
	}
}

func TestAgeInDays(t *testing.T) {
	e := newTestEvaluator(t)
	ec := testContext(time.Now())
	ctx := context.Background()

	// created_at is 10 days ago.
	r := e.Evaluate(ctx, &schema.ConditionNode{
		Kind: schema.CondAgeInDays, Field: "created_at", Op: ">", Days: 7,
	}, ec)
	require.True(t, r.OK, r.Message)
	assert.True(t, r.Matched)

	r = e.Evaluate(ctx, &schema.ConditionNode{
		Kind: schema.CondAgeInDays, Field: "created_at", Op: "<", Days: 7,
	}, ec)
	require.True(t, r.OK)
	assert.False(t, r.Matched)

	r = e.Evaluate(ctx, &schema.ConditionNode{
		Kind: schema.CondAgeInDays, Field: "nonexistent", Op: ">", Days: 1,
	}, ec)
	assert.False(t, r.OK, "missing field is a configuration error")
}

func TestMissingDocuments(t *testing.T) {
	e := newTestEvaluator(t)
	ec := testContext(time.Now())
	ec.Documents = []*domain.Document{
		{ID: "d-1", ClientID: "c-1", Category: "identity", Received: true},
		{ID: "d-2", ClientID: "c-1", Category: "income", Received: false},
	}
	ctx := context.Background()

	r := e.Evaluate(ctx, &schema.ConditionNode{Kind: schema.CondMissingDocuments, Category: "income"}, ec)
	require.True(t, r.OK)
	assert.True(t, r.Matched, "pending document counts as missing")

	r = e.Evaluate(ctx, &schema.ConditionNode{Kind: schema.CondMissingDocuments, Category: "identity"}, ec)
	require.True(t, r.OK)
	assert.False(t, r.Matched)

	r = e.Evaluate(ctx, &schema.ConditionNode{Kind: schema.CondMissingDocuments, Category: "appraisal"}, ec)
	require.True(t, r.OK)
	assert.True(t, r.Matched, "absent category counts as missing")
}

func TestActorRole(t *testing.T) {
	e := newTestEvaluator(t)
	ctx := context.Background()
	node := &schema.ConditionNode{Kind: schema.CondActorRole, Roles: []string{"Manager", "admin"}}

	ec := testContext(time.Now())
	r := e.Evaluate(ctx, node, ec)
	assert.False(t, r.OK, "missing actor must be an error, never a silent false")

	ec.Actor = &domain.Actor{ID: "a-1", Role: "manager"}
	r = e.Evaluate(ctx, node, ec)
	require.True(t, r.OK)
	assert.True(t, r.Matched, "role match is case-insensitive")

	ec.Actor = &domain.Actor{ID: "a-2", Role: "agent"}
	r = e.Evaluate(ctx, node, ec)
	require.True(t, r.OK)
	assert.False(t, r.Matched)

	r = e.Evaluate(ctx, &schema.ConditionNode{Kind: schema.CondActorRole}, ec)
	assert.False(t, r.OK, "empty role list is a configuration error")
}

func TestTimeOfDayWrapsMidnight(t *testing.T) {
	e := newTestEvaluator(t)
	ctx := context.Background()
	node := &schema.ConditionNode{Kind: schema.CondTimeOfDay, Start: "22:00", End: "06:00"}

	at := func(hour, min int) *EvalContext {
		return testContext(time.Date(2026, 8, 28, hour, min, 0, 0, time.UTC))
	}

	r := e.Evaluate(ctx, node, at(23, 0))
	require.True(t, r.OK)
	assert.True(t, r.Matched)

	r = e.Evaluate(ctx, node, at(5, 59))
	require.True(t, r.OK)
	assert.True(t, r.Matched)

	r = e.Evaluate(ctx, node, at(12, 0))
	require.True(t, r.OK)
	assert.False(t, r.Matched)

	// Non-wrapping window.
	day := &schema.ConditionNode{Kind: schema.CondTimeOfDay, Start: "09:00", End: "17:00"}
	r = e.Evaluate(ctx, day, at(12, 0))
	require.True(t, r.OK)
	assert.True(t, r.Matched)

	r = e.Evaluate(ctx, &schema.ConditionNode{Kind: schema.CondTimeOfDay, Start: "22:00"}, at(12, 0))
	assert.False(t, r.OK, "missing bound is a configuration error")
}

func TestDayOfWeekMixedForms(t *testing.T) {
	e := newTestEvaluator(t)
	ctx := context.Background()
	// Numeric 3 = Wednesday, name "Monday".
	node := &schema.ConditionNode{Kind: schema.CondDayOfWeek, DaysOfWeek: []any{"Monday", float64(3)}}

	monday := testContext(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	r := e.Evaluate(ctx, node, monday)
	require.True(t, r.OK, r.Message)
	assert.True(t, r.Matched)

	wednesday := testContext(time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC))
	r = e.Evaluate(ctx, node, wednesday)
	require.True(t, r.OK)
	assert.True(t, r.Matched)

	friday := testContext(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))
	r = e.Evaluate(ctx, node, friday)
	require.True(t, r.OK)
	assert.False(t, r.Matched)

	r = e.Evaluate(ctx, &schema.ConditionNode{Kind: schema.CondDayOfWeek}, friday)
	assert.False(t, r.OK, "empty day list is a configuration error")

	bad := &schema.ConditionNode{Kind: schema.CondDayOfWeek, DaysOfWeek: []any{"Funday"}}
	r = e.Evaluate(ctx, bad, friday)
	assert.False(t, r.OK)

	outOfRange := &schema.ConditionNode{Kind: schema.CondDayOfWeek, DaysOfWeek: []any{float64(7)}}
	r = e.Evaluate(ctx, outOfRange, friday)
	assert.False(t, r.OK)
}

func TestExpressionLeaf(t *testing.T) {
	e := newTestEvaluator(t)
	ec := testContext(time.Now())
	ctx := context.Background()

	r := e.Evaluate(ctx, &schema.ConditionNode{
		Kind:       schema.CondExpression,
		Expression: `client.status == "active" && client.stage == "underwriting"`,
	}, ec)
	require.True(t, r.OK, r.Message)
	assert.True(t, r.Matched)

	r = e.Evaluate(ctx, &schema.ConditionNode{
		Kind:       schema.CondExpression,
		Language:   "expr",
		Expression: `client.status == "archived"`,
	}, ec)
	require.True(t, r.OK, r.Message)
	assert.False(t, r.Matched)

	r = e.Evaluate(ctx, &schema.ConditionNode{
		Kind:       schema.CondExpression,
		Expression: `client.name`,
	}, ec)
	assert.False(t, r.OK, "non-boolean result is an error")

	r = e.Evaluate(ctx, &schema.ConditionNode{
		Kind: schema.CondExpression, Language: "lua", Expression: "true",
	}, ec)
	assert.False(t, r.OK)
}

func TestAndOrComposites(t *testing.T) {
	e := newTestEvaluator(t)
	ec := testContext(time.Now())
	ctx := context.Background()

	matchNode := &schema.ConditionNode{Kind: schema.CondStatusEquals, Status: "active"}
	missNode := &schema.ConditionNode{Kind: schema.CondStatusEquals, Status: "archived"}
	errNode := &schema.ConditionNode{Kind: schema.CondStatusEquals} // missing status

	r := e.Evaluate(ctx, &schema.ConditionNode{
		Kind: schema.CondAnd, Children: []*schema.ConditionNode{matchNode, matchNode},
	}, ec)
	require.True(t, r.OK)
	assert.True(t, r.Matched)

	r = e.Evaluate(ctx, &schema.ConditionNode{
		Kind: schema.CondAnd, Children: []*schema.ConditionNode{matchNode, missNode},
	}, ec)
	require.True(t, r.OK)
	assert.False(t, r.Matched)

	r = e.Evaluate(ctx, &schema.ConditionNode{
		Kind: schema.CondAnd, Children: []*schema.ConditionNode{matchNode, errNode},
	}, ec)
	assert.False(t, r.OK, "any errored child makes and an error")

	r = e.Evaluate(ctx, &schema.ConditionNode{
		Kind: schema.CondOr, Children: []*schema.ConditionNode{missNode, matchNode},
	}, ec)
	require.True(t, r.OK)
	assert.True(t, r.Matched)

	r = e.Evaluate(ctx, &schema.ConditionNode{
		Kind: schema.CondOr, Children: []*schema.ConditionNode{errNode, matchNode},
	}, ec)
	require.True(t, r.OK, "or tolerates child errors when another child evaluates")
	assert.True(t, r.Matched)

	r = e.Evaluate(ctx, &schema.ConditionNode{
		Kind: schema.CondOr, Children: []*schema.ConditionNode{errNode, errNode},
	}, ec)
	assert.False(t, r.OK, "or errors only when every child errors")

	r = e.Evaluate(ctx, &schema.ConditionNode{Kind: schema.CondAnd}, ec)
	assert.False(t, r.OK, "zero children is a configuration error")
	r = e.Evaluate(ctx, &schema.ConditionNode{Kind: schema.CondOr}, ec)
	assert.False(t, r.OK)
}

func TestNestedTree(t *testing.T) {
	e := newTestEvaluator(t)
	ec := testContext(time.Now())

	tree := &schema.ConditionNode{
		Kind: schema.CondAnd,
		Children: []*schema.ConditionNode{
			{Kind: schema.CondStatusEquals, Status: "active"},
			{
				Kind: schema.CondOr,
				Children: []*schema.ConditionNode{
					{Kind: schema.CondHasTag, Tag: "dormant"},
					{Kind: schema.CondFieldCompare, Path: ".fields.score", Op: ">=", Value: 85},
				},
			},
		},
	}
	r := e.Evaluate(context.Background(), tree, ec)
	require.True(t, r.OK, r.Message)
	assert.True(t, r.Matched)
}

func TestUnknownKind(t *testing.T) {
	e := newTestEvaluator(t)
	r := e.Evaluate(context.Background(), &schema.ConditionNode{Kind: "fuzzy-match"}, testContext(time.Now()))
	assert.False(t, r.OK)
}
