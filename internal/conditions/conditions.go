package conditions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clienthub/automation/internal/domain"
	"github.com/clienthub/automation/internal/expressions"
	"github.com/clienthub/automation/pkg/schema"
)

// Result is the outcome of evaluating a condition node. OK=false signals a
// configuration or input error and is distinct from a legitimate non-match;
// Matched is meaningful only when OK is true.
type Result struct {
	OK      bool   `json:"ok"`
	Matched bool   `json:"matched"`
	Message string `json:"message,omitempty"`
}

func matched(format string, args ...any) Result {
	return Result{OK: true, Matched: true, Message: fmt.Sprintf(format, args...)}
}

func noMatch(format string, args ...any) Result {
	return Result{OK: true, Matched: false, Message: fmt.Sprintf(format, args...)}
}

func evalError(format string, args ...any) Result {
	return Result{OK: false, Message: fmt.Sprintf(format, args...)}
}

// EvalContext carries everything a condition tree can inspect: the execution
// scope (entity snapshot, trigger, step outputs), the client's documents, the
// resolved acting user, and the evaluation clock.
type EvalContext struct {
	Scope     *expressions.Scope
	Documents []*domain.Document
	Actor     *domain.Actor
	Now       time.Time
}

func (ec *EvalContext) now() time.Time {
	if !ec.Now.IsZero() {
		return ec.Now
	}
	if ec.Scope != nil {
		return ec.Scope.Now()
	}
	return time.Now()
}

func (ec *EvalContext) client() map[string]any {
	if ec.Scope == nil {
		return nil
	}
	return ec.Scope.Client()
}

// Evaluator walks recursive boolean condition trees. The expression leaf is
// delegated to the pluggable expression engines; field paths go through jq.
type Evaluator struct {
	cel  expressions.Engine
	expr expressions.Engine
	jq   expressions.Engine
}

// NewEvaluator creates an Evaluator backed by the given expression engines.
// cel handles the default expression language, expr the "expr" language, jq
// field-compare path extraction.
func NewEvaluator(cel, expr, jq expressions.Engine) *Evaluator {
	return &Evaluator{cel: cel, expr: expr, jq: jq}
}

// Evaluate evaluates one condition node against the context. Unknown kinds
// are configuration errors; the kind switch is exhaustive over the enum.
func (e *Evaluator) Evaluate(ctx context.Context, node *schema.ConditionNode, ec *EvalContext) Result {
	if node == nil {
		return evalError("condition node is nil")
	}

	switch node.Kind {
	case schema.CondAnd:
		return e.evalAnd(ctx, node, ec)
	case schema.CondOr:
		return e.evalOr(ctx, node, ec)
	case schema.CondStatusEquals:
		return e.evalStatusEquals(node, ec)
	case schema.CondHasTag:
		return e.evalHasTag(node, ec)
	case schema.CondFieldCompare:
		return e.evalFieldCompare(ctx, node, ec)
	case schema.CondAgeInDays:
		return e.evalAgeInDays(node, ec)
	case schema.CondMissingDocuments:
		return e.evalMissingDocuments(node, ec)
	case schema.CondActorRole:
		return e.evalActorRole(node, ec)
	case schema.CondTimeOfDay:
		return e.evalTimeOfDay(node, ec)
	case schema.CondDayOfWeek:
		return e.evalDayOfWeek(node, ec)
	case schema.CondExpression:
		return e.evalExpression(ctx, node, ec)
	default:
		return evalError("unknown condition kind %q", node.Kind)
	}
}

// --- Composites ---

func (e *Evaluator) evalAnd(ctx context.Context, node *schema.ConditionNode, ec *EvalContext) Result {
	if len(node.Children) == 0 {
		return evalError("and condition requires at least one child")
	}
	all := true
	for i, child := range node.Children {
		r := e.Evaluate(ctx, child, ec)
		if !r.OK {
			return evalError("and child %d: %s", i, r.Message)
		}
		if !r.Matched {
			all = false
		}
	}
	if all {
		return matched("all %d conditions matched", len(node.Children))
	}
	return noMatch("not all conditions matched")
}

func (e *Evaluator) evalOr(ctx context.Context, node *schema.ConditionNode, ec *EvalContext) Result {
	if len(node.Children) == 0 {
		return evalError("or condition requires at least one child")
	}
	var errs []string
	anyMatched := false
	for i, child := range node.Children {
		r := e.Evaluate(ctx, child, ec)
		if !r.OK {
			errs = append(errs, fmt.Sprintf("child %d: %s", i, r.Message))
			continue
		}
		if r.Matched {
			anyMatched = true
		}
	}
	// or tolerates child errors as long as at least one child evaluated.
	if len(errs) == len(node.Children) {
		return evalError("all or children failed: %s", strings.Join(errs, "; "))
	}
	if anyMatched {
		return matched("at least one condition matched")
	}
	return noMatch("no condition matched")
}

// --- Leaves ---

func (e *Evaluator) evalStatusEquals(node *schema.ConditionNode, ec *EvalContext) Result {
	if node.Status == "" {
		return evalError("status-equals requires a status")
	}
	client := ec.client()
	status, _ := client["status"].(string)
	if strings.EqualFold(status, node.Status) {
		return matched("status %q equals %q", status, node.Status)
	}
	return noMatch("status %q does not equal %q", status, node.Status)
}

func (e *Evaluator) evalHasTag(node *schema.ConditionNode, ec *EvalContext) Result {
	if node.Tag == "" {
		return evalError("has-tag requires a tag")
	}
	client := ec.client()
	tags, _ := client["tags"].([]any)
	for _, t := range tags {
		if s, ok := t.(string); ok && s == node.Tag {
			return matched("tag %q present", node.Tag)
		}
	}
	return noMatch("tag %q not present", node.Tag)
}

func (e *Evaluator) evalFieldCompare(ctx context.Context, node *schema.ConditionNode, ec *EvalContext) Result {
	if node.Path == "" {
		return evalError("field-compare requires a path")
	}
	if !validOp(node.Op) {
		return evalError("field-compare: invalid operator %q", node.Op)
	}
	val, err := e.jq.Evaluate(ctx, node.Path, ec.client())
	if err != nil {
		return evalError("field-compare path %q: %s", node.Path, err.Error())
	}
	if val == nil {
		return noMatch("path %q yielded null", node.Path)
	}
	ok, err := compare(val, node.Op, node.Value)
	if err != nil {
		return evalError("field-compare: %s", err.Error())
	}
	if ok {
		return matched("%v %s %v", val, node.Op, node.Value)
	}
	return noMatch("%v %s %v is false", val, node.Op, node.Value)
}

func (e *Evaluator) evalAgeInDays(node *schema.ConditionNode, ec *EvalContext) Result {
	if node.Field == "" {
		return evalError("age-in-days requires a field")
	}
	if !validOp(node.Op) || node.Op == "!=" {
		return evalError("age-in-days: invalid operator %q", node.Op)
	}
	client := ec.client()
	raw, ok := client[node.Field]
	if !ok {
		return evalError("age-in-days: field %q not present on entity", node.Field)
	}
	str, ok := raw.(string)
	if !ok {
		return evalError("age-in-days: field %q is not a timestamp", node.Field)
	}
	ts, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return evalError("age-in-days: cannot parse %q as timestamp: %s", str, err.Error())
	}
	age := ec.now().Sub(ts).Hours() / 24
	ok, err = compareFloats(age, node.Op, node.Days)
	if err != nil {
		return evalError("age-in-days: %s", err.Error())
	}
	if ok {
		return matched("%s is %.1f days old (%s %g)", node.Field, age, node.Op, node.Days)
	}
	return noMatch("%s is %.1f days old, not %s %g", node.Field, age, node.Op, node.Days)
}

func (e *Evaluator) evalMissingDocuments(node *schema.ConditionNode, ec *EvalContext) Result {
	if node.Category == "" {
		return evalError("missing-documents requires a category")
	}
	for _, doc := range ec.Documents {
		if doc.Category == node.Category && doc.Received {
			return noMatch("document of category %q received", node.Category)
		}
	}
	return matched("no received document of category %q", node.Category)
}

func (e *Evaluator) evalActorRole(node *schema.ConditionNode, ec *EvalContext) Result {
	if len(node.Roles) == 0 {
		return evalError("actor-role requires at least one role")
	}
	if ec.Actor == nil {
		return evalError("actor-role: no actor in context")
	}
	for _, role := range node.Roles {
		if strings.EqualFold(ec.Actor.Role, role) {
			return matched("actor %q holds role %q", ec.Actor.ID, ec.Actor.Role)
		}
	}
	return noMatch("actor role %q not in %v", ec.Actor.Role, node.Roles)
}

func (e *Evaluator) evalTimeOfDay(node *schema.ConditionNode, ec *EvalContext) Result {
	if node.Start == "" || node.End == "" {
		return evalError("time-of-day requires start and end")
	}
	start, err := parseClock(node.Start)
	if err != nil {
		return evalError("time-of-day: invalid start %q: %s", node.Start, err.Error())
	}
	end, err := parseClock(node.End)
	if err != nil {
		return evalError("time-of-day: invalid end %q: %s", node.End, err.Error())
	}
	now := ec.now()
	cur := now.Hour()*60 + now.Minute()

	var in bool
	if start <= end {
		in = cur >= start && cur <= end
	} else {
		// Window wraps past midnight, e.g. 22:00-06:00.
		in = cur >= start || cur <= end
	}
	if in {
		return matched("%s within %s-%s", now.Format("15:04"), node.Start, node.End)
	}
	return noMatch("%s outside %s-%s", now.Format("15:04"), node.Start, node.End)
}

func (e *Evaluator) evalDayOfWeek(node *schema.ConditionNode, ec *EvalContext) Result {
	if len(node.DaysOfWeek) == 0 {
		return evalError("day-of-week requires at least one day")
	}
	today := ec.now().Weekday()
	for _, d := range node.DaysOfWeek {
		day, err := parseWeekday(d)
		if err != nil {
			return evalError("day-of-week: %s", err.Error())
		}
		if day == today {
			return matched("today is %s", today)
		}
	}
	return noMatch("today is %s, not in %v", today, node.DaysOfWeek)
}

func (e *Evaluator) evalExpression(ctx context.Context, node *schema.ConditionNode, ec *EvalContext) Result {
	if node.Expression == "" {
		return evalError("expression condition requires an expression")
	}
	var engine expressions.Engine
	switch node.Language {
	case "", "cel":
		engine = e.cel
	case "expr":
		engine = e.expr
	default:
		return evalError("expression: unknown language %q", node.Language)
	}
	if engine == nil {
		return evalError("expression: no %q engine configured", node.Language)
	}
	var data map[string]any
	if ec.Scope != nil {
		data = ec.Scope.Data()
	}
	val, err := engine.Evaluate(ctx, node.Expression, data)
	if err != nil {
		return evalError("expression: %s", err.Error())
	}
	b, ok := val.(bool)
	if !ok {
		return evalError("expression must yield a boolean, got %T", val)
	}
	if b {
		return matched("expression %q is true", node.Expression)
	}
	return noMatch("expression %q is false", node.Expression)
}

// --- Comparison helpers ---

func validOp(op string) bool {
	switch op {
	case ">", "<", "=", "==", ">=", "<=", "!=":
		return true
	}
	return false
}

// compare applies op to two values, numerically when both coerce to numbers,
// otherwise by string comparison.
func compare(left any, op string, right any) (bool, error) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		return compareFloats(lf, op, rf)
	}
	return compareStrings(fmt.Sprintf("%v", left), op, fmt.Sprintf("%v", right))
}

func compareFloats(left float64, op string, right float64) (bool, error) {
	switch op {
	case ">":
		return left > right, nil
	case "<":
		return left < right, nil
	case "=", "==":
		return left == right, nil
	case ">=":
		return left >= right, nil
	case "<=":
		return left <= right, nil
	case "!=":
		return left != right, nil
	}
	return false, fmt.Errorf("invalid operator %q", op)
}

func compareStrings(left, op, right string) (bool, error) {
	switch op {
	case ">":
		return left > right, nil
	case "<":
		return left < right, nil
	case "=", "==":
		return left == right, nil
	case ">=":
		return left >= right, nil
	case "<=":
		return left <= right, nil
	case "!=":
		return left != right, nil
	}
	return false, fmt.Errorf("invalid operator %q", op)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM: %w", err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// parseWeekday accepts numeric 0=Sunday..6=Saturday or case-insensitive
// full day names.
func parseWeekday(v any) (time.Weekday, error) {
	switch d := v.(type) {
	case float64:
		if d != float64(int(d)) || d < 0 || d > 6 {
			return 0, fmt.Errorf("day number %v out of range 0-6", d)
		}
		return time.Weekday(int(d)), nil
	case int:
		if d < 0 || d > 6 {
			return 0, fmt.Errorf("day number %d out of range 0-6", d)
		}
		return time.Weekday(d), nil
	case string:
		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			if strings.EqualFold(wd.String(), d) {
				return wd, nil
			}
		}
		return 0, fmt.Errorf("unknown day name %q", d)
	}
	return 0, fmt.Errorf("invalid day value %v (%T)", v, v)
}
