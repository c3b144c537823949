package validation

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clienthub/automation/pkg/schema"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var validOps = map[string]bool{
	">": true, "<": true, "=": true, "==": true, ">=": true, "<=": true, "!=": true,
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true, "HEAD": true,
}

// validateSemantics enforces everything the JSON Schema cannot: closed
// enums, trigger config pairings, condition tree structure, per-action
// params, and flow-control nesting rules.
func validateSemantics(def *schema.WorkflowDefinition) error {
	if err := validateTrigger(def); err != nil {
		return err
	}
	if def.Condition != nil {
		if err := validateCondition(def.Condition, "condition"); err != nil {
			return err
		}
	}
	for i, step := range def.Actions {
		if err := validateStep(step, fmt.Sprintf("actions[%d]", i), topLevel); err != nil {
			return err
		}
	}
	return nil
}

// validateTrigger checks trigger enum membership and the trigger_config
// fields each time-based trigger requires.
func validateTrigger(def *schema.WorkflowDefinition) error {
	if !schema.ValidTriggerType(def.Trigger) {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown trigger type %q", def.Trigger)
	}

	cfg := schema.TriggerConfig{}
	if def.TriggerConfig != nil {
		cfg = *def.TriggerConfig
	}
	switch def.Trigger {
	case schema.TriggerScheduled:
		if cfg.Cron == "" {
			return schema.NewError(schema.ErrCodeValidation, "scheduled trigger requires trigger_config.cron")
		}
		if _, err := cronParser.Parse(cfg.Cron); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q: %s", cfg.Cron, err.Error()).WithCause(err)
		}
	case schema.TriggerTimeInStage, schema.TriggerClientInactive:
		if cfg.ThresholdDays <= 0 {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"%s trigger requires trigger_config.threshold_days > 0", def.Trigger)
		}
	case schema.TriggerDateBased:
		if cfg.DateField == "" {
			return schema.NewError(schema.ErrCodeValidation, "date-based trigger requires trigger_config.date_field")
		}
	case schema.TriggerStageEntered, schema.TriggerStageExited:
		if cfg.Stage == "" {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"%s trigger requires trigger_config.stage", def.Trigger)
		}
	}
	return nil
}

// validateCondition recursively checks a condition tree. path names the
// offending node in error messages.
func validateCondition(node *schema.ConditionNode, path string) error {
	if !schema.ValidConditionKind(node.Kind) {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: unknown condition kind %q", path, node.Kind)
	}

	switch node.Kind {
	case schema.CondAnd, schema.CondOr:
		if len(node.Children) == 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: %s requires at least one child", path, node.Kind)
		}
		for i, child := range node.Children {
			if err := validateCondition(child, fmt.Sprintf("%s.children[%d]", path, i)); err != nil {
				return err
			}
		}
	case schema.CondStatusEquals:
		if node.Status == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: status-equals requires a status", path)
		}
	case schema.CondHasTag:
		if node.Tag == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: has-tag requires a tag", path)
		}
	case schema.CondFieldCompare:
		if node.Path == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: field-compare requires a path", path)
		}
		if !validOps[node.Op] {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid comparison op %q", path, node.Op)
		}
	case schema.CondAgeInDays:
		if node.Field == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: age-in-days requires a field", path)
		}
		if !validOps[node.Op] || node.Op == "!=" {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid age comparison op %q", path, node.Op)
		}
		if node.Days < 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: days must not be negative", path)
		}
	case schema.CondMissingDocuments:
		if node.Category == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: missing-documents requires a category", path)
		}
	case schema.CondActorRole:
		if len(node.Roles) == 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: actor-role requires at least one role", path)
		}
	case schema.CondTimeOfDay:
		if err := validClock(node.Start); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid start %q (want HH:MM)", path, node.Start)
		}
		if err := validClock(node.End); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid end %q (want HH:MM)", path, node.End)
		}
	case schema.CondDayOfWeek:
		if len(node.DaysOfWeek) == 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: day-of-week requires at least one day", path)
		}
		for _, d := range node.DaysOfWeek {
			if !validWeekday(d) {
				return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid weekday %v", path, d)
			}
		}
	case schema.CondExpression:
		if node.Expression == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: expression condition requires an expression", path)
		}
		switch node.Language {
		case "", "cel", "expr":
		default:
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: unknown expression language %q", path, node.Language)
		}
	}
	return nil
}

// nesting tracks where a step sits so flow-control rules can be enforced:
// branch may nest branches; parallel and wait are top-level only.
type nesting int

const (
	topLevel nesting = iota
	insideBranch
	insideParallel
)

func validateStep(step schema.ActionStep, path string, where nesting) error {
	if !schema.ValidActionType(step.Type) {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: unknown action type %q", path, step.Type)
	}
	if step.Retry != nil {
		if err := validateRetry(step.Retry, path); err != nil {
			return err
		}
	}

	switch step.Type {
	case schema.ActionBranch:
		if where == insideParallel {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: branch not allowed inside parallel", path)
		}
		return validateBranch(step.Params, path)
	case schema.ActionParallel:
		if where != topLevel {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: parallel only allowed at the top level", path)
		}
		return validateParallel(step.Params, path)
	case schema.ActionWait:
		if where != topLevel {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: wait only allowed at the top level", path)
		}
		return validateWait(step.Params, path)
	case schema.ActionCallWebhook:
		return validateWebhook(step.Params, path)
	}
	return nil
}

func validateRetry(policy *schema.RetryPolicy, path string) error {
	switch policy.Backoff {
	case "", "none", "constant", "linear", "exponential":
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: unknown backoff strategy %q", path, policy.Backoff)
	}
	if policy.Max < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: retry max must not be negative", path)
	}
	return nil
}

func validateBranch(raw json.RawMessage, path string) error {
	var p schema.BranchParams
	if err := decode(raw, &p, path); err != nil {
		return err
	}
	if p.Condition == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: branch requires a condition", path)
	}
	if err := validateCondition(p.Condition, path+".condition"); err != nil {
		return err
	}
	if len(p.Then) == 0 && len(p.Else) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: branch requires then or else sub-actions", path)
	}
	for i, sub := range p.Then {
		if err := validateStep(sub, fmt.Sprintf("%s.then[%d]", path, i), insideBranch); err != nil {
			return err
		}
	}
	for i, sub := range p.Else {
		if err := validateStep(sub, fmt.Sprintf("%s.else[%d]", path, i), insideBranch); err != nil {
			return err
		}
	}
	return nil
}

func validateParallel(raw json.RawMessage, path string) error {
	var p schema.ParallelParams
	if err := decode(raw, &p, path); err != nil {
		return err
	}
	if len(p.Actions) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: parallel requires at least one sub-action", path)
	}
	for i, sub := range p.Actions {
		if err := validateStep(sub, fmt.Sprintf("%s.actions[%d]", path, i), insideParallel); err != nil {
			return err
		}
	}
	return nil
}

func validateWait(raw json.RawMessage, path string) error {
	var p schema.WaitParams
	if err := decode(raw, &p, path); err != nil {
		return err
	}
	if p.Duration == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: wait requires a duration", path)
	}
	d, err := time.ParseDuration(p.Duration)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid wait duration %q", path, p.Duration).WithCause(err)
	}
	if d <= 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: wait duration must be positive", path)
	}
	return nil
}

func validateWebhook(raw json.RawMessage, path string) error {
	var p schema.WebhookParams
	if err := decode(raw, &p, path); err != nil {
		return err
	}
	if p.URL == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: call-webhook requires a url", path)
	}
	// placeholders resolve at run time; only literal URLs can be parsed here
	if !strings.Contains(p.URL, "{{") {
		u, err := url.ParseRequestURI(p.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid webhook url %q", path, p.URL)
		}
	}
	if p.Method != "" && !validMethods[strings.ToUpper(p.Method)] {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid webhook method %q", path, p.Method)
	}
	if p.MaxRetries < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: max_retries must not be negative", path)
	}
	if p.TimeoutSeconds < 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: timeout_seconds must not be negative", path)
	}
	if p.RetryDelay != "" {
		if _, err := time.ParseDuration(p.RetryDelay); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid retry_delay %q", path, p.RetryDelay).WithCause(err)
		}
	}
	return nil
}

func decode(raw json.RawMessage, out any, path string) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid params: %s", path, err.Error()).WithCause(err)
	}
	return nil
}

func validClock(s string) error {
	if s == "" {
		return fmt.Errorf("empty clock value")
	}
	_, err := time.Parse("15:04", s)
	return err
}

func validWeekday(d any) bool {
	switch v := d.(type) {
	case string:
		switch strings.ToLower(v) {
		case "sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday":
			return true
		}
		return false
	case float64:
		return v == float64(int(v)) && v >= 0 && v <= 6
	case int:
		return v >= 0 && v <= 6
	case json.Number:
		n, err := v.Float64()
		return err == nil && n == float64(int(n)) && n >= 0 && n <= 6
	}
	return false
}
