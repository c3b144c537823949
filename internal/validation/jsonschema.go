package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/clienthub/automation/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for the definition wire format.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://clienthub.dev/schemas/workflow.json",
  "type": "object",
  "required": ["trigger", "actions"],
  "properties": {
    "schema_version": { "type": "integer", "minimum": 1 },
    "trigger": { "type": "string", "minLength": 1 },
    "trigger_config": { "$ref": "#/$defs/trigger_config" },
    "condition": { "$ref": "#/$defs/condition" },
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "trigger_config": {
      "type": "object",
      "properties": {
        "stage": { "type": "string" },
        "threshold_days": { "type": "integer", "minimum": 0 },
        "cron": { "type": "string" },
        "date_field": { "type": "string" },
        "offset_days": { "type": "integer" }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": { "type": "string", "minLength": 1 },
        "children": {
          "type": "array",
          "items": { "$ref": "#/$defs/condition" }
        },
        "status": { "type": "string" },
        "tag": { "type": "string" },
        "path": { "type": "string" },
        "op": { "type": "string" },
        "value": {},
        "field": { "type": "string" },
        "days": { "type": "number" },
        "category": { "type": "string" },
        "roles": {
          "type": "array",
          "items": { "type": "string" }
        },
        "start": { "type": "string" },
        "end": { "type": "string" },
        "days_of_week": { "type": "array" },
        "language": { "type": "string" },
        "expression": { "type": "string" }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string", "minLength": 1 },
        "params": {},
        "retry": { "$ref": "#/$defs/retry" }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "required": ["max"],
      "properties": {
        "max": { "type": "integer", "minimum": 0 },
        "backoff": {
          "type": "string",
          "enum": ["none", "constant", "linear", "exponential"]
        },
        "delay": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        },
        "max_delay": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator implements Validator using JSON Schema Draft 2020-12
// plus a semantic pass. Safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with the workflow schema
// pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://clienthub.dev/schemas/workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile("https://clienthub.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &JSONSchemaValidator{workflowSchema: compiled}, nil
}

// ValidateDefinition runs the schema pass and then the semantic pass.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toAutomationError(err)
	}

	return validateSemantics(def)
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, the form the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toAutomationError converts a jsonschema.ValidationError into a typed
// error carrying every leaf violation.
func toAutomationError(err error) *schema.AutomationError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks the error tree and collects leaf messages with
// their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
