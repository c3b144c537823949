package validation

import "github.com/clienthub/automation/pkg/schema"

// Validator checks workflow definitions before they are stored or fired.
// Validation runs in two passes: JSON Schema for the wire shape, then
// semantic checks for everything the schema cannot express (closed enums,
// trigger config pairings, condition tree structure, nesting rules).
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
}
