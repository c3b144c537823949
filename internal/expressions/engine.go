package expressions

import "context"

// Engine evaluates expressions within condition trees.
// Three implementations: CEL (default condition language), Expr (logic),
// GoJQ (field path extraction).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
