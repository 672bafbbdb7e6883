package expressions

import "context"

// Engine evaluates expressions against a step's data.
// Three implementations: Expr and CEL (transition conditions), GoJQ (result queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
