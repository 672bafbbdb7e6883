package expressions

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/tracelens/pkg/schema"
)

// Condition languages an application may declare.
const (
	LanguageExpr = "expr"
	LanguageCEL  = "cel"
)

// Conditions evaluates transition labels against step results.
type Conditions struct {
	expr *ExprEngine
	cel  *CELEngine
}

// NewConditions creates a Conditions evaluator with both engines.
func NewConditions() (*Conditions, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("expressions: conditions: %w", err)
	}
	return &Conditions{expr: NewExprEngine(), cel: celEngine}, nil
}

// Evaluate reports whether a transition's label holds for a step result.
// An empty label and "default" always hold.
func (c *Conditions) Evaluate(ctx context.Context, language, label string, result map[string]any) (bool, error) {
	expression := NormalizeCondition(label, language)

	var engine Engine = c.expr
	if language == LanguageCEL {
		engine = c.cel
	}

	out, err := engine.Evaluate(ctx, expression, result)
	if err != nil {
		return false, err
	}
	held, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q evaluated to %T, want bool", label, out).
			WithDetails(map[string]any{"condition": label, "expression": expression})
	}
	return held, nil
}

// NormalizeCondition rewrites a transition label into an expression of the
// given language. Labels of the form `key=value, other=value` become a
// conjunction of equality tests, Python literals True/False/None are mapped,
// and a leading `~` negates. Anything else is returned trimmed.
func NormalizeCondition(label, language string) string {
	label = strings.TrimSpace(label)
	if label == "" || label == schema.DefaultCondition {
		return "true"
	}

	if strings.HasPrefix(label, "~") {
		inner := strings.TrimSpace(strings.TrimPrefix(label, "~"))
		inner = strings.TrimSuffix(strings.TrimPrefix(inner, "("), ")")
		return "!(" + NormalizeCondition(inner, language) + ")"
	}

	parts := strings.Split(label, ",")
	terms := make([]string, 0, len(parts))
	for _, part := range parts {
		key, value, ok := splitAssignment(strings.TrimSpace(part))
		if !ok {
			return label
		}
		terms = append(terms, key+" == "+literal(value, language))
	}
	return strings.Join(terms, " && ")
}

// splitAssignment splits `key=value` where '=' is not part of a comparison operator.
func splitAssignment(s string) (string, string, bool) {
	i := strings.IndexByte(s, '=')
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	if strings.ContainsAny(s[i-1:i], "=!<>") || s[i+1] == '=' {
		return "", "", false
	}
	key := strings.TrimSpace(s[:i])
	if !isIdentifier(key) {
		return "", "", false
	}
	return key, strings.TrimSpace(s[i+1:]), true
}

func literal(v, language string) string {
	switch v {
	case "True":
		return "true"
	case "False":
		return "false"
	case "None":
		if language == LanguageCEL {
			return "null"
		}
		return "nil"
	}
	if strings.HasPrefix(v, "'") && strings.HasSuffix(v, "'") && len(v) >= 2 {
		return `"` + strings.ReplaceAll(v[1:len(v)-1], `"`, `\"`) + `"`
	}
	return v
}
