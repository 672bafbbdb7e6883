package expressions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/rendis/tracelens/pkg/schema"
)

// maxCachedQueries bounds the compiled query cache. Queries come from
// viewers, so the set is open ended; the cache is dropped when full.
const maxCachedQueries = 256

// GoJQEngine runs jq queries over step results for the panel and the MCP
// step_result tool. Queries cannot read the process environment.
// Thread-safe: compiled queries are shared across goroutines.
type GoJQEngine struct {
	mu    sync.Mutex
	cache map[string]*gojq.Code
}

// NewGoJQEngine creates a jq query engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: make(map[string]*gojq.Code)}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string {
	return "jq"
}

// QueryStep runs a jq query against the result of a completed step and
// returns every output in order. A step without a result is queried as an
// empty object. Errors carry the step's sequence id and action.
func (e *GoJQEngine) QueryStep(ctx context.Context, step *schema.Step, query string) ([]any, error) {
	if !step.Completed() {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"step %d (%s) has no result yet", step.Sequence(), step.Action()).
			WithDetails(stepDetails(step, query))
	}
	values, err := e.run(ctx, query, resultInput(step.End.Result))
	if err != nil {
		var te *schema.TraceError
		if errors.As(err, &te) {
			details := stepDetails(step, query)
			for k, v := range te.Details {
				details[k] = v
			}
			te.Details = details
		}
		return nil, err
	}
	return values, nil
}

// Evaluate runs a query against data. One output is returned as is, several
// as []any, none as nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	values, err := e.run(ctx, expression, resultInput(data))
	if err != nil {
		return nil, err
	}
	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return values[0], nil
	default:
		return values, nil
	}
}

func (e *GoJQEngine) run(ctx context.Context, query string, input any) ([]any, error) {
	code, err := e.compile(query)
	if err != nil {
		return nil, err
	}
	values := []any{}
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			return values, nil
		}
		if err, isErr := v.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "jq query %q failed: %s", query, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"jq": query})
		}
		values = append(values, v)
	}
}

func (e *GoJQEngine) compile(query string) (*gojq.Code, error) {
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq query")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if code, ok := e.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid jq query %q", query).
			WithCause(err).
			WithDetails(map[string]any{"jq": query})
	}
	code, err := gojq.Compile(parsed, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid jq query %q", query).
			WithCause(err).
			WithDetails(map[string]any{"jq": query})
	}

	if len(e.cache) >= maxCachedQueries {
		clear(e.cache)
	}
	e.cache[query] = code
	return code, nil
}

func stepDetails(step *schema.Step, query string) map[string]any {
	return map[string]any{
		"sequence_id": step.Sequence(),
		"action":      step.Action(),
		"jq":          query,
	}
}

// resultInput turns a step result into a value gojq accepts. Results decoded
// from JSON already are; results built in Go may hold ints, structs or typed
// slices, so anything else is round-tripped through JSON.
func resultInput(result map[string]any) any {
	if result == nil {
		return map[string]any{}
	}
	if jqNative(result) {
		return result
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return result
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return result
	}
	return out
}

func jqNative(v any) bool {
	switch val := v.(type) {
	case nil, bool, string, float64:
		return true
	case map[string]any:
		for _, item := range val {
			if !jqNative(item) {
				return false
			}
		}
		return true
	case []any:
		for _, item := range val {
			if !jqNative(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

var _ Engine = (*GoJQEngine)(nil)
