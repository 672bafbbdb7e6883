package expressions

import (
	"context"
	"testing"

	"github.com/rendis/tracelens/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_TopLevelKeys(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "done == true && counter > 2", map[string]any{"done": true, "counter": 3})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_ResultVariable(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `has(result.answer) && result["answer"] == "42"`, map[string]any{"answer": "42"})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), `has(result.answer)`, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestCEL_CacheKeyedByVariables(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "x == 1", map[string]any{"x": 1})
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), "x == 1", map[string]any{"x": 2, "y": 1})
	require.NoError(t, err)
	assert.Len(t, e.cache, 2)
}

func TestCEL_Errors(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), "missing == 1", map[string]any{"other": 1})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestVariableNames(t *testing.T) {
	names := variableNames(map[string]any{"b": 1, "a": 2, "result": 3, "bad-key": 4, "in": 5, "_ok1": 6})
	assert.Equal(t, []string{"_ok1", "a", "b"}, names)
}
