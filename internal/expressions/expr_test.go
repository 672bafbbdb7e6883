package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/tracelens/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

func TestExpr_ResultFields(t *testing.T) {
	e := NewExprEngine()
	result := map[string]any{"done": true, "counter": 3, "chat_item": map[string]any{"role": "user"}}

	t.Run("bool field", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "done == true", result)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("comparison", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "counter >= 10", result)
		require.NoError(t, err)
		assert.Equal(t, false, out)
	})

	t.Run("nested", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `chat_item.role == "user"`, result)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("missing field is nil", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "safe == nil", result)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}

func TestExpr_CacheSharedAcrossResultShapes(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "counter > 1", map[string]any{"counter": 5})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), "counter > 1", map[string]any{"counter": 0.5})
	require.NoError(t, err)
	assert.Equal(t, false, out)
	assert.Len(t, e.cache, 1)
}

func TestExpr_Errors(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), "done ==", nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestExpr_ConcurrentEvaluate(t *testing.T) {
	e := NewExprEngine()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "n % 2 == 0", map[string]any{"n": n})
			assert.NoError(t, err)
			assert.Equal(t, n%2 == 0, out)
		}(i)
	}
	wg.Wait()
}
