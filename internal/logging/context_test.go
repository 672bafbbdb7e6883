package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", Project(ctx))
	assert.Equal(t, "", AppID(ctx))
	_, ok := Sequence(ctx)
	assert.False(t, ok)

	ctx = WithRun(ctx, "demo", "run-1")
	ctx = WithSequence(ctx, 7)

	assert.Equal(t, "demo", Project(ctx))
	assert.Equal(t, "run-1", AppID(ctx))
	seq, ok := Sequence(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(7), seq)
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithSequence(WithRun(context.Background(), "demo", "run-1"), 0)
	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "project=demo")
	assert.Contains(t, output, "app_id=run-1")
	assert.Contains(t, output, "sequence_id=0")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogWith(WithProject(context.Background(), "demo"), logger).Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "project=demo")
	assert.NotContains(t, output, "app_id")
	assert.NotContains(t, output, "sequence_id")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil))).With("component", "render")

	logger.InfoContext(WithAppID(context.Background(), "run-9"), "frame drawn")

	output := buf.String()
	assert.Contains(t, output, "component=render")
	assert.Contains(t, output, "app_id=run-9")
}

func TestNewJSONRenamesErrorKey(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo, "json")

	logger.InfoContext(WithProject(context.Background(), "demo"), "failed", "error", errors.New("boom"))
	logger.Debug("hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "boom", rec["err"])
	assert.Equal(t, "demo", rec["project"])
	assert.NotContains(t, rec, "error")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
