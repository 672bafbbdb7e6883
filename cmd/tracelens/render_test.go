package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/internal/logging"
	"github.com/rendis/tracelens/pkg/schema"
)

const runFile = `{
  "application": {
    "actions": [
      {"name": "start"},
      {"name": "prompt", "inputs": ["user_input", "__context"]},
      {"name": "evaluate"},
      {"name": "win"}
    ],
    "transitions": [
      {"from": "start", "to": "prompt"},
      {"from": "prompt", "to": "evaluate"},
      {"from": "evaluate", "to": "win", "condition": "done=True"},
      {"from": "evaluate", "to": "prompt", "condition": "default"}
    ]
  },
  "steps": [
    {"step_start_log": {"action": "start", "sequence_id": 0}, "step_end_log": {"action": "start", "sequence_id": 0}},
    {"step_start_log": {"action": "prompt", "sequence_id": 1}, "step_end_log": {"action": "prompt", "sequence_id": 1}},
    {"step_start_log": {"action": "evaluate", "sequence_id": 2}}
  ]
}`

func defaultRenderOptions(format string) renderOptions {
	return renderOptions{Layout: layout.DefaultConfig(), Format: format, Seq: -1, Index: -1, Hover: -1}
}

func TestRenderFileRunMermaid(t *testing.T) {
	out, err := renderFile(context.Background(), []byte(runFile), defaultRenderOptions("mermaid"), logging.NewNop())
	require.NoError(t, err)

	text := string(out)
	assert.True(t, strings.HasPrefix(text, "graph TD"))
	assert.Contains(t, text, "class evaluate active")
	assert.Contains(t, text, "class prompt inpath")
	assert.NotContains(t, text, "__context")
}

func TestRenderFileAtIndex(t *testing.T) {
	opts := defaultRenderOptions("mermaid")
	opts.Index = 0
	out, err := renderFile(context.Background(), []byte(runFile), opts, logging.NewNop())
	require.NoError(t, err)
	assert.Contains(t, string(out), "class start active")
	assert.NotContains(t, string(out), "class prompt inpath")
}

func TestRenderFileBareApplication(t *testing.T) {
	var run map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(runFile), &run))

	opts := defaultRenderOptions("json")
	opts.Layout.Direction = layout.LeftToRight
	out, err := renderFile(context.Background(), run["application"], opts, logging.NewNop())
	require.NoError(t, err)

	var scene map[string]any
	require.NoError(t, json.Unmarshal(out, &scene))
	assert.NotEmpty(t, scene["nodes"])
}

func TestRenderFileRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not an object", `[1, 2]`},
		{"unknown endpoint", `{"actions": [{"name": "a"}], "transitions": [{"from": "a", "to": "b"}]}`},
		{"missing steps", `{"application": {"actions": [], "transitions": []}}`},
		{"step for unknown action", `{"application": {"actions": [{"name": "a"}], "transitions": []},
			"steps": [{"step_start_log": {"action": "zzz", "sequence_id": 0}}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := renderFile(context.Background(), []byte(tc.input), defaultRenderOptions("svg"), logging.NewNop())
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), "got %v", err)
		})
	}
}

func TestRenderCommandWritesFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "run.json")
	dest := filepath.Join(dir, "run.svg")
	require.NoError(t, os.WriteFile(in, []byte(runFile), 0o644))
	t.Setenv("HOME", dir)

	rootCmd.SetArgs([]string{"render", in, "--format", "svg", "--out", dest, "--log-level", "error"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.Execute())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "dev\n", buf.String())
}
