package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/tracelens/internal/highlight"
	"github.com/rendis/tracelens/internal/playback"
	"github.com/rendis/tracelens/internal/streaming"
	"github.com/rendis/tracelens/internal/tracking"
	"github.com/rendis/tracelens/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fakes ---

type fakeRuns struct {
	mu      sync.Mutex
	apps    map[tracking.RunRef]*schema.Application
	tls     map[tracking.RunRef]*playback.Timeline
	watched map[tracking.RunRef]int
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{
		apps:    make(map[tracking.RunRef]*schema.Application),
		tls:     make(map[tracking.RunRef]*playback.Timeline),
		watched: make(map[tracking.RunRef]int),
	}
}

func (f *fakeRuns) add(t *testing.T, ref tracking.RunRef, app *schema.Application, steps ...schema.Step) {
	t.Helper()
	tl, err := playback.NewTimeline(steps)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apps[ref], f.tls[ref] = app, tl
}

func (f *fakeRuns) Load(_ context.Context, ref tracking.RunRef) (*schema.Application, *playback.Timeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[ref]
	if !ok {
		return nil, nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", ref)
	}
	return app, f.tls[ref], nil
}

func (f *fakeRuns) Watch(ref tracking.RunRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched[ref]++
}

func (f *fakeRuns) Unwatch(ref tracking.RunRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched[ref]--
}

func (f *fakeRuns) watchers(ref tracking.RunRef) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watched[ref]
}

type fakeSession struct {
	id            string
	notifications chan mcp.JSONRPCNotification
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, notifications: make(chan mcp.JSONRPCNotification, 16)}
}

func (s *fakeSession) SessionID() string { return s.id }
func (s *fakeSession) Initialize()       {}
func (s *fakeSession) Initialized() bool { return true }

func (s *fakeSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return s.notifications
}

// --- Fixtures ---

var gameRef = tracking.RunRef{Project: "demo", App: "game", AppID: "run-1"}

func gameApp() *schema.Application {
	return &schema.Application{
		Actions: []schema.Action{
			{Name: "start"},
			{Name: "prompt", Inputs: []string{"user_input"}},
			{Name: "evaluate"},
			{Name: "win"},
		},
		Transitions: []schema.Transition{
			{From: "start", To: "prompt"},
			{From: "prompt", To: "evaluate"},
			{From: "evaluate", To: "win", Condition: "done=True"},
			{From: "evaluate", To: "prompt", Condition: "default"},
		},
	}
}

func done(action string, seq int64, result map[string]any) schema.Step {
	return schema.Step{
		Start: schema.StartEntry{Action: action, SequenceID: seq},
		End:   &schema.EndEntry{Action: action, SequenceID: seq, Result: result},
	}
}

func gameSteps() []schema.Step {
	return []schema.Step{
		done("start", 0, nil),
		done("prompt", 1, map[string]any{"guess": 7}),
		done("evaluate", 2, map[string]any{"done": false, "hints": []any{"higher", "odd"}}),
	}
}

// inlineRun encodes a run the way an MCP client sends it.
func inlineRun(t *testing.T, app *schema.Application, steps []schema.Step) map[string]any {
	t.Helper()
	raw, err := json.Marshal(schema.Run{Application: *app, Steps: steps})
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

// --- Tests ---

func TestRenderToolInlineMermaid(t *testing.T) {
	s := newTestServer(t, ServerDeps{})

	req := buildRequest("tracelens.render", map[string]any{
		"run":   inlineRun(t, gameApp(), gameSteps()),
		"index": float64(1),
	})
	result, err := s.handleRender(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	text := extractText(t, result)
	assert.True(t, strings.HasPrefix(text, "graph TD"))
	assert.Contains(t, text, "class prompt active")
	assert.Contains(t, text, "class start inpath")
	assert.NotContains(t, text, "class evaluate active")
}

func TestRenderToolTrackedRunSVG(t *testing.T) {
	runs := newFakeRuns()
	runs.add(t, gameRef, gameApp(), gameSteps()...)
	s := newTestServer(t, ServerDeps{Runs: runs})

	req := buildRequest("tracelens.render", map[string]any{
		"project":   "demo",
		"app":       "game",
		"app_id":    "run-1",
		"format":    "svg",
		"direction": "LR",
	})
	result, err := s.handleRender(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	assert.Contains(t, extractText(t, result), "<svg")
}

func TestRenderToolErrors(t *testing.T) {
	runs := newFakeRuns()
	s := newTestServer(t, ServerDeps{Runs: runs})
	noBackend := newTestServer(t, ServerDeps{})

	tests := []struct {
		name string
		srv  *Server
		args map[string]any
		want string
	}{
		{"bad format", s, map[string]any{"format": "gif"}, "unsupported format"},
		{"missing ref", s, map[string]any{"project": "demo"}, "project, app and app_id are required"},
		{"unknown run", s, map[string]any{"project": "demo", "app": "game", "app_id": "nope"}, "not found"},
		{"no backend", noBackend, map[string]any{"project": "demo", "app": "game", "app_id": "run-1"}, "no tracking backend"},
		{"invalid inline run", s, map[string]any{"run": map[string]any{"steps": []any{}}}, "invalid run"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := tc.srv.handleRender(context.Background(), buildRequest("tracelens.render", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractText(t, result), tc.want)
		})
	}
}

func TestRenderToolMalformedApplication(t *testing.T) {
	s := newTestServer(t, ServerDeps{})
	app := gameApp()
	app.Transitions = append(app.Transitions, schema.Transition{From: "win", To: "ghost"})

	req := buildRequest("tracelens.render", map[string]any{"run": inlineRun(t, app, nil)})
	result, err := s.handleRender(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestClassifyTool(t *testing.T) {
	runs := newFakeRuns()
	runs.add(t, gameRef, gameApp(), gameSteps()...)
	s := newTestServer(t, ServerDeps{Runs: runs})

	req := buildRequest("tracelens.classify", map[string]any{
		"project": "demo",
		"app":     "game",
		"app_id":  "run-1",
		"seq":     float64(1),
		"hover":   float64(0),
	})
	result, err := s.handleClassify(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out classification
	unmarshalResult(t, result, &out)
	require.NotNil(t, out.Current)
	assert.Equal(t, int64(1), *out.Current)
	assert.Equal(t, "prompt", out.Action)
	require.NotNil(t, out.Hovered)
	assert.Equal(t, int64(0), *out.Hovered)
	assert.Equal(t, "TB", out.Direction)

	assert.Equal(t, highlight.Active, out.State.Node("prompt").Class)
	assert.Equal(t, highlight.Active, out.State.Node("input__prompt__user_input").Class)
	assert.Equal(t, highlight.InPath, out.State.Node("start").Class)
	assert.True(t, out.State.Node("start").Hovered)
	assert.Equal(t, highlight.Neutral, out.State.Node("evaluate").Class)
	assert.Equal(t, highlight.InPath, out.State.Edge("start->prompt").Class)
	assert.Equal(t, highlight.Neutral, out.State.Edge("prompt->evaluate").Class)
}

func TestClassifyToolLatestByDefault(t *testing.T) {
	s := newTestServer(t, ServerDeps{})

	req := buildRequest("tracelens.classify", map[string]any{"run": inlineRun(t, gameApp(), gameSteps())})
	result, err := s.handleClassify(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out classification
	unmarshalResult(t, result, &out)
	assert.Equal(t, "evaluate", out.Action)
	assert.Nil(t, out.Hovered)
	assert.Equal(t, highlight.Active, out.State.Node("evaluate").Class)
}

func TestStepResultTool(t *testing.T) {
	runs := newFakeRuns()
	inflight := schema.Step{Start: schema.StartEntry{Action: "win", SequenceID: 3}}
	runs.add(t, gameRef, gameApp(), append(gameSteps(), inflight)...)
	s := newTestServer(t, ServerDeps{Runs: runs})

	ref := map[string]any{"project": "demo", "app": "game", "app_id": "run-1"}
	with := func(extra map[string]any) map[string]any {
		args := map[string]any{}
		for k, v := range ref {
			args[k] = v
		}
		for k, v := range extra {
			args[k] = v
		}
		return args
	}

	t.Run("whole result", func(t *testing.T) {
		result, err := s.handleStepResult(context.Background(), buildRequest("tracelens.step_result", with(map[string]any{"seq": float64(1)})))
		require.NoError(t, err)
		require.False(t, result.IsError, extractText(t, result))
		var out map[string]any
		unmarshalResult(t, result, &out)
		assert.Equal(t, "prompt", out["action"])
		assert.Equal(t, map[string]any{"guess": float64(7)}, out["result"])
	})

	t.Run("jq", func(t *testing.T) {
		result, err := s.handleStepResult(context.Background(), buildRequest("tracelens.step_result", with(map[string]any{
			"seq": float64(2),
			"jq":  ".hints[]",
		})))
		require.NoError(t, err)
		require.False(t, result.IsError, extractText(t, result))
		var out map[string]any
		unmarshalResult(t, result, &out)
		assert.Equal(t, []any{"higher", "odd"}, out["values"])
	})

	t.Run("errors", func(t *testing.T) {
		for _, args := range []map[string]any{
			with(nil),
			with(map[string]any{"seq": float64(9)}),
			with(map[string]any{"seq": float64(3)}),
			with(map[string]any{"seq": float64(1), "jq": ".["}),
		} {
			result, err := s.handleStepResult(context.Background(), buildRequest("tracelens.step_result", args))
			require.NoError(t, err)
			assert.True(t, result.IsError, "args %v", args)
		}
	})
}

func TestWatchToolRequiresSessionAndBackend(t *testing.T) {
	args := map[string]any{"project": "demo", "app": "game", "app_id": "run-1"}

	noBackend := newTestServer(t, ServerDeps{})
	result, err := noBackend.handleWatch(context.Background(), buildRequest("tracelens.watch", args))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	s := newTestServer(t, ServerDeps{Runs: newFakeRuns(), Hub: streaming.NewMemoryHub()})
	result, err = s.handleWatch(context.Background(), buildRequest("tracelens.watch", args))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "client session")
}

func TestWatchToolForwardsRunEvents(t *testing.T) {
	runs := newFakeRuns()
	hub := streaming.NewMemoryHub()
	s := newTestServer(t, ServerDeps{Runs: runs, Hub: hub})

	session := newFakeSession("sess-1")
	require.NoError(t, s.mcpServer.RegisterSession(context.Background(), session))
	ctx := s.mcpServer.WithContext(context.Background(), session)

	args := map[string]any{"project": "demo", "app": "game", "app_id": "run-1"}
	result, err := s.handleWatch(ctx, buildRequest("tracelens.watch", args))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	assert.Equal(t, 1, runs.watchers(gameRef))
	assert.Equal(t, []tracking.RunRef{gameRef}, s.watches.Refs("sess-1"))

	// Watching again is a no-op.
	_, err = s.handleWatch(ctx, buildRequest("tracelens.watch", args))
	require.NoError(t, err)
	assert.Equal(t, 1, runs.watchers(gameRef))

	require.NoError(t, hub.Publish(context.Background(), streaming.StreamEvent{
		Topic:     gameRef.Topic(),
		EventType: streaming.EventStepsAppended,
		Sequence:  3,
	}))

	select {
	case n := <-session.notifications:
		assert.Equal(t, "notifications/message", n.Method)
		assert.Equal(t, streaming.EventStepsAppended, n.Params.AdditionalFields["event_type"])
		assert.Equal(t, int64(3), n.Params.AdditionalFields["sequence_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}

	stop := map[string]any{"project": "demo", "app": "game", "app_id": "run-1", "action": "stop"}
	result, err = s.handleWatch(ctx, buildRequest("tracelens.watch", stop))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, 0, runs.watchers(gameRef))
	assert.Empty(t, s.watches.Refs("sess-1"))
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestNotifierDropsGoneSession(t *testing.T) {
	s := newTestServer(t, ServerDeps{})
	stopped := 0
	s.watches.Add("gone", gameRef, func() { stopped++ })

	err := s.notifier.Notify(context.Background(), "gone", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, stopped)
	assert.Zero(t, s.watches.Len())
}

func TestWatchRegistry(t *testing.T) {
	r := NewWatchRegistry()
	other := tracking.RunRef{Project: "demo", App: "game", AppID: "run-0"}
	var stops []string
	stopper := func(name string) func() { return func() { stops = append(stops, name) } }

	assert.True(t, r.Add("s1", gameRef, stopper("s1/run-1")))
	assert.False(t, r.Add("s1", gameRef, stopper("dup")))
	assert.True(t, r.Add("s1", other, stopper("s1/run-0")))
	assert.True(t, r.Add("s2", gameRef, stopper("s2/run-1")))
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []tracking.RunRef{other, gameRef}, r.Refs("s1"))
	assert.True(t, r.Has("s2", gameRef))

	assert.True(t, r.Remove("s1", other))
	assert.False(t, r.Remove("s1", other))
	assert.Equal(t, []string{"s1/run-0"}, stops)

	assert.Equal(t, 1, r.RemoveSession("s1"))
	r.Close()
	assert.ElementsMatch(t, []string{"s1/run-0", "s1/run-1", "s2/run-1"}, stops)
	assert.Zero(t, r.Len())
}

// --- Test helpers ---

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

var _ server.ClientSession = (*fakeSession)(nil)
