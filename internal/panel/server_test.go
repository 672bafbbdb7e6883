package panel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tracelens/internal/expressions"
	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/internal/playback"
	"github.com/rendis/tracelens/internal/render"
	"github.com/rendis/tracelens/internal/streaming"
	"github.com/rendis/tracelens/internal/tracking"
	"github.com/rendis/tracelens/pkg/schema"
)

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

type fixture struct {
	srv   *httptest.Server
	runs  *fakeRuns
	hub   *streaming.MemoryHub
	panel *PanelServer
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	runs := newFakeRuns()
	runs.add(t, gameRef, gameApp(),
		done("start", 0, nil),
		done("prompt", 1, map[string]any{"user_input": "42"}),
		done("evaluate", 2, map[string]any{"done": false, "guesses": []any{float64(3), float64(42)}}),
		schema.Step{Start: schema.StartEntry{Action: "prompt", SequenceID: 3}},
	)
	f := newFixtureWith(t, runs, streaming.NewMemoryHub())
	f.runs = runs
	return f
}

// newFixtureWith serves a panel over any run source.
func newFixtureWith(t *testing.T, runs RunSource, hub *streaming.MemoryHub) *fixture {
	t.Helper()
	logger := quietLogger()
	conds, err := expressions.NewConditions()
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "tracelens_test_total", Help: "test"}))

	p := NewPanelServer(PanelDeps{
		Runs:       runs,
		Cache:      layout.NewCache(layout.WithLogger(logger)),
		Conditions: conds,
		Hub:        hub,
		Layout:     layout.DefaultConfig(),
		Gatherer:   reg,
		Logger:     logger,
	})
	t.Cleanup(p.Close)
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, hub: hub, panel: p}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (f *fixture) post(t *testing.T, path string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(f.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (f *fixture) openSession(t *testing.T) string {
	t.Helper()
	var created struct {
		ID    string       `json:"id"`
		Frame render.Scene `json:"frame"`
	}
	resp := f.post(t, "/api/sessions", map[string]any{
		"project": gameRef.Project, "app": gameRef.App, "app_id": gameRef.AppID,
		"width": 800, "height": 600,
	}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, created.ID)
	return created.ID
}

const runPath = "/api/apps/demo/game/run-1"

func TestGraphSVG(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, runPath+"/graph.svg")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "<svg"))
	assert.Contains(t, body, `data-id="evaluate"`)

	_, lr := f.get(t, runPath+"/graph.svg?dir=LR&seq=1")
	assert.Contains(t, lr, `data-direction="LR"`)
}

func TestGraphSVGErrorState(t *testing.T) {
	f := newFixture(t)
	bad := gameApp()
	bad.Transitions = append(bad.Transitions, schema.Transition{From: "win", To: "ghost"})
	f.runs.add(t, gameRef, bad)

	resp, body := f.get(t, runPath+"/graph.svg")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, `class="error"`)
}

func TestUnknownRun(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/api/apps/demo/game/missing/graph.svg")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, schema.ErrCodeNotFound)
}

func TestExport(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, runPath+"/export?format=mermaid&seq=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "graph TD")
	assert.Contains(t, body, "class evaluate active")

	_, body = f.get(t, runPath+"/export?format=ascii&seq=2")
	assert.Contains(t, body, "[ACTIVE]")

	resp, _ = f.get(t, runPath+"/export?format=gif")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestLayout(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, runPath+"/layout?dir=LR")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pg layout.PositionedGraph
	require.NoError(t, json.Unmarshal([]byte(body), &pg))
	assert.Equal(t, layout.LeftToRight, pg.Direction)
	assert.Len(t, pg.Nodes, 5)
	assert.NotEmpty(t, pg.Key)
}

func TestStepResult(t *testing.T) {
	f := newFixture(t)

	var out map[string]any
	resp, body := f.get(t, "/api/steps/demo/game/run-1/2/result")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, "evaluate", out["action"])
	assert.Equal(t, false, out["result"].(map[string]any)["done"])

	_, body = f.get(t, "/api/steps/demo/game/run-1/2/result?jq=.guesses%5B%5D")
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, []any{float64(3), float64(42)}, out["values"])

	resp, _ = f.get(t, "/api/steps/demo/game/run-1/9/result")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.get(t, "/api/steps/demo/game/run-1/3/result")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.get(t, "/api/steps/demo/game/run-1/x/result")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.openSession(t)
	assert.Equal(t, 1, f.runs.watchers(gameRef))

	// follow mode selects the in-flight prompt step
	var frame render.Scene
	resp, body := f.get(t, "/api/sessions/"+id+"/frame")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(body), &frame))
	for _, n := range frame.Nodes {
		if n.ID == "prompt" {
			assert.Equal(t, "active", string(n.Mark.Class))
		}
	}

	var sel struct {
		Seq   int64 `json:"sequence_id"`
		Delta struct {
			Nodes []struct {
				ID string `json:"id"`
			} `json:"nodes"`
		} `json:"delta"`
	}
	resp = f.post(t, "/api/sessions/"+id+"/selection", map[string]any{"seq": 2}, &sel)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), sel.Seq)
	assert.NotEmpty(t, sel.Delta.Nodes)

	resp = f.post(t, "/api/sessions/"+id+"/selection", map[string]any{"index": 0}, &sel)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(0), sel.Seq)

	req, err := http.NewRequest(http.MethodDelete, f.srv.URL+"/api/sessions/"+id, nil)
	require.NoError(t, err)
	dresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	dresp.Body.Close()
	assert.Equal(t, http.StatusNoContent, dresp.StatusCode)
	assert.Equal(t, 0, f.runs.watchers(gameRef))

	resp, _ = f.get(t, "/api/sessions/"+id+"/frame")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionViewport(t *testing.T) {
	f := newFixture(t)
	id := f.openSession(t)

	var vp render.Viewport
	f.post(t, "/api/sessions/"+id+"/zoom", map[string]any{"factor": 100, "x": 10, "y": 10}, &vp)
	assert.Equal(t, render.MaxZoom, vp.Zoom)

	resp := f.post(t, "/api/sessions/"+id+"/zoom", map[string]any{"factor": 0}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	before := vp
	f.post(t, "/api/sessions/"+id+"/pan", map[string]any{"dx": 15, "dy": -5}, &vp)
	assert.InDelta(t, before.PanX+15, vp.PanX, 1e-9)
	assert.InDelta(t, before.PanY-5, vp.PanY, 1e-9)

	f.post(t, "/api/sessions/"+id+"/resize", map[string]any{"width": 400, "height": 300}, &vp)
	assert.Equal(t, 400.0, vp.Width)
	assert.LessOrEqual(t, vp.Zoom, render.MaxZoom)

	f.post(t, "/api/sessions/"+id+"/fit", nil, &vp)
	assert.Equal(t, 400.0, vp.Width)

	var dir struct {
		Direction string `json:"direction"`
	}
	f.post(t, "/api/sessions/"+id+"/direction", map[string]any{}, &dir)
	assert.Equal(t, "LR", dir.Direction)
	f.post(t, "/api/sessions/"+id+"/direction", map[string]any{"direction": "LR"}, &dir)
	assert.Equal(t, "LR", dir.Direction)
}

func TestSessionClickAndSSE(t *testing.T) {
	f := newFixture(t)
	id := f.openSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/sse/sessions/"+id, nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	var frame render.Scene
	_, body := f.get(t, "/api/sessions/"+id+"/frame")
	require.NoError(t, json.Unmarshal([]byte(body), &frame))
	var target render.SceneNode
	for _, n := range frame.Nodes {
		if n.ID == "win" {
			target = n
		}
	}
	require.Equal(t, "win", target.ID)
	center := frame.Viewport.ToScreen(layout.Point{X: target.Box.X + target.Box.W/2, Y: target.Box.Y + target.Box.H/2})

	var click struct {
		Hit   bool         `json:"hit"`
		Event render.Event `json:"event"`
	}
	f.post(t, "/api/sessions/"+id+"/click", map[string]any{"x": center.X, "y": center.Y}, &click)
	require.True(t, click.Hit)
	assert.Equal(t, render.NodeClicked, click.Event.Type)
	assert.Equal(t, "win", click.Event.Action)

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(stream.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed")
			if line == "event: "+streaming.EventInteraction {
				return
			}
		case <-deadline:
			t.Fatal("no interaction event on the stream")
		}
	}
}

func TestSessionErrors(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/sessions", map[string]any{"project": "demo"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/api/sessions", map[string]any{"project": "demo", "app": "game", "app_id": "nope"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.post(t, "/api/sessions/unknown/click", map[string]any{"x": 1, "y": 1}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPagesAndMetrics(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "open-run")

	resp, body = f.get(t, "/apps/demo/game/run-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<svg")
	assert.Contains(t, body, `data-seq="3"`)
	assert.Contains(t, body, `max="3"`)

	resp, _ = f.get(t, "/apps/demo/game/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "tracelens_test_total")

	resp, _ = f.get(t, "/static/graph.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCloseDropsSessions(t *testing.T) {
	f := newFixture(t)
	f.openSession(t)
	f.openSession(t)
	assert.Equal(t, 2, f.runs.watchers(gameRef))

	f.panel.Close()
	assert.Equal(t, 0, f.runs.watchers(gameRef))
	assert.Zero(t, f.panel.sessions.len())
}

// trackingBackend serves one run document on the tracking API path and
// counts the requests it receives.
func trackingBackend(t *testing.T, doc string) (*tracking.Client, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/demo/game/apps/run-1" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, doc)
	}))
	t.Cleanup(backend.Close)
	c, err := tracking.NewClient(backend.URL, tracking.WithClientLogger(quietLogger()))
	require.NoError(t, err)
	return c, &hits
}

const backendRunJSON = `{
  "application": {
    "actions": [{"name": "start"}, {"name": "prompt", "inputs": ["user_input"]}, {"name": "evaluate"}],
    "transitions": [{"from": "start", "to": "prompt"}, {"from": "prompt", "to": "evaluate"}, {"from": "evaluate", "to": "prompt"}]
  },
  "steps": [
    {"step_start_log": {"action": "start", "sequence_id": 0}, "step_end_log": {"action": "start", "sequence_id": 0}},
    {"step_start_log": {"action": "prompt", "sequence_id": 1}, "step_end_log": {"action": "prompt", "sequence_id": 1}},
    {"step_start_log": {"action": "evaluate", "sequence_id": 2}}
  ]
}`

func TestGraphSVGErrorStateFromBackend(t *testing.T) {
	client, _ := trackingBackend(t, `{
	  "application": {"actions": [{"name": "start"}], "transitions": [{"from": "start", "to": "ghost"}]},
	  "steps": []
	}`)
	hub := streaming.NewMemoryHub()
	f := newFixtureWith(t, tracking.NewPoller(client, hub, quietLogger()), hub)

	resp, body := f.get(t, runPath+"/graph.svg")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, `class="error"`)
	assert.Contains(t, body, "ghost")
}

func TestSessionInteractionsUseLoadedRun(t *testing.T) {
	client, hits := trackingBackend(t, backendRunJSON)
	hub := streaming.NewMemoryHub()
	poller := tracking.NewPoller(client, hub, quietLogger())
	f := newFixtureWith(t, poller, hub)

	id := f.openSession(t)
	assert.Equal(t, int64(1), hits.Load())
	assert.Len(t, poller.Watched(), 1)

	for i := range 10 {
		var sel struct {
			Hover int64 `json:"hover"`
		}
		resp := f.post(t, "/api/sessions/"+id+"/selection", map[string]any{"hover": int64(i % 3)}, &sel)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, int64(1), hits.Load())

	resp := f.post(t, "/api/sessions", map[string]any{"project": "demo", "app": "game", "app_id": "missing"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Len(t, poller.Watched(), 1, "a failed open does not leave a watch behind")
}

func TestIdleSessionsExpire(t *testing.T) {
	f := newFixture(t)
	idle := f.openSession(t)
	streamed := f.openSession(t)
	require.Equal(t, 2, f.runs.watchers(gameRef))

	assert.Zero(t, f.panel.reapIdle(time.Now().Add(-time.Hour)))

	sess, ok := f.panel.sessions.get(streamed)
	require.True(t, ok)
	sess.streams.Add(1)

	assert.Equal(t, 1, f.panel.reapIdle(time.Now().Add(time.Minute)))
	assert.Equal(t, 1, f.runs.watchers(gameRef))

	resp, _ := f.get(t, "/api/sessions/"+idle+"/frame")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.get(t, "/api/sessions/"+streamed+"/frame")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
