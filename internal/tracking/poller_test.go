package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tracelens/internal/streaming"
	"github.com/rendis/tracelens/pkg/schema"
)

type fakeFetcher struct {
	mu    sync.Mutex
	run   *schema.Run
	err   error
	calls int
}

func (f *fakeFetcher) FetchRun(_ context.Context, _ RunRef) (*schema.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.run
	cp.Steps = append([]schema.Step(nil), f.run.Steps...)
	return &cp, nil
}

func (f *fakeFetcher) set(run *schema.Run, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run, f.err = run, err
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func chatApp() schema.Application {
	return schema.Application{
		Actions:     []schema.Action{{Name: "prompt"}, {Name: "respond"}},
		Transitions: []schema.Transition{{From: "prompt", To: "respond"}, {From: "respond", To: "prompt"}},
	}
}

func inFlight(action string, seq int64) schema.Step {
	return schema.Step{Start: schema.StartEntry{Action: action, SequenceID: seq}}
}

func completed(action string, seq int64) schema.Step {
	s := inFlight(action, seq)
	s.End = &schema.EndEntry{Action: action, SequenceID: seq}
	return s
}

func subscribe(t *testing.T, hub *streaming.MemoryHub, ref RunRef) <-chan streaming.StreamEvent {
	t.Helper()
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{Topics: []string{ref.Topic()}})
	require.NoError(t, err)
	t.Cleanup(cancel)
	return ch
}

func next(t *testing.T, ch <-chan streaming.StreamEvent) streaming.StreamEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return streaming.StreamEvent{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan streaming.StreamEvent) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event: %+v", e)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPollerPublishesNewSteps(t *testing.T) {
	ctx := context.Background()
	ref := testRef()
	hub := streaming.NewMemoryHub()
	ch := subscribe(t, hub, ref)

	f := &fakeFetcher{run: &schema.Run{Application: chatApp(), Steps: []schema.Step{completed("prompt", 0)}}}
	p := NewPoller(f, hub, quietLogger())
	p.Watch(ref)

	p.Refresh(ctx)
	assertNoEvent(t, ch)
	app, tl, ok := p.Snapshot(ref)
	require.True(t, ok)
	assert.Len(t, app.Actions, 2)
	assert.Equal(t, 1, tl.Len())

	f.set(&schema.Run{Application: chatApp(), Steps: []schema.Step{
		completed("prompt", 0), inFlight("respond", 1),
	}}, nil)
	p.Refresh(ctx)

	e := next(t, ch)
	assert.Equal(t, streaming.EventStepsAppended, e.EventType)
	assert.Equal(t, int64(1), e.Sequence)
	payload, ok := e.Payload.(StepsPayload)
	require.True(t, ok)
	require.Len(t, payload.Steps, 1)
	assert.Equal(t, "respond", payload.Steps[0].Action())

	// the in-flight step completes
	f.set(&schema.Run{Application: chatApp(), Steps: []schema.Step{
		completed("prompt", 0), completed("respond", 1),
	}}, nil)
	p.Refresh(ctx)

	e = next(t, ch)
	assert.Equal(t, streaming.EventStepUpdated, e.EventType)
	got, ok := tl.Step(1)
	require.True(t, ok)
	assert.True(t, got.Completed())

	// nothing changed
	p.Refresh(ctx)
	assertNoEvent(t, ch)
}

func TestPollerApplicationChange(t *testing.T) {
	ctx := context.Background()
	ref := testRef()
	hub := streaming.NewMemoryHub()
	ch := subscribe(t, hub, ref)

	f := &fakeFetcher{run: &schema.Run{Application: chatApp()}}
	p := NewPoller(f, hub, quietLogger())
	p.Watch(ref)
	p.Refresh(ctx)

	changed := chatApp()
	changed.Actions = append(changed.Actions, schema.Action{Name: "summarize"})
	f.set(&schema.Run{Application: changed, Steps: []schema.Step{completed("summarize", 0)}}, nil)
	p.Refresh(ctx)

	e := next(t, ch)
	assert.Equal(t, streaming.EventApplicationChanged, e.EventType)
	app, tl, ok := p.Snapshot(ref)
	require.True(t, ok)
	assert.Len(t, app.Actions, 3)
	assert.Equal(t, 1, tl.Len())
}

func TestPollerFetchFailure(t *testing.T) {
	ctx := context.Background()
	ref := testRef()
	hub := streaming.NewMemoryHub()
	ch := subscribe(t, hub, ref)

	f := &fakeFetcher{err: schema.NewError(schema.ErrCodeUpstream, "backend down")}
	p := NewPoller(f, hub, quietLogger())
	p.Watch(ref)
	p.Refresh(ctx)

	e := next(t, ch)
	assert.Equal(t, streaming.EventFetchFailed, e.EventType)
	payload, ok := e.Payload.(ErrorPayload)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeUpstream, payload.Code)
	assert.True(t, schema.IsCode(p.LastError(ref), schema.ErrCodeUpstream))

	_, _, ok = p.Snapshot(ref)
	assert.False(t, ok)
}

func TestPollerWatchCounting(t *testing.T) {
	f := &fakeFetcher{run: &schema.Run{Application: chatApp()}}
	p := NewPoller(f, nil, quietLogger())
	ref := testRef()

	p.Watch(ref)
	p.Watch(ref)
	p.Unwatch(ref)
	assert.Len(t, p.Watched(), 1)
	p.Unwatch(ref)
	assert.Empty(t, p.Watched())

	p.Refresh(context.Background())
	assert.Zero(t, f.count())
}

func TestPollerLoad(t *testing.T) {
	f := &fakeFetcher{run: &schema.Run{Application: chatApp(), Steps: []schema.Step{completed("prompt", 0)}}}
	p := NewPoller(f, nil, quietLogger())

	app, tl, err := p.Load(context.Background(), testRef())
	require.NoError(t, err)
	assert.Len(t, app.Actions, 2)
	assert.Equal(t, 1, tl.Len())
	assert.Empty(t, p.Watched())

	f.set(nil, errors.New("boom"))
	_, _, err = p.Load(context.Background(), testRef())
	assert.Error(t, err)
}

func TestPollerLoadKeepsWatchedRun(t *testing.T) {
	ctx := context.Background()
	ref := testRef()
	hub := streaming.NewMemoryHub()
	ch := subscribe(t, hub, ref)

	f := &fakeFetcher{run: &schema.Run{Application: chatApp(), Steps: []schema.Step{completed("prompt", 0)}}}
	p := NewPoller(f, hub, quietLogger())
	p.Watch(ref)

	first, tl, err := p.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count())

	// Later loads are served from memory even while the backend fails.
	f.set(nil, schema.NewError(schema.ErrCodeUpstream, "backend down"))
	for range 10 {
		app, again, err := p.Load(ctx, ref)
		require.NoError(t, err)
		assert.Same(t, first, app)
		assert.Same(t, tl, again)
	}
	assert.Equal(t, 1, f.count())

	// The next successful refresh continues from the loaded timeline.
	f.set(&schema.Run{Application: chatApp(), Steps: []schema.Step{completed("prompt", 0), inFlight("respond", 1)}}, nil)
	p.Refresh(ctx)
	e := next(t, ch)
	assert.Equal(t, streaming.EventStepsAppended, e.EventType)
	assert.Equal(t, 2, tl.Len())
}

func TestPollerSchedule(t *testing.T) {
	f := &fakeFetcher{run: &schema.Run{Application: chatApp()}}
	p := NewPoller(f, nil, quietLogger())
	p.Watch(testRef())

	assert.True(t, schema.IsCode(p.Start(context.Background(), "every now and then"), schema.ErrCodeValidation))

	require.NoError(t, p.Start(context.Background(), "@every 1s"))
	assert.Error(t, p.Start(context.Background(), "@every 1s"))
	assert.Eventually(t, func() bool { return f.count() > 0 }, 3*time.Second, 20*time.Millisecond)
	p.Stop()
	p.Stop()
}
