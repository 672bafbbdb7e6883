package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/rendis/tracelens/internal/playback"
	"github.com/rendis/tracelens/internal/streaming"
	"github.com/rendis/tracelens/pkg/schema"
)

// DefaultSchedule is the refresh cadence used when none is configured.
const DefaultSchedule = "@every 5s"

// StepsPayload is the payload of steps.appended and step.updated events.
type StepsPayload struct {
	Run   RunRef        `json:"run"`
	Steps []schema.Step `json:"steps"`
}

// ErrorPayload is the payload of fetch.failed events.
type ErrorPayload struct {
	Run   RunRef `json:"run"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type trackedRun struct {
	ref      RunRef
	watchers int
	app      *schema.Application
	timeline *playback.Timeline
	lastErr  error
}

// Poller refreshes watched runs on a cron schedule and publishes what
// changed to the hub. Runs are refreshed one at a time per ref.
type Poller struct {
	fetcher Fetcher
	hub     streaming.EventHub
	logger  *slog.Logger
	parser  cron.Parser

	mu   sync.Mutex
	runs map[RunRef]*trackedRun

	cronMu sync.Mutex
	cron   *cron.Cron

	inflightMu sync.Mutex
	inflight   map[RunRef]struct{}
}

// NewPoller creates a Poller.
func NewPoller(f Fetcher, hub streaming.EventHub, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		fetcher:  f,
		hub:      hub,
		logger:   logger,
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		runs:     make(map[RunRef]*trackedRun),
		inflight: make(map[RunRef]struct{}),
	}
}

// Watch subscribes to a run. Watches are counted; the run is refreshed
// until every watcher has called Unwatch.
func (p *Poller) Watch(ref RunRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.runs[ref]
	if !ok {
		tr = &trackedRun{ref: ref}
		p.runs[ref] = tr
	}
	tr.watchers++
}

// Unwatch drops one watcher of a run.
func (p *Poller) Unwatch(ref RunRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.runs[ref]
	if !ok {
		return
	}
	tr.watchers--
	if tr.watchers <= 0 {
		delete(p.runs, ref)
	}
}

// Watched returns the refs currently watched.
func (p *Poller) Watched() []RunRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RunRef, 0, len(p.runs))
	for ref := range p.runs {
		out = append(out, ref)
	}
	return out
}

// Snapshot returns the last fetched application and timeline of a run.
func (p *Poller) Snapshot(ref RunRef) (*schema.Application, *playback.Timeline, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.runs[ref]
	if !ok || tr.app == nil {
		return nil, nil, false
	}
	return tr.app, tr.timeline, true
}

// Load returns the snapshot of a run, fetching it first if it has never
// been loaded. A watched run keeps what was fetched, so later loads are
// served from memory until the next refresh. The run is not watched as a
// side effect.
func (p *Poller) Load(ctx context.Context, ref RunRef) (*schema.Application, *playback.Timeline, error) {
	if app, tl, ok := p.Snapshot(ref); ok {
		return app, tl, nil
	}
	run, err := p.fetcher.FetchRun(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	tl, err := playback.NewTimeline(run.Steps)
	if err != nil {
		return nil, nil, err
	}
	app := &run.Application

	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.runs[ref]
	if !ok {
		return app, tl, nil
	}
	if tr.app != nil {
		return tr.app, tr.timeline, nil
	}
	tr.app, tr.timeline = app, tl
	return app, tl, nil
}

// Start schedules periodic refreshes. spec is a cron expression or
// descriptor such as "@every 5s".
func (p *Poller) Start(ctx context.Context, spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := p.parser.Parse(spec)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "parse refresh schedule %q", spec).WithCause(err)
	}

	p.cronMu.Lock()
	defer p.cronMu.Unlock()
	if p.cron != nil {
		return fmt.Errorf("tracking: poller already started")
	}

	c := cron.New(cron.WithParser(p.parser))
	c.Schedule(sched, cron.FuncJob(func() { p.Refresh(ctx) }))
	c.Start()
	p.cron = c

	p.logger.Info("tracking poller started", slog.String("schedule", spec))
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (p *Poller) Stop() {
	p.cronMu.Lock()
	c := p.cron
	p.cron = nil
	p.cronMu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	p.logger.Info("tracking poller stopped")
}

// Refresh fetches every watched run once.
func (p *Poller) Refresh(ctx context.Context) {
	for _, ref := range p.Watched() {
		if ctx.Err() != nil {
			return
		}
		if !p.tryAcquire(ref) {
			continue
		}
		p.refreshRun(ctx, ref)
		p.release(ref)
	}
}

func (p *Poller) refreshRun(ctx context.Context, ref RunRef) {
	run, err := p.fetcher.FetchRun(ctx, ref)

	p.mu.Lock()
	tr, ok := p.runs[ref]
	if !ok {
		p.mu.Unlock()
		return
	}
	if err != nil {
		tr.lastErr = err
		p.mu.Unlock()
		p.logger.Warn("refresh run failed", slog.String("run", ref.String()), slog.String("error", err.Error()))
		p.publish(ctx, ref, streaming.EventFetchFailed, -1, errorPayload(ref, err))
		return
	}
	tr.lastErr = nil

	if tr.app == nil || !reflect.DeepEqual(*tr.app, run.Application) {
		first := tr.app == nil
		tl, terr := playback.NewTimeline(run.Steps)
		if terr != nil {
			p.mu.Unlock()
			p.publish(ctx, ref, streaming.EventFetchFailed, -1, errorPayload(ref, terr))
			return
		}
		app := run.Application
		tr.app, tr.timeline = &app, tl
		p.mu.Unlock()

		if !first {
			p.publish(ctx, ref, streaming.EventApplicationChanged, tl.LastSequence(), &app)
		}
		return
	}
	tl := tr.timeline
	p.mu.Unlock()

	p.applySteps(ctx, ref, tl, run.Steps)
}

// applySteps appends new steps and replaces steps that completed since the
// last refresh.
func (p *Poller) applySteps(ctx context.Context, ref RunRef, tl *playback.Timeline, steps []schema.Step) {
	last := tl.LastSequence()
	var appended, updated []schema.Step
	for _, s := range steps {
		if s.Sequence() > last {
			appended = append(appended, s)
			continue
		}
		old, ok := tl.Step(s.Sequence())
		if !ok || old.Completed() || !s.Completed() {
			continue
		}
		if replaced, err := tl.Update(s); err != nil {
			p.logger.Warn("step update rejected", slog.String("run", ref.String()), slog.String("error", err.Error()))
		} else if replaced {
			updated = append(updated, s)
		}
	}

	if len(updated) > 0 {
		p.publish(ctx, ref, streaming.EventStepUpdated, updated[len(updated)-1].Sequence(),
			StepsPayload{Run: ref, Steps: updated})
	}
	if len(appended) == 0 {
		return
	}
	if err := tl.Append(appended...); err != nil {
		p.logger.Warn("steps rejected", slog.String("run", ref.String()), slog.String("error", err.Error()))
		p.publish(ctx, ref, streaming.EventFetchFailed, -1, errorPayload(ref, err))
		return
	}
	p.publish(ctx, ref, streaming.EventStepsAppended, tl.LastSequence(), StepsPayload{Run: ref, Steps: appended})
}

func (p *Poller) publish(ctx context.Context, ref RunRef, eventType string, seq int64, payload any) {
	if p.hub == nil {
		return
	}
	evt := streaming.StreamEvent{Topic: ref.Topic(), EventType: eventType, Payload: payload}
	if seq >= 0 {
		evt.Sequence = seq
	}
	if err := p.hub.Publish(ctx, evt); err != nil {
		p.logger.Debug("publish dropped", slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
}

// LastError returns the error of the latest refresh of a run, if any.
func (p *Poller) LastError(ref RunRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tr, ok := p.runs[ref]; ok {
		return tr.lastErr
	}
	return nil
}

func (p *Poller) tryAcquire(ref RunRef) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	if _, ok := p.inflight[ref]; ok {
		return false
	}
	p.inflight[ref] = struct{}{}
	return true
}

func (p *Poller) release(ref RunRef) {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	delete(p.inflight, ref)
}

func errorPayload(ref RunRef, err error) ErrorPayload {
	out := ErrorPayload{Run: ref, Error: err.Error()}
	var te *schema.TraceError
	if errors.As(err, &te) {
		out.Code = te.Code
	}
	return out
}
