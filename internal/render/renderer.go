// Package render turns a positioned graph and a highlight state into a
// drawable scene. Layout runs only when the application or the direction
// changes; selection, hover and viewport updates reuse the cached positions.
package render

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/rendis/tracelens/internal/diagram"
	"github.com/rendis/tracelens/internal/highlight"
	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/internal/metrics"
	"github.com/rendis/tracelens/pkg/schema"
)

const (
	defaultWidth     = 1024
	defaultHeight    = 768
	defaultFitMargin = 24
	// clickTolerance is the edge hit distance in screen pixels.
	clickTolerance = 6
)

// Selection is the playback state pushed in by the selection controller.
// History holds the steps before Current, most recent first.
type Selection struct {
	Current *schema.Step
	History []schema.Step
	Hovered *schema.Step
}

// ConditionEvaluator reports whether a transition label holds for a step result.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, language, label string, result map[string]any) (bool, error)
}

// Deps holds the collaborators of a Renderer.
type Deps struct {
	Cache *layout.Cache
	// Scheduler, when set, runs layouts asynchronously. Frames report
	// Pending until the result for the current version arrives.
	Scheduler  *layout.Scheduler
	Sink       EventSink
	Conditions ConditionEvaluator
	Logger     *slog.Logger
}

// Options configures a Renderer.
type Options struct {
	Layout    layout.Config
	Width     float64
	Height    float64
	FitMargin float64
	// ASCIIBinDir is searched for a mermaid-ascii binary used by the ascii
	// export. The built-in text renderer is used when it is absent.
	ASCIIBinDir string
}

// Renderer owns the view of one application. Safe for concurrent use.
type Renderer struct {
	deps     Deps
	logger   *slog.Logger
	margin   float64
	asciiBin string

	mu          sync.Mutex
	cfg         layout.Config
	app         *schema.Application
	graph       *diagram.Graph
	index       *highlight.Index
	positioned  *layout.PositionedGraph
	version     uint64
	selection   Selection
	state       highlight.State
	view        Viewport
	err         error
	layoutCalls int64
}

// New creates a Renderer with no application.
func New(deps Deps, opts Options) *Renderer {
	if deps.Cache == nil {
		deps.Cache = layout.NewCache(layout.WithLogger(deps.Logger))
	}
	if deps.Sink == nil {
		deps.Sink = discardSink{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = defaultHeight
	}
	if opts.FitMargin <= 0 {
		opts.FitMargin = defaultFitMargin
	}
	if opts.Layout.Direction == "" {
		opts.Layout.Direction = layout.TopToBottom
	}
	return &Renderer{
		deps:     deps,
		logger:   logger.With("component", "render"),
		margin:   opts.FitMargin,
		asciiBin: opts.ASCIIBinDir,
		cfg:      opts.Layout,
		view:     Viewport{Width: opts.Width, Height: opts.Height, Zoom: 1},
	}
}

// SetApplication replaces the rendered application. A malformed description
// puts the renderer in its error state and nothing of the graph is drawn.
// The selection is cleared: steps of another application do not apply.
func (r *Renderer) SetApplication(ctx context.Context, app *schema.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.version++
	r.selection = Selection{}

	g, err := diagram.Build(app)
	if err != nil {
		r.app, r.graph, r.index, r.positioned = nil, nil, nil, nil
		r.state = highlight.State{}
		r.err = err
		code := "UNKNOWN"
		var te *schema.TraceError
		if errors.As(err, &te) {
			code = te.Code
		}
		metrics.RenderErrors.WithLabelValues(code).Inc()
		r.logger.WarnContext(ctx, "application rejected", "error", err)
		return err
	}

	r.err = nil
	r.app = app
	r.graph = g
	r.index = highlight.NewIndex(g)
	r.state = r.index.Classify(nil, nil, nil)
	r.relayoutLocked(ctx)
	return nil
}

// ToggleDirection flips the layout direction, lays out again and refits.
func (r *Renderer) ToggleDirection(ctx context.Context) layout.Direction {
	r.mu.Lock()
	dir := r.cfg.Direction.Toggle()
	r.setDirectionLocked(ctx, dir)
	r.mu.Unlock()

	r.emit(Event{Type: DirectionToggleRequested, Direction: dir})
	return dir
}

// SetDirection lays out in dir if it differs from the current direction.
func (r *Renderer) SetDirection(ctx context.Context, dir layout.Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dir == r.cfg.Direction {
		return
	}
	r.setDirectionLocked(ctx, dir)
}

func (r *Renderer) setDirectionLocked(ctx context.Context, dir layout.Direction) {
	r.cfg.Direction = dir
	if r.graph == nil {
		return
	}
	r.version++
	r.relayoutLocked(ctx)
}

// relayoutLocked requests a layout for the current version. Synchronous
// layouts are installed and fitted immediately.
func (r *Renderer) relayoutLocked(ctx context.Context) {
	r.layoutCalls++
	r.positioned = nil

	if r.deps.Scheduler != nil {
		r.deps.Scheduler.Submit(context.WithoutCancel(ctx), r.version, r.graph, r.cfg, r.install)
		return
	}
	r.positioned = r.deps.Cache.Get(ctx, r.graph, r.cfg)
	r.view = r.view.fit(r.positioned.Bounds, r.margin)
}

// install accepts an asynchronous layout if it still matches the current version.
func (r *Renderer) install(res layout.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.Version != r.version || r.graph == nil {
		r.logger.Debug("stale layout ignored", "version", res.Version, "current", r.version)
		return
	}
	r.positioned = res.Layout
	r.view = r.view.fit(res.Layout.Bounds, r.margin)
}

// Select recomputes the highlight for a new selection and returns the
// elements whose style changed. It never lays out.
func (r *Renderer) Select(sel Selection) highlight.Delta {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.selection = sel
	if r.index == nil {
		return highlight.Delta{}
	}
	prev := r.state
	r.state = r.index.Classify(sel.Current, sel.History, sel.Hovered)
	return r.state.Diff(prev)
}

// Zoom scales the view by factor around a screen point. The result is
// clamped to [MinZoom, MaxZoom].
func (r *Renderer) Zoom(factor float64, at layout.Point) Viewport {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view = r.view.zoomAt(factor, at)
	return r.view
}

// Pan moves the view by a screen-space offset.
func (r *Renderer) Pan(dx, dy float64) Viewport {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view = r.view.pan(dx, dy)
	return r.view
}

// FitView recenters and rescales so every node is visible with margin.
func (r *Renderer) FitView() Viewport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.positioned != nil {
		r.view = r.view.fit(r.positioned.Bounds, r.margin)
	}
	return r.view
}

// Resize changes the screen size and refits.
func (r *Renderer) Resize(width, height float64) Viewport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if width > 0 {
		r.view.Width = width
	}
	if height > 0 {
		r.view.Height = height
	}
	if r.positioned != nil {
		r.view = r.view.fit(r.positioned.Bounds, r.margin)
	}
	return r.view
}

// Viewport returns the current view transform.
func (r *Renderer) Viewport() Viewport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

// Direction returns the current layout direction.
func (r *Renderer) Direction() layout.Direction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Direction
}

// Err returns the error that put the renderer in its error state, or nil.
func (r *Renderer) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// State returns the current highlight state.
func (r *Renderer) State() highlight.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Graph returns the current graph, or nil.
func (r *Renderer) Graph() *diagram.Graph {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.graph
}

// Positioned returns the installed layout, or nil while none is available.
func (r *Renderer) Positioned() *layout.PositionedGraph {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positioned
}

// LayoutCalls returns how many layouts this renderer has requested.
func (r *Renderer) LayoutCalls() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layoutCalls
}

func (r *Renderer) emit(e Event) {
	metrics.InteractionEvents.WithLabelValues(string(e.Type)).Inc()
	r.deps.Sink.Emit(e)
}
