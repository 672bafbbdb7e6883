package panel

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/rendis/tracelens/internal/expressions"
	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/internal/metrics"
	"github.com/rendis/tracelens/internal/playback"
	"github.com/rendis/tracelens/internal/render"
	"github.com/rendis/tracelens/internal/streaming"
	"github.com/rendis/tracelens/internal/tracking"
	"github.com/rendis/tracelens/pkg/schema"
)

//go:embed templates static
var content embed.FS

// DefaultSessionIdle is how long an unused viewer session is kept.
const DefaultSessionIdle = 30 * time.Minute

const reapSchedule = "@every 1m"

// RunSource provides run snapshots. Satisfied by tracking.Poller.
type RunSource interface {
	Load(ctx context.Context, ref tracking.RunRef) (*schema.Application, *playback.Timeline, error)
	Watch(ref tracking.RunRef)
	Unwatch(ref tracking.RunRef)
}

// PanelDeps holds the dependencies for the panel server.
type PanelDeps struct {
	Runs        RunSource
	Cache       *layout.Cache
	Conditions  render.ConditionEvaluator
	Query       *expressions.GoJQEngine
	Hub         streaming.EventHub
	Layout      layout.Config
	ASCIIBinDir string
	// Gatherer serves /metrics. Defaults to the process registry.
	Gatherer prometheus.Gatherer
	// SessionIdle closes viewer sessions that saw no request and hold no
	// event stream for this long. Defaults to DefaultSessionIdle.
	SessionIdle time.Duration
	Logger      *slog.Logger
}

// PanelServer serves the trace viewer and its JSON API.
type PanelServer struct {
	deps     PanelDeps
	pages    map[string]*template.Template
	sessions *sessionStore
	reaper   *cron.Cron
}

// NewPanelServer creates a new PanelServer with parsed templates.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Cache == nil {
		deps.Cache = layout.NewCache(layout.WithLogger(deps.Logger))
	}
	if deps.Query == nil {
		deps.Query = expressions.NewGoJQEngine()
	}
	if deps.Hub == nil {
		deps.Hub = streaming.NewMemoryHub()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.SessionIdle <= 0 {
		deps.SessionIdle = DefaultSessionIdle
	}

	funcMap := template.FuncMap{
		"json":     toJSON,
		"truncate": truncate,
		"add":      add,
	}

	base := template.Must(
		template.New("").Funcs(funcMap).ParseFS(content, "templates/base.html"),
	)

	pageFiles := []string{
		"index.html",
		"app.html",
	}

	pages := make(map[string]*template.Template, len(pageFiles))
	for _, pf := range pageFiles {
		clone := template.Must(base.Clone())
		pages[pf] = template.Must(clone.ParseFS(content, "templates/"+pf))
	}

	s := &PanelServer{
		deps:     deps,
		pages:    pages,
		sessions: newSessionStore(),
		reaper:   cron.New(),
	}
	idle := deps.SessionIdle
	if _, err := s.reaper.AddFunc(reapSchedule, func() { s.reapIdle(time.Now().Add(-idle)) }); err != nil {
		deps.Logger.Error("session reaper not scheduled", "error", err)
	}
	s.reaper.Start()
	return s
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	staticFS, _ := fs.Sub(content, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	// Pages.
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /apps/{project}/{app}/{appID}", s.handleApp)

	// Stateless run views.
	mux.HandleFunc("GET /api/apps/{project}/{app}/{appID}/graph.svg", s.handleGraphSVG)
	mux.HandleFunc("GET /api/apps/{project}/{app}/{appID}/export", s.handleExport)
	mux.HandleFunc("GET /api/apps/{project}/{app}/{appID}/layout", s.handleLayout)
	mux.HandleFunc("GET /api/steps/{project}/{app}/{appID}/{seq}/result", s.handleStepResult)

	// Viewer sessions.
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/frame", s.handleFrame)
	mux.HandleFunc("GET /api/sessions/{id}/frame.svg", s.handleFrameSVG)
	mux.HandleFunc("POST /api/sessions/{id}/selection", s.handleSelection)
	mux.HandleFunc("POST /api/sessions/{id}/click", s.handleClick)
	mux.HandleFunc("POST /api/sessions/{id}/zoom", s.handleZoom)
	mux.HandleFunc("POST /api/sessions/{id}/pan", s.handlePan)
	mux.HandleFunc("POST /api/sessions/{id}/fit", s.handleFit)
	mux.HandleFunc("POST /api/sessions/{id}/resize", s.handleResize)
	mux.HandleFunc("POST /api/sessions/{id}/direction", s.handleDirection)

	// SSE streams.
	mux.HandleFunc("GET /sse/sessions/{id}", s.handleSSESession)

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	return mux
}

// Close stops the session reaper and drops every viewer session.
func (s *PanelServer) Close() {
	<-s.reaper.Stop().Done()
	for _, sess := range s.sessions.drain() {
		s.deps.Runs.Unwatch(sess.ref)
		metrics.ViewerSessions.Dec()
	}
}

// renderPage executes a page template by name.
func (s *PanelServer) renderPage(w http.ResponseWriter, page string, data any) {
	tmpl, ok := s.pages[page]
	if !ok {
		s.deps.Logger.Error("template not found", "page", page)
		http.Error(w, fmt.Sprintf("template %q not found", page), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		s.deps.Logger.Error("template render error", "page", page, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
