package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/tracelens/internal/highlight"
	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/internal/logging"
	"github.com/rendis/tracelens/internal/playback"
	"github.com/rendis/tracelens/internal/render"
	"github.com/rendis/tracelens/internal/streaming"
	"github.com/rendis/tracelens/internal/tracking"
	"github.com/rendis/tracelens/pkg/schema"
)

// --- Tool handlers ---

func (s *Server) handleRender(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := req.GetString("format", render.FormatMermaid)
	switch format {
	case render.FormatMermaid, render.FormatASCII, render.FormatSVG, render.FormatPNG, render.FormatJSON:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unsupported format %q", format)), nil
	}

	r, err := s.view(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("render failed: %v", err)), nil
	}
	out, err := r.Export(ctx, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", err)), nil
	}

	switch format {
	case render.FormatPNG:
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(out)), nil
	case render.FormatJSON:
		return mcp.NewToolResultJSON(json.RawMessage(out))
	default:
		return mcp.NewToolResultText(string(out)), nil
	}
}

// classification is the tracelens.classify result.
type classification struct {
	Current   *int64          `json:"current_seq,omitempty"`
	Action    string          `json:"current_action,omitempty"`
	Hovered   *int64          `json:"hovered_seq,omitempty"`
	Direction string          `json:"direction"`
	State     highlight.State `json:"state"`
}

func (s *Server) handleClassify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	app, tl, err := s.loadRun(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	seq, hover := position(req, tl)
	r, err := playback.View(ctx, s.renderDeps(), s.renderOptions(req), app, tl, seq, hover)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("classify failed: %v", err)), nil
	}

	sel := tl.SelectionAt(seq, hover)
	out := classification{
		Direction: string(r.Direction()),
		State:     r.State(),
	}
	if sel.Current != nil {
		cur := sel.Current.Sequence()
		out.Current = &cur
		out.Action = sel.Current.Action()
	}
	if sel.Hovered != nil {
		h := sel.Hovered.Sequence()
		out.Hovered = &h
	}
	return marshalResult(out)
}

func (s *Server) handleStepResult(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	seq, ok := extractInt64(req.GetArguments(), "seq")
	if !ok {
		return mcp.NewToolResultError("seq is required"), nil
	}
	_, tl, err := s.loadRun(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	step, ok := tl.Step(seq)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("step %d not found", seq)), nil
	}
	if !step.Completed() {
		return mcp.NewToolResultError(fmt.Sprintf("step %d is still running", seq)), nil
	}

	query := req.GetString("jq", "")
	if query == "" {
		return marshalResult(map[string]any{
			"sequence_id": seq,
			"action":      step.Action(),
			"result":      step.End.Result,
			"exception":   step.End.Exception,
		})
	}
	values, err := s.query.QueryStep(ctx, &step, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("jq failed: %v", err)), nil
	}
	return marshalResult(map[string]any{
		"sequence_id": seq,
		"action":      step.Action(),
		"values":      values,
	})
}

func (s *Server) handleWatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runs == nil || s.hub == nil {
		return mcp.NewToolResultError("no tracking backend configured"), nil
	}
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return mcp.NewToolResultError("watch requires a client session"), nil
	}
	ref, err := requireRef(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID := session.SessionID()

	switch req.GetString("action", "start") {
	case "start":
		if err := s.startWatch(ctx, sessionID, ref); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("watch failed: %v", err)), nil
		}
	case "stop":
		s.watches.Remove(sessionID, ref)
	default:
		return mcp.NewToolResultError("action must be start or stop"), nil
	}
	return marshalResult(map[string]any{"watching": s.watches.Refs(sessionID)})
}

// startWatch forwards the run's hub events to the session until the watch
// is removed. Watching a run twice is a no-op.
func (s *Server) startWatch(ctx context.Context, sessionID string, ref tracking.RunRef) error {
	if s.watches.Has(sessionID, ref) {
		return nil
	}
	// The subscription outlives the tool call.
	events, cancel, err := s.hub.Subscribe(context.WithoutCancel(ctx), streaming.EventFilter{
		Topics: []string{ref.Topic()},
	})
	if err != nil {
		return err
	}

	done := make(chan struct{})
	stop := func() {
		close(done)
		cancel()
		s.runs.Unwatch(ref)
	}
	s.runs.Watch(ref)
	if !s.watches.Add(sessionID, ref, stop) {
		cancel()
		s.runs.Unwatch(ref)
		return nil
	}

	logger := logging.LogWith(logging.WithRun(ctx, ref.Project, ref.AppID), s.logger)
	logger.Info("watch started", "session", sessionID)
	go func() {
		for {
			select {
			case <-done:
				return
			case ev := <-events:
				payload := map[string]any{
					"run":         ref,
					"event_type":  ev.EventType,
					"sequence_id": ev.Sequence,
					"payload":     ev.Payload,
				}
				if err := s.notifier.Notify(context.Background(), sessionID, payload); err != nil {
					logger.Warn("notify failed", "session", sessionID, "error", err)
				}
			}
		}
	}()
	return nil
}

// --- Helpers ---

// view builds a renderer for the run and position addressed by req.
func (s *Server) view(ctx context.Context, req mcp.CallToolRequest) (*render.Renderer, error) {
	app, tl, err := s.loadRun(ctx, req)
	if err != nil {
		return nil, err
	}
	seq, hover := position(req, tl)
	return playback.View(ctx, s.renderDeps(), s.renderOptions(req), app, tl, seq, hover)
}

// loadRun resolves the run addressed by req: an inline run object, or a
// tracked run fetched through the RunSource.
func (s *Server) loadRun(ctx context.Context, req mcp.CallToolRequest) (*schema.Application, *playback.Timeline, error) {
	if inline := mcp.ParseStringMap(req, "run", nil); inline != nil {
		raw, err := json.Marshal(inline)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid run: %w", err)
		}
		run, err := s.validator.ValidateRun(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid run: %w", err)
		}
		tl, err := playback.NewTimeline(run.Steps)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid run: %w", err)
		}
		return &run.Application, tl, nil
	}

	ref, err := requireRef(req)
	if err != nil {
		return nil, nil, err
	}
	if s.runs == nil {
		return nil, nil, schema.NewError(schema.ErrCodeNotFound, "no tracking backend configured; pass an inline run")
	}
	return s.runs.Load(ctx, ref)
}

func (s *Server) renderDeps() render.Deps {
	return render.Deps{
		Cache:      s.cache,
		Conditions: s.conditions,
		Logger:     s.logger,
	}
}

func (s *Server) renderOptions(req mcp.CallToolRequest) render.Options {
	cfg := s.layout
	if d := req.GetString("direction", ""); d != "" {
		cfg.Direction = layout.ParseDirection(d)
	}
	return render.Options{Layout: cfg, ASCIIBinDir: s.asciiBin}
}

func requireRef(req mcp.CallToolRequest) (tracking.RunRef, error) {
	ref := tracking.RunRef{
		Project: req.GetString("project", ""),
		App:     req.GetString("app", ""),
		AppID:   req.GetString("app_id", ""),
	}
	if ref.Project == "" || ref.App == "" || ref.AppID == "" {
		return ref, fmt.Errorf("project, app and app_id are required unless run is given")
	}
	return ref, nil
}

// position reads the current and hovered sequence ids. index wins over seq;
// -1 means latest (current) or none (hover).
func position(req mcp.CallToolRequest, tl *playback.Timeline) (int64, int64) {
	args := req.GetArguments()
	seq := int64(-1)
	if i, ok := extractInt64(args, "index"); ok {
		seq = tl.SequenceAt(int(i))
	} else if v, ok := extractInt64(args, "seq"); ok {
		seq = v
	}
	hover := int64(-1)
	if v, ok := extractInt64(args, "hover"); ok {
		hover = v
	}
	return seq, hover
}

func extractInt64(args map[string]any, key string) (int64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return int64(val), true
	case int:
		return int64(val), true
	case int64:
		return val, true
	case string:
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// marshalResult serializes v as JSON and returns it as a structured tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
