package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rendis/tracelens/internal/highlight"
	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/internal/playback"
	"github.com/rendis/tracelens/internal/render"
	"github.com/rendis/tracelens/internal/tracking"
)

// --- Stateless run views ---

// viewRun builds a throwaway renderer for a run from query parameters:
// seq (current step, default latest), hover (step to hover), dir (TB|LR),
// width and height. Layouts still come from the shared cache.
func (s *PanelServer) viewRun(ctx context.Context, r *http.Request) (*render.Renderer, error) {
	ref := refFromPath(r)
	app, tl, err := s.deps.Runs.Load(ctx, ref)
	if err != nil {
		return nil, err
	}

	cfg := s.deps.Layout
	if d := r.URL.Query().Get("dir"); d != "" {
		cfg.Direction = layout.ParseDirection(d)
	}
	return playback.View(ctx, render.Deps{
		Cache:      s.deps.Cache,
		Conditions: s.deps.Conditions,
		Logger:     s.deps.Logger,
	}, render.Options{
		Layout:      cfg,
		Width:       queryFloat(r, "width", 0),
		Height:      queryFloat(r, "height", 0),
		ASCIIBinDir: s.deps.ASCIIBinDir,
	}, app, tl, queryInt64(r, "seq", -1), queryInt64(r, "hover", -1))
}

// handleGraphSVG draws a run. A malformed application is drawn as the
// error state with status 422.
func (s *PanelServer) handleGraphSVG(w http.ResponseWriter, r *http.Request) {
	rr, err := s.viewRun(r.Context(), r)
	if rr == nil {
		writeTraceError(w, err)
		return
	}
	var buf bytes.Buffer
	if werr := rr.WriteSVG(&buf); werr != nil {
		writeError(w, http.StatusInternalServerError, werr.Error())
		return
	}
	w.Header().Set("Content-Type", render.ContentType(render.FormatSVG))
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	_, _ = w.Write(buf.Bytes())
}

// handleExport encodes a run as svg, png, mermaid, ascii or json.
func (s *PanelServer) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = render.FormatMermaid
	}
	rr, err := s.viewRun(r.Context(), r)
	if err != nil {
		writeTraceError(w, err)
		return
	}
	out, err := rr.Export(r.Context(), format)
	if err != nil {
		writeTraceError(w, err)
		return
	}
	w.Header().Set("Content-Type", render.ContentType(format))
	_, _ = w.Write(out)
}

// handleLayout returns the positioned graph of a run.
func (s *PanelServer) handleLayout(w http.ResponseWriter, r *http.Request) {
	rr, err := s.viewRun(r.Context(), r)
	if err != nil {
		writeTraceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rr.Positioned())
}

// handleStepResult returns a completed step's result, optionally filtered
// through a jq expression.
func (s *PanelServer) handleStepResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	seq, err := strconv.ParseInt(r.PathValue("seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "seq must be an integer")
		return
	}
	_, tl, err := s.deps.Runs.Load(ctx, refFromPath(r))
	if err != nil {
		writeTraceError(w, err)
		return
	}
	step, ok := tl.Step(seq)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("step %d not found", seq))
		return
	}
	if !step.Completed() {
		writeError(w, http.StatusConflict, fmt.Sprintf("step %d has not completed", seq))
		return
	}

	body := map[string]any{
		"sequence_id": seq,
		"action":      step.Action(),
		"exception":   step.End.Exception,
	}
	jq := r.URL.Query().Get("jq")
	if jq == "" {
		body["result"] = step.End.Result
		writeJSON(w, http.StatusOK, body)
		return
	}
	values, err := s.deps.Query.QueryStep(ctx, &step, jq)
	if err != nil {
		writeTraceError(w, err)
		return
	}
	body["jq"] = jq
	body["values"] = values
	writeJSON(w, http.StatusOK, body)
}

// --- Viewer sessions ---

func (s *PanelServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		tracking.RunRef
		sessionOptions
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Project == "" || body.App == "" || body.AppID == "" {
		writeError(w, http.StatusBadRequest, "project, app and app_id are required")
		return
	}

	sess, err := s.newSession(r.Context(), body.RunRef, body.sessionOptions)
	if err != nil {
		writeTraceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    sess.id,
		"frame": sess.renderer.Frame(),
	})
}

func (s *PanelServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.closeSession(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookupSession resolves the {id} path value, writing a 404 if unknown.
func (s *PanelServer) lookupSession(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
	}
	return sess, ok
}

// refresh syncs the session with its run and reapplies the selection.
func (s *PanelServer) refresh(ctx context.Context, sess *session) (highlight.Delta, error) {
	if err := s.sync(ctx, sess); err != nil {
		return highlight.Delta{}, err
	}
	sess.mu.Lock()
	sel := sess.selectionLocked()
	sess.mu.Unlock()
	return sess.renderer.Select(sel), nil
}

func (s *PanelServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if _, err := s.refresh(r.Context(), sess); err != nil {
		writeTraceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.renderer.Frame())
}

func (s *PanelServer) handleFrameSVG(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if _, err := s.refresh(r.Context(), sess); err != nil {
		writeTraceError(w, err)
		return
	}
	w.Header().Set("Content-Type", render.ContentType(render.FormatSVG))
	if err := sess.renderer.WriteSVG(w); err != nil {
		s.deps.Logger.Error("write svg failed", "error", err)
	}
}

// handleSelection moves the playback position. Fields: seq (sequence id,
// -1 follows the latest step), index (position in the timeline) and hover
// (sequence id, -1 clears). Omitted fields keep their value. The response
// carries only the elements whose style changed.
func (s *PanelServer) handleSelection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Seq   *int64 `json:"seq"`
		Index *int   `json:"index"`
		Hover *int64 `json:"hover"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := s.sync(r.Context(), sess); err != nil {
		writeTraceError(w, err)
		return
	}

	sess.mu.Lock()
	switch {
	case body.Seq != nil:
		sess.seq = *body.Seq
	case body.Index != nil:
		sess.seq = sess.timeline.SequenceAt(*body.Index)
	}
	if body.Hover != nil {
		sess.hovered = *body.Hover
	}
	sel := sess.selectionLocked()
	seq, hovered := sess.seq, sess.hovered
	sess.mu.Unlock()

	delta := sess.renderer.Select(sel)
	writeJSON(w, http.StatusOK, map[string]any{
		"sequence_id": seq,
		"hover":       hovered,
		"delta":       delta,
	})
}

func (s *PanelServer) handleClick(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var body struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	evt, hit := sess.renderer.Click(r.Context(), body.X, body.Y)
	resp := map[string]any{"hit": hit}
	if hit {
		resp["event"] = evt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *PanelServer) handleZoom(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Factor float64 `json:"factor"`
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Factor <= 0 {
		writeError(w, http.StatusBadRequest, "factor must be positive")
		return
	}
	writeJSON(w, http.StatusOK, sess.renderer.Zoom(body.Factor, layout.Point{X: body.X, Y: body.Y}))
}

func (s *PanelServer) handlePan(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var body struct {
		DX float64 `json:"dx"`
		DY float64 `json:"dy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, sess.renderer.Pan(body.DX, body.DY))
}

func (s *PanelServer) handleFit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.renderer.FitView())
}

func (s *PanelServer) handleResize(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, sess.renderer.Resize(body.Width, body.Height))
}

// handleDirection toggles the layout direction, or sets it when the body
// names one.
func (s *PanelServer) handleDirection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Direction string `json:"direction"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
	}
	if body.Direction == "" {
		sess.renderer.ToggleDirection(r.Context())
	} else {
		sess.renderer.SetDirection(r.Context(), layout.ParseDirection(body.Direction))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"direction": sess.renderer.Direction(),
		"viewport":  sess.renderer.Viewport(),
	})
}
