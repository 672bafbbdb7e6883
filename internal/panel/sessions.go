package panel

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/internal/metrics"
	"github.com/rendis/tracelens/internal/playback"
	"github.com/rendis/tracelens/internal/render"
	"github.com/rendis/tracelens/internal/streaming"
	"github.com/rendis/tracelens/internal/tracking"
	"github.com/rendis/tracelens/pkg/schema"
)

// session is one viewer of one run. Its renderer keeps layout, viewport and
// highlight between requests; the playback position lives here.
type session struct {
	id       string
	ref      tracking.RunRef
	renderer *render.Renderer
	lastSeen atomic.Int64 // unix nanoseconds
	streams  atomic.Int32

	mu       sync.Mutex
	app      *schema.Application
	timeline *playback.Timeline
	seq      int64 // -1 follows the latest step
	hovered  int64 // -1 means no hover
}

type sessionStore struct {
	mu   sync.RWMutex
	byID map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{byID: make(map[string]*session)}
}

func (sess *session) touch(now time.Time) {
	sess.lastSeen.Store(now.UnixNano())
}

// idleSince reports whether the session has no open stream and was last
// used before cutoff.
func (sess *session) idleSince(cutoff time.Time) bool {
	return sess.streams.Load() == 0 && sess.lastSeen.Load() < cutoff.UnixNano()
}

// get returns a session and marks it as used.
func (st *sessionStore) get(id string) (*session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.byID[id]
	if ok {
		sess.touch(time.Now())
	}
	return sess, ok
}

func (st *sessionStore) put(sess *session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess.touch(time.Now())
	st.byID[sess.id] = sess
}

// expire removes and returns the sessions idle since cutoff.
func (st *sessionStore) expire(cutoff time.Time) []*session {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []*session
	for id, sess := range st.byID {
		if sess.idleSince(cutoff) {
			out = append(out, sess)
			delete(st.byID, id)
		}
	}
	return out
}

func (st *sessionStore) remove(id string) (*session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.byID[id]
	delete(st.byID, id)
	return sess, ok
}

func (st *sessionStore) drain() []*session {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*session, 0, len(st.byID))
	for id, sess := range st.byID {
		out = append(out, sess)
		delete(st.byID, id)
	}
	return out
}

func (st *sessionStore) len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID)
}

type sessionOptions struct {
	Direction string  `json:"direction"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

// newSession loads the run, lays it out and selects the latest step.
// Interaction events of the session's renderer are published on the hub
// under the session topic.
func (s *PanelServer) newSession(ctx context.Context, ref tracking.RunRef, opts sessionOptions) (*session, error) {
	// Watching first lets the run source keep the snapshot it loads.
	s.deps.Runs.Watch(ref)
	app, tl, err := s.deps.Runs.Load(ctx, ref)
	if err != nil {
		s.deps.Runs.Unwatch(ref)
		return nil, err
	}

	id := uuid.New().String()
	topic := streaming.SessionTopic(id)
	hub := s.deps.Hub
	logger := s.deps.Logger.With("session", id, "run", ref.String())

	cfg := s.deps.Layout
	if opts.Direction != "" {
		cfg.Direction = layout.ParseDirection(opts.Direction)
	}

	r := render.New(render.Deps{
		Cache:      s.deps.Cache,
		Conditions: s.deps.Conditions,
		Logger:     logger,
		Sink: render.SinkFunc(func(e render.Event) {
			if err := hub.Publish(context.Background(), streaming.StreamEvent{
				Topic:     topic,
				EventType: streaming.EventInteraction,
				Payload:   e,
			}); err != nil {
				logger.Debug("interaction event dropped", "error", err)
			}
		}),
	}, render.Options{Layout: cfg, Width: opts.Width, Height: opts.Height, ASCIIBinDir: s.deps.ASCIIBinDir})

	sess := &session{
		id:       id,
		ref:      ref,
		renderer: r,
		seq:      -1,
		hovered:  -1,
	}
	// A malformed application leaves the renderer in its error state; the
	// session still exists so the viewer can show it.
	_ = r.SetApplication(ctx, app)
	sess.app, sess.timeline = app, tl
	r.Select(tl.SelectionAt(-1, -1))

	s.sessions.put(sess)
	metrics.ViewerSessions.Inc()
	logger.Info("viewer session opened")
	return sess, nil
}

func (s *PanelServer) closeSession(id string) bool {
	sess, ok := s.sessions.remove(id)
	if !ok {
		return false
	}
	s.deps.Runs.Unwatch(sess.ref)
	metrics.ViewerSessions.Dec()
	return true
}

// reapIdle closes the sessions not used since cutoff. Sessions with an
// open event stream are kept.
func (s *PanelServer) reapIdle(cutoff time.Time) int {
	expired := s.sessions.expire(cutoff)
	for _, sess := range expired {
		s.deps.Runs.Unwatch(sess.ref)
		metrics.ViewerSessions.Dec()
		s.deps.Logger.Info("idle viewer session closed", "session", sess.id, "run", sess.ref.String())
	}
	return len(expired)
}

// sync picks up a changed application or new steps from the run source.
// A new application resets the playback position.
func (s *PanelServer) sync(ctx context.Context, sess *session) error {
	app, tl, err := s.deps.Runs.Load(ctx, sess.ref)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if app != sess.app {
		if sess.app == nil || !reflect.DeepEqual(*app, *sess.app) {
			_ = sess.renderer.SetApplication(ctx, app)
			sess.seq, sess.hovered = -1, -1
		}
		sess.app = app
	}
	sess.timeline = tl
	return nil
}

// selectionLocked derives the renderer selection from the playback position.
func (sess *session) selectionLocked() render.Selection {
	return sess.timeline.SelectionAt(sess.seq, sess.hovered)
}
