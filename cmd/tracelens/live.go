package main

import (
	"net/http"
	"sync"

	"github.com/rendis/tracelens/internal/panel"
)

// livePanel serves the current panel and lets a config reload replace it
// without restarting the listener.
type livePanel struct {
	mu      sync.RWMutex
	panel   *panel.PanelServer
	handler http.Handler
}

func newLivePanel(p *panel.PanelServer) *livePanel {
	return &livePanel{panel: p, handler: p.Handler()}
}

func (l *livePanel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.RLock()
	h := l.handler
	l.mu.RUnlock()
	h.ServeHTTP(w, r)
}

// Swap installs p and closes the previous panel, dropping its viewer sessions.
func (l *livePanel) Swap(p *panel.PanelServer) {
	l.mu.Lock()
	old := l.panel
	l.panel, l.handler = p, p.Handler()
	l.mu.Unlock()
	old.Close()
}

// Close closes the current panel.
func (l *livePanel) Close() {
	l.mu.RLock()
	p := l.panel
	l.mu.RUnlock()
	p.Close()
}
