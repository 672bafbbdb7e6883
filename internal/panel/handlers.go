package panel

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/rendis/tracelens/internal/tracking"
)

type pageData struct {
	Title string
}

type appData struct {
	pageData
	Run   tracking.RunRef
	Steps []stepRow
	SVG   template.HTML
	Error string
}

type stepRow struct {
	Index    int
	Sequence int64
	Action   string
	Failed   bool
	InFlight bool
}

func (s *PanelServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, "index.html", pageData{Title: "tracelens"})
}

// handleApp renders the viewer page with the run's latest step selected.
// The page then opens a session and drives it through the API.
func (s *PanelServer) handleApp(w http.ResponseWriter, r *http.Request) {
	ref := refFromPath(r)
	data := appData{
		pageData: pageData{Title: ref.String()},
		Run:      ref,
	}

	rr, err := s.viewRun(r.Context(), r)
	if rr == nil {
		data.Error = err.Error()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusForErr(err))
		s.renderPage(w, "app.html", data)
		return
	}
	if err != nil {
		data.Error = err.Error()
	}

	var buf bytes.Buffer
	if err := rr.WriteSVG(&buf); err == nil {
		// WriteSVG escapes every label.
		data.SVG = template.HTML(buf.String())
	}

	if _, tl, err := s.deps.Runs.Load(r.Context(), ref); err == nil {
		for i, st := range tl.Steps() {
			data.Steps = append(data.Steps, stepRow{
				Index:    i,
				Sequence: st.Sequence(),
				Action:   st.Action(),
				Failed:   st.Failed(),
				InFlight: !st.Completed(),
			})
		}
	}
	s.renderPage(w, "app.html", data)
}
