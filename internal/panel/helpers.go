package panel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rendis/tracelens/internal/tracking"
	"github.com/rendis/tracelens/pkg/schema"
)

// toJSON marshals a value to indented JSON for template rendering.
func toJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// add returns a + b.
func add(a, b int) int { return a + b }

// truncate shortens a string to max length, appending "..." if truncated.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeTraceError maps a TraceError code to an HTTP status and writes it
// with its details.
func writeTraceError(w http.ResponseWriter, err error) {
	var te *schema.TraceError
	if !errors.As(err, &te) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, statusFor(te.Code), te)
}

func statusForErr(err error) int {
	var te *schema.TraceError
	if errors.As(err, &te) {
		return statusFor(te.Code)
	}
	return http.StatusInternalServerError
}

func statusFor(code string) int {
	switch code {
	case schema.ErrCodeValidation:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// refFromPath reads the {project}/{app}/{appID} path values.
func refFromPath(r *http.Request) tracking.RunRef {
	return tracking.RunRef{
		Project: r.PathValue("project"),
		App:     r.PathValue("app"),
		AppID:   r.PathValue("appID"),
	}
}

// queryInt64 extracts an integer query param with a default value.
func queryInt64(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// queryFloat extracts a float query param with a default value.
func queryFloat(r *http.Request, key string, def float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
