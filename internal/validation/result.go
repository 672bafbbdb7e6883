package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/tracelens/pkg/schema"
)

// Issue is one finding at a JSON-pointer-like path.
type Issue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result aggregates the findings of the validation stages. Errors make a
// description unusable; warnings are reported but do not block rendering.
type Result struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// AddError records an error.
func (r *Result) AddError(path, code, msg string) {
	r.Errors = append(r.Errors, Issue{Path: path, Code: code, Message: msg})
}

// AddWarning records a warning.
func (r *Result) AddWarning(path, code, msg string) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Code: code, Message: msg})
}

// Merge appends the findings of other.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Valid reports whether no errors were recorded.
func (r *Result) Valid() bool {
	return len(r.Errors) == 0
}

// ToError returns nil when valid, otherwise a ValidationError listing every issue.
func (r *Result) ToError() error {
	if r.Valid() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	msg := msgs[0]
	if len(msgs) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors: %s", len(msgs), strings.Join(msgs, "; "))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"errors": r.Errors, "warnings": r.Warnings})
}
