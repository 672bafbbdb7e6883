package validation

import "github.com/rendis/tracelens/pkg/schema"

// Validator checks application descriptions and step histories received
// from the tracking backend before they reach the graph builder.
type Validator interface {
	ValidateApplication(raw []byte) (*schema.Application, error)
	ValidateRun(raw []byte) (*schema.Run, error)
	// DecodeRun checks only the structure of a run document. Reference
	// problems are left for the graph builder to report.
	DecodeRun(raw []byte) (*schema.Run, error)
}
