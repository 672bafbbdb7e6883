package validation

import (
	"encoding/json"
	"log/slog"

	"github.com/rendis/tracelens/pkg/schema"
)

// Pipeline runs the structural, semantic and reachability stages in order.
// A structural failure stops the pipeline; later stages only see documents
// that decode cleanly.
type Pipeline struct {
	structural *JSONSchemaValidator
	logger     *slog.Logger
}

var _ Validator = (*Pipeline)(nil)

// NewPipeline compiles the schemas and returns a ready pipeline.
func NewPipeline(logger *slog.Logger) (*Pipeline, error) {
	sv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{structural: sv, logger: logger}, nil
}

// ValidateApplication decodes and validates an application description.
func (p *Pipeline) ValidateApplication(raw []byte) (*schema.Application, error) {
	if err := p.structural.ValidateApplicationDocument(raw); err != nil {
		return nil, err
	}
	var app schema.Application
	if err := json.Unmarshal(raw, &app); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "cannot decode application description").WithCause(err)
	}
	if err := p.check(&app, nil); err != nil {
		return nil, err
	}
	return &app, nil
}

// ValidateRun decodes and validates an application plus its step history.
func (p *Pipeline) ValidateRun(raw []byte) (*schema.Run, error) {
	if err := p.structural.ValidateRunDocument(raw); err != nil {
		return nil, err
	}
	var run schema.Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "cannot decode run").WithCause(err)
	}
	if err := p.check(&run.Application, run.Steps); err != nil {
		return nil, err
	}
	return &run, nil
}

// DecodeRun validates the structure of a run document and decodes it.
// Semantic and reachability issues are logged, not returned, so that a run
// with a broken application still reaches the renderer and is shown in its
// error state.
func (p *Pipeline) DecodeRun(raw []byte) (*schema.Run, error) {
	if err := p.structural.ValidateRunDocument(raw); err != nil {
		return nil, err
	}
	var run schema.Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "cannot decode run").WithCause(err)
	}
	if err := p.check(&run.Application, run.Steps); err != nil {
		p.logger.Warn("run has invalid references", "project", run.Application.Project,
			"app_id", run.Application.AppID, "error", err.Error())
	}
	return &run, nil
}

// Check validates an already decoded application and optional steps.
func (p *Pipeline) Check(app *schema.Application, steps []schema.Step) (*Result, error) {
	if err := p.structural.ValidateValue(app); err != nil {
		return nil, err
	}
	res := ValidateSemantics(app)
	if steps != nil {
		res.Merge(ValidateSteps(app, steps))
	}
	res.Merge(CheckReachability(app))
	return res, res.ToError()
}

func (p *Pipeline) check(app *schema.Application, steps []schema.Step) error {
	res := ValidateSemantics(app)
	if steps != nil {
		res.Merge(ValidateSteps(app, steps))
	}
	res.Merge(CheckReachability(app))
	for _, w := range res.Warnings {
		p.logger.Warn("application warning", "project", app.Project, "app_id", app.AppID,
			"path", w.Path, "code", w.Code, "message", w.Message)
	}
	return res.ToError()
}
