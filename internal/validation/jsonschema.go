package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/tracelens/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	applicationSchemaURL = "https://tracelens.dev/schemas/application.json"
	runSchemaURL         = "https://tracelens.dev/schemas/run.json"
)

// applicationSchemaJSON is the JSON Schema of an application description.
// Embedded as a constant to avoid filesystem dependencies.
const applicationSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://tracelens.dev/schemas/application.json",
  "type": "object",
  "required": ["actions", "transitions"],
  "properties": {
    "project": { "type": "string" },
    "app_id": { "type": "string" },
    "version": { "type": "string" },
    "entrypoint": { "type": "string" },
    "condition_language": { "type": "string", "enum": ["", "expr", "cel"] },
    "actions": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/action" }
    },
    "transitions": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/transition" }
    }
  },
  "$defs": {
    "action": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "inputs": { "$ref": "#/$defs/names" },
        "reads": { "$ref": "#/$defs/names" },
        "writes": { "$ref": "#/$defs/names" }
      },
      "additionalProperties": false
    },
    "transition": {
      "type": "object",
      "required": ["from", "to"],
      "properties": {
        "from": { "type": "string", "minLength": 1 },
        "to": { "type": "string", "minLength": 1 },
        "condition": { "type": "string" }
      },
      "additionalProperties": false
    },
    "names": {
      "type": ["array", "null"],
      "items": { "type": "string", "minLength": 1 }
    }
  }
}`

// runSchemaJSON is the JSON Schema of an application plus its step history.
const runSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://tracelens.dev/schemas/run.json",
  "type": "object",
  "required": ["application", "steps"],
  "properties": {
    "application": { "$ref": "https://tracelens.dev/schemas/application.json" },
    "steps": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "$defs": {
    "step": {
      "type": "object",
      "required": ["step_start_log"],
      "properties": {
        "step_start_log": {
          "type": "object",
          "required": ["action", "sequence_id"],
          "properties": {
            "action": { "type": "string", "minLength": 1 },
            "sequence_id": { "type": "integer", "minimum": 0 },
            "start_time": { "type": "string" }
          }
        },
        "step_end_log": {
          "type": ["object", "null"],
          "properties": {
            "action": { "type": "string" },
            "sequence_id": { "type": "integer", "minimum": 0 },
            "exception": { "type": ["string", "null"] }
          }
        }
      }
    }
  }
}`

// JSONSchemaValidator performs the structural stage of validation.
// Thread-safe: compiled schemas are immutable.
type JSONSchemaValidator struct {
	application *jsonschema.Schema
	run         *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the application and run schemas.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	for url, src := range map[string]string{
		applicationSchemaURL: applicationSchemaJSON,
		runSchemaURL:         runSchemaJSON,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	app, err := c.Compile(applicationSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile application schema: %w", err)
	}
	run, err := c.Compile(runSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile run schema: %w", err)
	}

	return &JSONSchemaValidator{application: app, run: run}, nil
}

// ValidateApplicationDocument checks raw JSON against the application schema.
func (v *JSONSchemaValidator) ValidateApplicationDocument(raw []byte) error {
	return validateDocument(v.application, raw)
}

// ValidateRunDocument checks raw JSON against the run schema.
func (v *JSONSchemaValidator) ValidateRunDocument(raw []byte) error {
	return validateDocument(v.run, raw)
}

// ValidateValue checks an already decoded application against the schema.
func (v *JSONSchemaValidator) ValidateValue(app *schema.Application) error {
	if app == nil {
		return schema.NewError(schema.ErrCodeValidation, "application description is nil")
	}
	b, err := json.Marshal(app)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize application description").WithCause(err)
	}
	return validateDocument(v.application, b)
}

func validateDocument(s *jsonschema.Schema, raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "document is not valid JSON").WithCause(err)
	}
	if err := s.Validate(doc); err != nil {
		return toTraceError(err)
	}
	return nil
}

// toTraceError converts a jsonschema.ValidationError into a TraceError
// listing every leaf violation with its instance location.
func toTraceError(err error) *schema.TraceError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
