package validation

import (
	"fmt"

	"github.com/rendis/tracelens/pkg/schema"
)

// Issue codes reported by the semantic and reachability stages.
const (
	CodeDuplicateAction     = "DUPLICATE_ACTION"
	CodeDuplicateInput      = "DUPLICATE_INPUT"
	CodeDuplicateTransition = "DUPLICATE_TRANSITION"
	CodeUnknownEndpoint     = "UNKNOWN_ENDPOINT"
	CodeUnknownEntrypoint   = "UNKNOWN_ENTRYPOINT"
	CodeUnknownStepAction   = "UNKNOWN_STEP_ACTION"
	CodeSequenceOrder       = "SEQUENCE_ORDER"
	CodeUnreachable         = "UNREACHABLE_ACTION"
	CodeUnknownLanguage     = "UNKNOWN_CONDITION_LANGUAGE"
)

// ValidateSemantics checks the references inside an application description.
func ValidateSemantics(app *schema.Application) *Result {
	res := &Result{}

	switch app.ConditionLanguage {
	case "", "expr", "cel":
	default:
		res.AddError("/condition_language", CodeUnknownLanguage,
			fmt.Sprintf("unsupported condition language %q", app.ConditionLanguage))
	}

	names := make(map[string]bool, len(app.Actions))
	for i, a := range app.Actions {
		path := fmt.Sprintf("/actions/%d", i)
		if names[a.Name] {
			res.AddError(path+"/name", CodeDuplicateAction,
				fmt.Sprintf("duplicate action name %q", a.Name))
		}
		names[a.Name] = true

		seen := make(map[string]bool, len(a.Inputs))
		for j, in := range a.Inputs {
			if seen[in] {
				res.AddError(fmt.Sprintf("%s/inputs/%d", path, j), CodeDuplicateInput,
					fmt.Sprintf("action %q declares input %q twice", a.Name, in))
			}
			seen[in] = true
		}
	}

	type key struct{ from, to, label string }
	transitions := make(map[key]bool, len(app.Transitions))
	for i, t := range app.Transitions {
		path := fmt.Sprintf("/transitions/%d", i)
		if !names[t.From] {
			res.AddError(path+"/from", CodeUnknownEndpoint,
				fmt.Sprintf("transition source %q is not an action", t.From))
		}
		if !names[t.To] {
			res.AddError(path+"/to", CodeUnknownEndpoint,
				fmt.Sprintf("transition target %q is not an action", t.To))
		}
		k := key{t.From, t.To, t.Condition}
		if transitions[k] {
			res.AddError(path, CodeDuplicateTransition,
				fmt.Sprintf("duplicate transition %s -> %s (%q)", t.From, t.To, t.Condition))
		}
		transitions[k] = true
	}

	if app.Entrypoint != "" && !names[app.Entrypoint] {
		res.AddError("/entrypoint", CodeUnknownEntrypoint,
			fmt.Sprintf("entrypoint %q is not an action", app.Entrypoint))
	}

	return res
}

// ValidateSteps checks a step history against its application: every step
// must invoke a declared action and sequence ids must strictly increase.
func ValidateSteps(app *schema.Application, steps []schema.Step) *Result {
	res := &Result{}
	names := make(map[string]bool, len(app.Actions))
	for _, a := range app.Actions {
		names[a.Name] = true
	}

	last := int64(-1)
	for i, s := range steps {
		path := fmt.Sprintf("/steps/%d", i)
		if !names[s.Action()] {
			res.AddError(path+"/step_start_log/action", CodeUnknownStepAction,
				fmt.Sprintf("step invokes unknown action %q", s.Action()))
		}
		seq := s.Sequence()
		if seq <= last {
			res.AddError(path+"/step_start_log/sequence_id", CodeSequenceOrder,
				fmt.Sprintf("sequence id %d does not follow %d", seq, last))
		}
		last = seq
	}
	return res
}
