package schema

import "strings"

// InternalInputPrefix marks inputs supplied by the engine itself. They are never displayed.
const InternalInputPrefix = "__"

// DefaultCondition is the label the engine uses for an unguarded transition.
const DefaultCondition = "default"

// Application is the static description of a state-machine application:
// its actions and the transitions between them.
type Application struct {
	Project     string       `json:"project,omitempty"`
	AppID       string       `json:"app_id,omitempty"`
	Version     string       `json:"version,omitempty"`
	Entrypoint  string       `json:"entrypoint,omitempty"`
	Actions     []Action     `json:"actions"`
	Transitions []Transition `json:"transitions"`

	// ConditionLanguage selects the engine used to evaluate transition
	// conditions: "expr" (default) or "cel".
	ConditionLanguage string `json:"condition_language,omitempty"`
}

// Action is one named unit of work in the application.
type Action struct {
	Name   string   `json:"name"`
	Inputs []string `json:"inputs,omitempty"`
	Reads  []string `json:"reads,omitempty"`
	Writes []string `json:"writes,omitempty"`
}

// Transition is a directed, optionally guarded edge between two actions.
type Transition struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// Unconditional reports whether the transition has no guard.
func (t Transition) Unconditional() bool {
	return t.Condition == "" || t.Condition == DefaultCondition
}

// IsInternalInput reports whether an input name is reserved for the engine.
func IsInternalInput(name string) bool {
	return strings.HasPrefix(name, InternalInputPrefix)
}

// VisibleInputs returns the action's inputs in declared order, minus internal ones.
func (a Action) VisibleInputs() []string {
	out := make([]string, 0, len(a.Inputs))
	for _, in := range a.Inputs {
		if IsInternalInput(in) {
			continue
		}
		out = append(out, in)
	}
	return out
}

// ActionByName returns the named action, or nil.
func (app *Application) ActionByName(name string) *Action {
	for i := range app.Actions {
		if app.Actions[i].Name == name {
			return &app.Actions[i]
		}
	}
	return nil
}
