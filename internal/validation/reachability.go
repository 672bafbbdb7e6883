package validation

import (
	"fmt"

	"github.com/rendis/tracelens/pkg/schema"
)

// CheckReachability walks the transitions breadth-first from the entrypoint
// and warns about actions that can never run. Cycles are legal in a state
// machine and are not reported. Without an entrypoint the first declared
// action is used.
func CheckReachability(app *schema.Application) *Result {
	res := &Result{}
	if len(app.Actions) == 0 {
		return res
	}

	start := app.Entrypoint
	if start == "" {
		start = app.Actions[0].Name
	}
	if app.ActionByName(start) == nil {
		return res
	}

	adj := make(map[string][]string, len(app.Actions))
	for _, t := range app.Transitions {
		adj[t.From] = append(adj[t.From], t.To)
	}

	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}

	for i, a := range app.Actions {
		if !visited[a.Name] {
			res.AddWarning(fmt.Sprintf("/actions/%d", i), CodeUnreachable,
				fmt.Sprintf("action %q is not reachable from %q", a.Name, start))
		}
	}
	return res
}
