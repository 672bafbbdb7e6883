package playback

import (
	"context"

	"github.com/rendis/tracelens/internal/render"
	"github.com/rendis/tracelens/pkg/schema"
)

// View renders app at a playback position with a fresh renderer. seq < 0
// (or unknown) selects the latest step; hovered < 0 means no hover.
// A rejected application returns the renderer in its error state together
// with the error.
func View(ctx context.Context, deps render.Deps, opts render.Options, app *schema.Application, tl *Timeline, seq, hovered int64) (*render.Renderer, error) {
	r := render.New(deps, opts)
	if err := r.SetApplication(ctx, app); err != nil {
		return r, err
	}
	r.Select(tl.SelectionAt(seq, hovered))
	return r, nil
}
