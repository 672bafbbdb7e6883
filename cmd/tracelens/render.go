package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/tracelens/internal/expressions"
	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/internal/playback"
	"github.com/rendis/tracelens/internal/render"
	"github.com/rendis/tracelens/internal/validation"
	"github.com/rendis/tracelens/pkg/schema"
)

var renderCmd = &cobra.Command{
	Use:   "render <file>",
	Short: "Render an application or run file",
	Long: `Reads a JSON file holding either an application description or a run
({"application": ..., "steps": [...]}) and writes the graph highlighted at the
selected step. Use "-" to read stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := commandConfig(cmd)
		opts := renderOptions{Layout: cfg.Layout, ASCIIBinDir: cfg.ASCIIBinDir}
		opts.Format, _ = cmd.Flags().GetString("format")
		opts.Seq, _ = cmd.Flags().GetInt64("seq")
		opts.Index, _ = cmd.Flags().GetInt("index")
		opts.Hover, _ = cmd.Flags().GetInt64("hover")
		opts.Width, _ = cmd.Flags().GetFloat64("width")
		opts.Height, _ = cmd.Flags().GetFloat64("height")

		raw, err := readInput(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		logger, _ := newLogger(cfg)
		out, err := renderFile(cmd.Context(), raw, opts, logger)
		if err != nil {
			return err
		}

		dest, _ := cmd.Flags().GetString("out")
		if dest == "" || dest == "-" {
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}
		return os.WriteFile(dest, out, 0o644)
	},
}

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().StringP("format", "f", render.FormatSVG, "Output format (svg, png, mermaid, ascii, json)")
	renderCmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	renderCmd.Flags().Int64("seq", -1, "Sequence id of the current step (default latest)")
	renderCmd.Flags().Int("index", -1, "Position of the current step; overrides --seq")
	renderCmd.Flags().Int64("hover", -1, "Sequence id of the hovered step")
	renderCmd.Flags().Float64("width", 0, "Viewport width for svg and json")
	renderCmd.Flags().Float64("height", 0, "Viewport height for svg and json")
}

type renderOptions struct {
	Layout      layout.Config
	Format      string
	Seq         int64
	Index       int
	Hover       int64
	Width       float64
	Height      float64
	ASCIIBinDir string
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// renderFile validates raw as a run, or as a bare application when it has
// no "application" member, and exports it at the selected step.
func renderFile(ctx context.Context, raw []byte, opts renderOptions, logger *slog.Logger) ([]byte, error) {
	pipeline, err := validation.NewPipeline(logger)
	if err != nil {
		return nil, err
	}
	app, steps, err := decodeRun(pipeline, raw)
	if err != nil {
		return nil, err
	}
	tl, err := playback.NewTimeline(steps)
	if err != nil {
		return nil, err
	}
	conditions, err := expressions.NewConditions()
	if err != nil {
		return nil, err
	}

	seq := opts.Seq
	if opts.Index >= 0 {
		seq = tl.SequenceAt(opts.Index)
	}
	r, err := playback.View(ctx, render.Deps{Conditions: conditions, Logger: logger},
		render.Options{Layout: opts.Layout, Width: opts.Width, Height: opts.Height, ASCIIBinDir: opts.ASCIIBinDir},
		app, tl, seq, opts.Hover)
	if err != nil {
		return nil, err
	}
	if pg := r.Positioned(); pg != nil && len(pg.Degenerate) > 0 {
		logger.Warn("degenerate layout", "conditions", pg.Degenerate)
	}
	return r.Export(ctx, opts.Format)
}

func decodeRun(v validation.Validator, raw []byte) (*schema.Application, []schema.Step, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "input is not a JSON object").WithCause(err)
	}
	if _, ok := probe["application"]; !ok {
		app, err := v.ValidateApplication(raw)
		return app, nil, err
	}
	run, err := v.ValidateRun(raw)
	if err != nil {
		return nil, nil, err
	}
	return &run.Application, run.Steps, nil
}
