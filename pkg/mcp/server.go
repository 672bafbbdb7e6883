package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/tracelens/internal/expressions"
	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/internal/playback"
	"github.com/rendis/tracelens/internal/render"
	"github.com/rendis/tracelens/internal/streaming"
	"github.com/rendis/tracelens/internal/tracking"
	"github.com/rendis/tracelens/internal/validation"
	"github.com/rendis/tracelens/pkg/schema"
)

// RunSource provides run snapshots from the tracking backend.
// Satisfied by tracking.Poller.
type RunSource interface {
	Load(ctx context.Context, ref tracking.RunRef) (*schema.Application, *playback.Timeline, error)
	Watch(ref tracking.RunRef)
	Unwatch(ref tracking.RunRef)
}

// ServerDeps holds the dependencies for creating a Server.
// Runs and Hub are optional: without them only inline runs can be rendered
// and tracelens.watch is unavailable.
type ServerDeps struct {
	Runs        RunSource
	Hub         streaming.EventHub
	Validator   validation.Validator
	Cache       *layout.Cache
	Conditions  render.ConditionEvaluator
	Query       *expressions.GoJQEngine
	Layout      layout.Config
	ASCIIBinDir string
	Logger      *slog.Logger
}

// Server wraps an MCP server with tracelens tool handlers.
type Server struct {
	runs       RunSource
	hub        streaming.EventHub
	validator  validation.Validator
	cache      *layout.Cache
	conditions render.ConditionEvaluator
	query      *expressions.GoJQEngine
	layout     layout.Config
	asciiBin   string
	logger     *slog.Logger
	watches    *WatchRegistry
	notifier   Notifier
	mcpServer  *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	validator := deps.Validator
	if validator == nil {
		p, err := validation.NewPipeline(logger)
		if err != nil {
			return nil, err
		}
		validator = p
	}
	cache := deps.Cache
	if cache == nil {
		cache = layout.NewCache(layout.WithLogger(logger))
	}
	query := deps.Query
	if query == nil {
		query = expressions.NewGoJQEngine()
	}

	s := &Server{
		runs:       deps.Runs,
		hub:        deps.Hub,
		validator:  validator,
		cache:      cache,
		conditions: deps.Conditions,
		query:      query,
		layout:     deps.Layout,
		asciiBin:   deps.ASCIIBinDir,
		logger:     logger.With("component", "mcp"),
		watches:    NewWatchRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"tracelens",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("tracelens draws state-machine application graphs with execution highlighting. Use tracelens.render to draw a run at a step, tracelens.classify to read per-node and per-edge highlight classes, tracelens.step_result to query a step's result with jq, and tracelens.watch to receive notifications when a run gains steps."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.watches)
	return s, nil
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	defer s.Close()
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// ServeSSE serves MCP over SSE on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	defer s.Close()
	sse := server.NewSSEServer(s.mcpServer)
	errs := make(chan error, 1)
	go func() { errs <- sse.Start(addr) }()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return sse.Shutdown(shutdownCtx)
	}
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Close stops every run watch.
func (s *Server) Close() {
	s.watches.Close()
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: renderTool(), Handler: s.handleRender},
		{Tool: classifyTool(), Handler: s.handleClassify},
		{Tool: stepResultTool(), Handler: s.handleStepResult},
		{Tool: watchTool(), Handler: s.handleWatch},
	}
}

// --- Tool definitions ---

// runArgs are shared by every tool that addresses a run.
func runArgs() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("project", mcp.Description("Project of a tracked run")),
		mcp.WithString("app", mcp.Description("Partition key of a tracked run")),
		mcp.WithString("app_id", mcp.Description("ID of a tracked run")),
		mcp.WithObject("run", mcp.Description("Inline run {application, steps}; used instead of project/app/app_id")),
	}
}

// positionArgs select the current and hovered step.
func positionArgs() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("seq", mcp.Description("Sequence id of the current step (default: latest)")),
		mcp.WithNumber("index", mcp.Description("Position of the current step in the run; overrides seq")),
		mcp.WithNumber("hover", mcp.Description("Sequence id of the hovered step")),
	}
}

func renderTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Draw a run's application graph highlighted at a step"),
		mcp.WithString("format",
			mcp.Enum(render.FormatMermaid, render.FormatASCII, render.FormatSVG, render.FormatPNG, render.FormatJSON),
			mcp.Description("Output format (default: mermaid). png is returned base64 encoded"),
		),
		mcp.WithString("direction", mcp.Enum(string(layout.TopToBottom), string(layout.LeftToRight)),
			mcp.Description("Layout direction (default: TB)"),
		),
	}
	opts = append(opts, runArgs()...)
	opts = append(opts, positionArgs()...)
	return mcp.NewTool("tracelens.render", opts...)
}

func classifyTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Classify graph nodes and edges as active, inpath or neutral at a step"),
	}
	opts = append(opts, runArgs()...)
	opts = append(opts, positionArgs()...)
	return mcp.NewTool("tracelens.classify", opts...)
}

func stepResultTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Return a completed step's result, optionally filtered by a jq query"),
		mcp.WithNumber("seq", mcp.Required(), mcp.Description("Sequence id of the step")),
		mcp.WithString("jq", mcp.Description("jq query applied to the result")),
	}
	opts = append(opts, runArgs()...)
	return mcp.NewTool("tracelens.step_result", opts...)
}

func watchTool() mcp.Tool {
	return mcp.NewTool("tracelens.watch",
		mcp.WithDescription("Start or stop notifications for new steps of a tracked run"),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project of the run")),
		mcp.WithString("app", mcp.Required(), mcp.Description("Partition key of the run")),
		mcp.WithString("app_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithString("action", mcp.Enum("start", "stop"), mcp.Description("start (default) or stop")),
	)
}
