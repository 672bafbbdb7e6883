package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/tracelens/internal/expressions"
	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/internal/streaming"
	"github.com/rendis/tracelens/internal/tracking"
	tlmcp "github.com/rendis/tracelens/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes tracelens to AI agents as MCP tools.

Supported transports:
- stdio (default): standard input/output, for local process integration.
- sse: Server-Sent Events over HTTP; required for tracelens.watch notifications
  to reach remote agents.

Tracked runs are fetched from the configured backend; pass --backend="" to
serve inline runs only.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := commandConfig(cmd)
		if cmd.Flags().Changed("backend") {
			cfg.BackendURL, _ = cmd.Flags().GetString("backend")
		}
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")
		return runMCP(cmd.Context(), cfg, transport, addr)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("transport", "stdio", "Transport (stdio, sse)")
	mcpCmd.Flags().String("addr", ":7242", "Listen address for the sse transport")
	mcpCmd.Flags().String("backend", "", "Base URL of the tracking backend (default from config)")
}

func runMCP(ctx context.Context, cfg Config, transport, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Logs go to stderr so they never corrupt JSON-RPC on stdout.
	logger, _ := newLogger(cfg)

	backing, err := openLayoutStore(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("mcp: layout store: %w", err)
	}
	defer backing.Close()
	conditions, err := expressions.NewConditions()
	if err != nil {
		return fmt.Errorf("mcp: conditions: %w", err)
	}

	deps := tlmcp.ServerDeps{
		Cache: layout.NewCache(
			layout.WithCapacity(cfg.Cache.Capacity),
			layout.WithStore(backing),
			layout.WithLogger(logger),
		),
		Conditions:  conditions,
		Layout:      cfg.Layout,
		ASCIIBinDir: cfg.ASCIIBinDir,
		Logger:      logger,
	}
	if cfg.BackendURL != "" {
		client, err := tracking.NewClient(cfg.BackendURL, tracking.WithClientLogger(logger))
		if err != nil {
			return fmt.Errorf("mcp: tracking client: %w", err)
		}
		hub := streaming.NewMemoryHub()
		poller := tracking.NewPoller(client, hub, logger)
		if err := poller.Start(ctx, cfg.RefreshSchedule); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		defer poller.Stop()
		deps.Runs, deps.Hub = poller, hub
	}

	srv, err := tlmcp.NewServer(deps)
	if err != nil {
		return fmt.Errorf("mcp: %w", err)
	}

	switch transport {
	case "stdio":
		logger.Info("mcp server starting", "transport", transport)
		return srv.Serve(ctx)
	case "sse":
		logger.Info("mcp server starting", "transport", transport, "addr", addr)
		return srv.ServeSSE(ctx, addr)
	default:
		return fmt.Errorf("mcp: unknown transport %q", transport)
	}
}
