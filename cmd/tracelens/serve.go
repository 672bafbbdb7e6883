package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/tracelens/internal/expressions"
	"github.com/rendis/tracelens/internal/layout"
	"github.com/rendis/tracelens/internal/logging"
	"github.com/rendis/tracelens/internal/panel"
	"github.com/rendis/tracelens/internal/streaming"
	"github.com/rendis/tracelens/internal/tracking"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the trace viewer panel",
	Long: `Starts the viewer panel. Runs are fetched from the tracking backend and
refreshed on the configured cron schedule; new steps reach open viewers over SSE.
Send SIGHUP to reload settings.json: log level and layout apply immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := commandConfig(cmd)
		if v, _ := cmd.Flags().GetString("listen"); v != "" {
			cfg.ListenAddr = v
		}
		if v, _ := cmd.Flags().GetString("backend"); v != "" {
			cfg.BackendURL = v
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "Address to listen on (default from config)")
	serveCmd.Flags().String("backend", "", "Base URL of the tracking backend (default from config)")
}

// services are the long-lived collaborators shared by every panel instance.
type services struct {
	poller     *tracking.Poller
	hub        *streaming.MemoryHub
	cache      *layout.Cache
	conditions *expressions.Conditions
	query      *expressions.GoJQEngine
	logger     *slog.Logger
}

func (s *services) panel(cfg Config) *panel.PanelServer {
	return panel.NewPanelServer(panel.PanelDeps{
		Runs:        s.poller,
		Cache:       s.cache,
		Conditions:  s.conditions,
		Query:       s.query,
		Hub:         s.hub,
		Layout:      cfg.Layout,
		ASCIIBinDir: cfg.ASCIIBinDir,
		Logger:      s.logger,
	})
}

func runServe(ctx context.Context, cfg Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger, level := newLogger(cfg)

	backing, err := openLayoutStore(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("serve: layout store: %w", err)
	}
	defer backing.Close()
	stopPrune, err := startPruning(ctx, backing, cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer stopPrune()

	client, err := tracking.NewClient(cfg.BackendURL, tracking.WithClientLogger(logger))
	if err != nil {
		return fmt.Errorf("serve: tracking client: %w", err)
	}
	conditions, err := expressions.NewConditions()
	if err != nil {
		return fmt.Errorf("serve: conditions: %w", err)
	}

	hub := streaming.NewMemoryHub()
	svc := &services{
		poller: tracking.NewPoller(client, hub, logger),
		hub:    hub,
		cache: layout.NewCache(
			layout.WithCapacity(cfg.Cache.Capacity),
			layout.WithStore(backing),
			layout.WithLogger(logger),
		),
		conditions: conditions,
		query:      expressions.NewGoJQEngine(),
		logger:     logger,
	}
	if err := svc.poller.Start(ctx, cfg.RefreshSchedule); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer svc.poller.Stop()

	live := newLivePanel(svc.panel(cfg))
	defer live.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           live,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("panel listening", "addr", cfg.ListenAddr, "backend", cfg.BackendURL, "cache", cfg.Cache.Backend)
		serverErrors <- srv.ListenAndServe()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for {
		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("serve: %w", err)
		case <-ctx.Done():
			return shutdown(srv, logger)
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				cfg = reload(cfg, loadConfig(), svc, live, level, logger)
				continue
			}
			logger.Info("shutting down", "signal", sig.String())
			return shutdown(srv, logger)
		}
	}
}

// reload applies the changes of next that do not need a restart and
// returns the config now in effect.
func reload(cur, next Config, svc *services, live *livePanel, level *slog.LevelVar, logger *slog.Logger) Config {
	d := diffConfigs(cur, next)
	if d.LogLevelChanged {
		level.Set(logging.ParseLevel(next.LogLevel))
		cur.LogLevel = next.LogLevel
		logger.Info("log level changed", "level", next.LogLevel)
	}
	if d.LayoutChanged {
		cur.Layout, cur.ASCIIBinDir = next.Layout, next.ASCIIBinDir
		live.Swap(svc.panel(cur))
		logger.Info("layout config changed; viewer sessions reset", "direction", next.Layout.Direction)
	}
	if len(d.RestartNeeded) > 0 {
		logger.Warn("config changes need a restart", "fields", d.RestartNeeded)
	}
	return cur
}

func shutdown(srv *http.Server, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "error", err)
		return srv.Close()
	}
	return nil
}
