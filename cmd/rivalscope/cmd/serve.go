package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/api"
	"github.com/hugo-lorenzo-mato/rivalscope/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the rivalscope HTTP server.

The server exposes the session REST API under /api/v1, live progress as
Server-Sent Events (/api/v1/sessions/{id}/events) and WebSocket
(/api/v1/sessions/{id}/ws), plus /health and /metrics.

Examples:
  # Start with the configured address (default 127.0.0.1:8080)
  rivalscope serve

  # Listen on all interfaces, port 3000
  rivalscope serve --host 0.0.0.0 --port 3000

  # Try the API without provider keys
  rivalscope serve --dry-run`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost   string
	servePort   int
	serveDryRun bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "",
		"host address to bind to (default: server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0,
		"port to listen on (default: server.port)")
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false,
		"use static placeholder providers instead of calling any API")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{DryRun: serveDryRun})
	if err != nil {
		return err
	}

	apiOpts := []api.ServerOption{
		api.WithLogger(logger.Logger),
		api.WithStats(a.metrics),
	}
	if lister, ok := a.store.(state.Lister); ok {
		apiOpts = append(apiOpts, api.WithSessionLister(lister))
	}
	apiServer := api.NewServer(a.orch, a.orch.Gate(), apiOpts...)

	webCfg := web.ConfigFrom(cfg.Server)
	if serveHost != "" {
		webCfg.Host = serveHost
	}
	if servePort != 0 {
		webCfg.Port = servePort
	}
	server := web.New(webCfg, apiServer, logger.Logger,
		web.WithEvents(a.publisher),
		web.WithMetrics(a.metrics.Handler()),
	)

	logger.Info("server starting",
		slog.String("addr", server.Addr()),
		slog.Any("providers", a.providerNames),
		slog.Bool("dry_run", serveDryRun),
	)
	serveErr := server.ListenAndServe(ctx)

	logger.Info("stopping orchestrator")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), webCfg.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Warn("orchestrator shutdown incomplete", slog.String("error", err.Error()))
	}

	if serveErr != nil {
		return fmt.Errorf("server: %w", serveErr)
	}
	logger.Info("server stopped")
	return nil
}
