package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortexhub/cortexhub/internal/config"
	"github.com/cortexhub/cortexhub/internal/httpapi"
	"github.com/cortexhub/cortexhub/internal/hub"
)

var serveHTTP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub",
	Long: "Start the hub on the stdio MCP transport, or with --http on the\n" +
		"multi-client HTTP+WS transport.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveHTTP, "http", false, "serve the HTTP+WS transport instead of stdio")
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logs go to stderr: on the stdio transport, stdout belongs to the
	// MCP protocol.
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := hub.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if serveHTTP {
		return serveHTTPTransport(ctx, h, cfg, logger)
	}
	return serveStdioTransport(ctx, h, cfg, logger)
}

func serveStdioTransport(ctx context.Context, h *hub.Hub, cfg config.Config, logger *slog.Logger) error {
	logger.Info("serving stdio transport", "version", hub.Version)
	go checkForUpdates()

	done := make(chan error, 1)
	go func() { done <- h.ServeStdio() }()

	var serveErr error
	select {
	case serveErr = <-done:
	case <-ctx.Done():
		logger.Info("signal received, shutting down")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.DrainTimeout+5*time.Second)
	defer cancel()
	if err := h.Shutdown(shutCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return serveErr
}

func serveHTTPTransport(ctx context.Context, h *hub.Hub, cfg config.Config, logger *slog.Logger) error {
	api := httpapi.NewServer(h, cfg.HTTP, logger)
	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("serving http transport", "addr", cfg.HTTP.Listen, "ws", cfg.HTTP.WSPath, "version", hub.Version)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http transport: %w", err)
		}
	case <-ctx.Done():
		logger.Info("signal received, draining")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.DrainTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	return h.Shutdown(shutCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
