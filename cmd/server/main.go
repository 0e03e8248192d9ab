package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rpattn/revisionable/internal/api"
	"github.com/rpattn/revisionable/internal/app"
	"github.com/rpattn/revisionable/internal/config"
)

func main() {
	// Create context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.ParseServer()
	if err != nil {
		slog.Error("invalid server settings", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(ctx context.Context, cfg config.Server, logger *slog.Logger) error {
	loader := config.NewLoader(cfg.ConfigPath, logger)
	opts, err := loader.Load()
	if err != nil {
		return err
	}

	a, err := app.New(ctx, app.Settings{Backend: cfg.Backend, Strict: cfg.Strict}, opts, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Revision defaults follow revisionable.yaml edits without a restart.
	loader.Watch(a.Reload)

	handler := api.NewServer(a.Engine, a.Records, logger).Handler(api.Options{
		CORSOrigins: cfg.CORSOrigins,
		JWTSecret:   []byte(opts.JWTSecret),
		Metrics:     a.Metrics.Handler(),
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting revision server", "addr", cfg.Addr, "backend", cfg.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
