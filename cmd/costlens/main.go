// Command costlens runs the cost ingestion and reporting service.
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

	"github.com/costlens/backend/internal/config"
	"github.com/costlens/backend/internal/container"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	app, err := container.New(cfg)
	if err != nil {
		slog.Error("failed to build application", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		app.Logger.Error("failed to start application", "error", err)
		os.Exit(1)
	}

	go func() {
		app.Logger.Info("http server listening", "addr", app.Server.Addr)
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	app.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		app.Logger.Warn("http shutdown interrupted", "error", err)
	}
	app.Stop(shutdownCtx)
	app.Logger.Info("shutdown complete")
}
