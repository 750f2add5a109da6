// Command sandbox serves a local stand-in for the order, payment and catalogue
// backend so the storefront can run without the real one.
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

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/config"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/logger"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/sandbox"
)

func main() {
	cfg, err := config.LoadSandbox()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	store := sandbox.NewStore(sandbox.NewRandomDecider(cfg.FailureRate), cfg.PendingPolls)
	defer store.Close()
	store.SeedCatalogue()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      sandbox.NewHandler(store, log).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("sandbox backend listening",
			slog.String("port", cfg.Port),
			slog.Int("pending_polls", cfg.PendingPolls),
			slog.Float64("failure_rate", cfg.FailureRate))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down sandbox...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("sandbox forced to shutdown", slog.Any("error", err))
	}
	log.Info("sandbox stopped")
}
