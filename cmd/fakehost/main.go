package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/apphost/internal/controlplane"
	"github.com/alvesdmateus/apphost/internal/logging"
	"github.com/alvesdmateus/apphost/pkg/config"
	"github.com/alvesdmateus/apphost/pkg/database"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("APPHOST_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Setup(os.Stdout, cfg.LogLevel, false)

	log.Info().
		Str("app", "fakehost").
		Str("port", cfg.FakeHost.Port).
		Msg("Starting application")

	// Open state database
	db, err := database.New(database.Config{DSN: cfg.FakeHost.DatabaseDSN})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	store, err := controlplane.NewStore(db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	if err := store.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Database health check failed")
	}

	// Initialize HTTP server. No write timeout: log streams stay open.
	apiServer := controlplane.NewServer(controlplane.NewConfig(cfg), store)
	httpServer := &http.Server{
		Addr:              ":" + cfg.FakeHost.Port,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", cfg.FakeHost.Port).
			Bool("auto_approve", cfg.FakeHost.AutoApprove).
			Msg("Starting HTTP server")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down application...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Application stopped")
}
