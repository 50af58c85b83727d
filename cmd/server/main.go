package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/booking-api/internal/app"
	"github.com/ksred/booking-api/internal/config"
	"github.com/ksred/booking-api/pkg/obs"
)

// setupLogging enables pretty console output outside production and sets the
// global level from config
func setupLogging(cfg *config.Config) {
	if !cfg.IsProduction() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main runs the booking API and the settlement scheduler until SIGINT or
// SIGTERM, then drains in-flight work
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName, cfg.Env)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize application")
	}

	runErr := a.Run(ctx)
	if runErr != nil {
		zlog.Error().Err(runErr).Msg("Server stopped with error")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		zlog.Error().Err(err).Msg("Failed to release resources")
	}
	if err := shutdownTracer(closeCtx); err != nil {
		zlog.Error().Err(err).Msg("Failed to flush traces")
	}

	if runErr != nil {
		os.Exit(1)
	}
	zlog.Info().Msg("Server exiting")
}
