package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbitration-service/allocator"
	"arbitration-service/config"
	"arbitration-service/health"
	"arbitration-service/metrics"
	"arbitration-service/queues"
	"arbitration-service/status"
	"arbitration-service/transport"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "source"

func setLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func main() {
	cfg := config.Load()
	setLogger(cfg.LogLevel)
	log.Info().Msgf("Starting allocation server version: %s", version)
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")

	// Preflight required configuration
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	tieBreak, err := allocator.ParseTieBreak(cfg.TieBreak)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration; set ALLOCATOR_TIE_BREAK to initiator or symmetric")
	}

	// Context and shutdown handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	origin := queues.ServerOriginPrefix + "-" + uuid.NewString()[:8]
	conn, err := transport.Open(ctx, cfg, origin)
	if err != nil {
		log.Fatal().Err(err).Str("transport", cfg.Transport).Msg("failed to open transport")
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Msg("transport close failed")
		}
	}()
	if cfg.Transport == config.TransportMemory {
		log.Warn().Msg("memory transport only reaches endpoints in this process")
	}

	controller := allocator.NewController(conn,
		allocator.WithTieBreak(tieBreak),
		allocator.WithSchedulingTimeout(cfg.SchedulingTimeout),
	)

	// Metrics, health and status HTTP server
	mux := http.NewServeMux()
	metrics.Register(mux)
	health.Register(mux, health.Closed(conn.Ready()))
	status.New(controller.Registry()).Register(mux)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting metrics/health/status server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Start subscriber loop
	go func() {
		log.Info().Str("transport", cfg.Transport).Str("origin", origin).Msg("starting subscriber loop")
		if err := conn.Start(ctx, controller.HandleRecord); err != nil {
			// Non-recoverable: without inbound records the server cannot arbitrate
			log.Fatal().Err(err).Msg("subscriber exited with fatal error; shutting down")
		}
	}()

	// Blocks until shutdown; pending allocations are interrupted and published
	if err := controller.Run(ctx); err != nil {
		log.Error().Err(err).Msg("controller stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server graceful shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}
