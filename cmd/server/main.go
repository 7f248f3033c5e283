package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/herbtrace/herbtrace/internal/anchor"
	"github.com/herbtrace/herbtrace/internal/auth"
	"github.com/herbtrace/herbtrace/internal/db"
	"github.com/herbtrace/herbtrace/internal/httpapi"
	"github.com/herbtrace/herbtrace/internal/ledger"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn().Str("var", k).Msg("unparseable duration, using default")
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("var", k).Msg("unparseable integer, using default")
	}
	return def
}

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "herbtrace-ingest").Logger()

	// Pretty logging for local dev
	if env("ENV", "dev") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	// Canonical store
	pgURL := env("DATABASE_URL", "")
	if pgURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	pool, err := db.Open(ctx, pgURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure canonical schema")
	}

	// Ledger anchoring is best-effort and optional: with no gateway
	// configured the queue degrades to a no-op and the rest of the
	// system runs unchanged.
	gateway := ledger.New(ledger.Config{
		URL:    env("LEDGER_GATEWAY_URL", ""),
		APIKey: env("LEDGER_API_KEY", ""),
	})
	if gateway == nil {
		log.Info().Msg("ledger gateway not configured, anchoring disabled")
	}

	var writer ledger.Writer
	if gateway != nil {
		writer = gateway
	}
	anchors := anchor.NewQueue(
		writer,
		&anchor.PGAnnotator{DB: pool},
		envDuration("ANCHOR_DELAY", time.Second),
		envInt("ANCHOR_MAX_INFLIGHT", 64),
	)

	// HTTP server setup
	srv := &httpapi.Server{
		DB:              pool,
		Anchors:         anchors,
		RateLimitConfig: httpapi.DefaultRateLimitConfig,
	}

	jwtCfg := auth.JWTCfg{
		HS256Secret: env("JWT_HS256_SECRET", "dev-secret-change-in-production"),
		DevMode:     env("ENV", "dev") == "dev",
	}

	httpAddr := env("HTTP_ADDR", ":8081")
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(jwtCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Give scheduled anchor jobs a short window; anything unfired past
	// the bound is lost, as the at-most-once contract allows.
	if err := anchors.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("anchor queue not drained before shutdown")
	}

	log.Info().Msg("server stopped")
}
