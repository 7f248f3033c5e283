package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Open creates a new PostgreSQL connection pool
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	// Connection pool configuration
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("postgres connection pool created")

	return pool, nil
}

// EnsureSchema creates the canonical collection table if missing.
// Idempotent, and upgrades are additive only: indexes may be created on
// an existing database, existing rows are never dropped or rekeyed.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS collection (
			id            TEXT PRIMARY KEY,
			collector_id  TEXT NOT NULL,
			category      TEXT NOT NULL,
			quantity      DOUBLE PRECISION NOT NULL,
			photos        JSONB NOT NULL DEFAULT '[]',
			latitude      DOUBLE PRECISION NOT NULL,
			longitude     DOUBLE PRECISION NOT NULL,
			accuracy      DOUBLE PRECISION,
			recorded_at   TIMESTAMPTZ NOT NULL,
			synced_at     TIMESTAMPTZ NOT NULL,
			anchor_ref    TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_collection_recorded_at
			ON collection (recorded_at DESC);
	`)
	if err != nil {
		return err
	}

	log.Info().Msg("canonical schema ensured")
	return nil
}
