package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evanmoreau/loginshield/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres may still be starting when the engine boots under an
// orchestrator, so the initial ping retries before giving up.
const (
	connectAttempts   = 5
	connectRetryDelay = 2 * time.Second
	connectTimeout    = 10 * time.Second
)

type DB struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewConnection(cfg *config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	var pingErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		pingErr = pool.Ping(pingCtx)
		cancel()

		if pingErr == nil {
			break
		}

		logger.Warn("database not ready",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", connectAttempts),
			slog.Any("error", pingErr),
		)
		if attempt < connectAttempts {
			time.Sleep(connectRetryDelay)
		}
	}
	if pingErr != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable after %d attempts: %w", connectAttempts, pingErr)
	}

	logger.Info("database connection established",
		slog.Int("max_conns", int(cfg.MaxConns)),
		slog.Int("min_conns", int(cfg.MinConns)),
	)

	return &DB{Pool: pool, logger: logger}, nil
}

func (db *DB) Close() {
	db.logger.Info("closing database connection pool")
	db.Pool.Close()
}

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (db *DB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}
