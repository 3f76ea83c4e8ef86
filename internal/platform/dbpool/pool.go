package dbpool

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	appLog "github.com/schedulr/project/internal/log"
	"github.com/schedulr/project/internal/platform/config"
)

// New builds a pool from the database section of the config.
func New(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// SchemaEnsurer is implemented by repositories that own tables.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// WaitReady pings the pool and applies every schema until both succeed or
// timeout passes. It returns the last error seen.
func WaitReady(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration, schemas ...SchemaEnsurer) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = pool.Ping(attemptCtx)
		for _, s := range schemas {
			if lastErr != nil {
				break
			}
			lastErr = s.EnsureSchema(attemptCtx)
		}
		cancel()

		if lastErr == nil {
			return nil
		}
		appLog.Info("waiting for postgres readiness", "err", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return lastErr
}
