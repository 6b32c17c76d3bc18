package database

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"perf-agent-server/internal/config"
	"perf-agent-server/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	connectTimeout = 5 * time.Second
	pingTimeout    = 2 * time.Second
)

// RetryPolicy controls how long Connect keeps trying.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryPolicy waits for a database started alongside the service.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 50, Delay: 3 * time.Second}

// Connect opens a pgx pool and pings it, retrying per policy.
func Connect(ctx context.Context, dsn string, cfg config.DBConfig, policy RetryPolicy, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	poolConfig.MaxConnIdleTime = cfg.IdleTimeout

	logger.Info("Attempting to connect to PostgreSQL",
		zap.Int("max_retries", policy.MaxRetries),
		zap.Duration("retry_delay", policy.Delay),
	)

	var lastErr error
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		pool, err := tryConnect(ctx, poolConfig)
		if err == nil {
			logger.Info("Successfully connected and pinged PostgreSQL", zap.Int("attempt", attempt))
			return pool, nil
		}
		lastErr = err
		logger.Warn("PostgreSQL connection failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", policy.MaxRetries),
			zap.Error(err),
		)
		if attempt == policy.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(policy.Delay):
		}
	}

	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", policy.MaxRetries, lastErr)
}

func tryConnect(ctx context.Context, poolConfig *pgxpool.Config) (*pgxpool.Pool, error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	err = pool.Ping(pingCtx)
	cancel()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

// NewMigrator returns a migrator over the embedded jmeter_plans migrations.
func NewMigrator(pool *pgxpool.Pool, logger *zap.Logger) *migration.Migrator {
	return migration.NewMigrator(migration.Config{
		MigrationsPath: "migrations",
		MigrationsFS:   migrationsFS,
	}, pool, logger)
}

// Migrate applies every pending migration.
func Migrate(pool *pgxpool.Pool, logger *zap.Logger) error {
	return NewMigrator(pool, logger).Up()
}
