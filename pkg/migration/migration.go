package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const lockTimeout = 30 * time.Second

// Config points at a directory of golang-migrate files inside an fs.FS.
type Config struct {
	MigrationsPath string
	MigrationsFS   fs.FS
	// MigrationsTable defaults to schema_migrations.
	MigrationsTable string
}

// Migrator applies embedded migrations through an existing pgx pool.
type Migrator struct {
	config Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewMigrator(config Config, pool *pgxpool.Pool, logger *zap.Logger) *Migrator {
	if config.MigrationsTable == "" {
		config.MigrationsTable = "schema_migrations"
	}
	return &Migrator{
		config: config,
		pool:   pool,
		logger: logger.Named("Migrator"),
	}
}

// Up applies every pending migration. No pending migrations is not an error.
func (m *Migrator) Up() error {
	migrator, err := m.createMigrator()
	if err != nil {
		return err
	}
	defer m.close(migrator)

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := migrator.Version()
	m.logger.Info("Database migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Down rolls back the given number of migrations, or all of them when steps <= 0.
func (m *Migrator) Down(steps int) error {
	migrator, err := m.createMigrator()
	if err != nil {
		return err
	}
	defer m.close(migrator)

	if steps > 0 {
		err = migrator.Steps(-steps)
	} else {
		err = migrator.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}

	version, dirty, _ := migrator.Version()
	m.logger.Info("Database migrations rolled back", zap.Int("steps", steps), zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Version returns the current version; 0 when nothing has been applied.
func (m *Migrator) Version() (uint, bool, error) {
	migrator, err := m.createMigrator()
	if err != nil {
		return 0, false, err
	}
	defer m.close(migrator)

	version, dirty, err := migrator.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

func (m *Migrator) createMigrator() (*migrate.Migrate, error) {
	db := stdlib.OpenDBFromPool(m.pool)

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: m.config.MigrationsTable,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(m.config.MigrationsFS, m.config.MigrationsPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	migrator.LockTimeout = lockTimeout
	return migrator, nil
}

func (m *Migrator) close(migrator *migrate.Migrate) {
	srcErr, dbErr := migrator.Close()
	if srcErr != nil || dbErr != nil {
		m.logger.Warn("Error closing migrator", zap.NamedError("source_error", srcErr), zap.NamedError("db_error", dbErr))
	}
}
