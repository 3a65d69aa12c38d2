// Package migrate manages the postgres schema of the storefront state store:
// the kv_entries table holding token slots and cart references.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Table records applied versions, kept apart from any other schema sharing
// the database.
const Table = "storefront_schema_migrations"

//go:embed sql/*.sql
var migrationsFS embed.FS

// Status is the kv_entries schema version recorded in Table.
type Status struct {
	Version uint
	Dirty   bool
	// Applied is false on a database no migration has touched yet.
	Applied bool
}

func (s Status) String() string {
	switch {
	case !s.Applied:
		return "kv_entries schema not installed"
	case s.Dirty:
		return fmt.Sprintf("kv_entries schema at version %d (dirty, fix manually)", s.Version)
	default:
		return fmt.Sprintf("kv_entries schema at version %d", s.Version)
	}
}

// migrateLog adapts a *log.Logger to golang-migrate's Logger.
type migrateLog struct {
	logger *log.Logger
}

func (l migrateLog) Printf(format string, v ...any) { l.logger.Printf(format, v...) }
func (l migrateLog) Verbose() bool                  { return false }

// Apply brings the kv_entries schema up to date.
func Apply(ctx context.Context, pool *pgxpool.Pool, logger *log.Logger) error {
	logger = orDiscard(logger)
	return run(ctx, pool, logger, func(m *migrate.Migrate) error {
		before, _ := status(m)
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
		after, err := status(m)
		if err != nil {
			return err
		}
		if after != before {
			logger.Printf("kv_entries schema migrated from version %d to %d", before.Version, after.Version)
		}
		return nil
	})
}

// Rollback reverts the last steps migrations. Rolling back past version 1
// drops kv_entries and with it every stored session.
func Rollback(ctx context.Context, pool *pgxpool.Pool, steps int, logger *log.Logger) error {
	if steps < 1 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	logger = orDiscard(logger)
	return run(ctx, pool, logger, func(m *migrate.Migrate) error {
		if err := m.Steps(-steps); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				return nil
			}
			return fmt.Errorf("migrate down %d: %w", steps, err)
		}
		st, err := status(m)
		if err != nil {
			return err
		}
		logger.Printf("rolled back %d migration(s): %s", steps, st)
		return nil
	})
}

// CurrentStatus reports the applied schema version without changing it.
func CurrentStatus(ctx context.Context, pool *pgxpool.Pool) (Status, error) {
	var out Status
	err := run(ctx, pool, nil, func(m *migrate.Migrate) error {
		st, err := status(m)
		out = st
		return err
	})
	return out, err
}

func status(m *migrate.Migrate) (Status, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read schema version: %w", err)
	}
	return Status{Version: version, Dirty: dirty, Applied: true}, nil
}

func orDiscard(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return logger
}

func run(ctx context.Context, pool *pgxpool.Pool, logger *log.Logger, fn func(*migrate.Migrate) error) error {
	srcDriver, err := iofs.New(migrationsFS, "sql")
	if err != nil {
		return fmt.Errorf("init iofs: %w", err)
	}

	sqlDB, err := sql.Open("pgx", pool.Config().ConnString())
	if err != nil {
		return fmt.Errorf("open sql db: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sql db: %w", err)
	}

	dbDriver, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: Table})
	if err != nil {
		return fmt.Errorf("init db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "pgx", dbDriver)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()
	m.Log = migrateLog{logger: orDiscard(logger)}

	return fn(m)
}
