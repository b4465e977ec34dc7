// Package storage provides the SQL repositories for diagnostic records and
// sequence counters. Queries use $n placeholders, which both SQLite and
// Postgres accept.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/vetlab/bloodwork-analyzer/internal/config"
	"github.com/vetlab/bloodwork-analyzer/internal/domain"
	"github.com/vetlab/bloodwork-analyzer/internal/observability"
	"github.com/vetlab/bloodwork-analyzer/internal/storage/migrations"
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Open connects to the configured database and applies pending migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *observability.Logger) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case "sqlite":
		db, err = sql.Open("sqlite3", sqliteDSN(cfg.SQLite))
		if err != nil {
			return nil, domain.StorageError("open sqlite", err)
		}
		// SQLite allows a single writer; an in-memory database also lives
		// only as long as its one connection.
		maxOpen := cfg.SQLite.MaxOpenConns
		if maxOpen < 1 || cfg.SQLite.Path == ":memory:" {
			maxOpen = 1
		}
		db.SetMaxOpenConns(maxOpen)
	case "postgres":
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, domain.StorageError("open postgres", err)
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unsupported database driver %q", cfg.Driver), nil)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, domain.StorageError("ping database", err)
	}

	if err := Migrate(ctx, db, cfg.Driver, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Str("driver", cfg.Driver).Msg("Database ready")
	return db, nil
}

func sqliteDSN(cfg config.SQLiteConfig) string {
	journal := cfg.JournalMode
	if journal == "" {
		journal = "WAL"
	}
	return fmt.Sprintf("file:%s?_journal_mode=%s&_busy_timeout=5000&_foreign_keys=on", cfg.Path, journal)
}

// goose keeps its base FS and dialect in package state.
var migrateMu sync.Mutex

// Migrate runs the embedded migrations for driver ("sqlite" or "postgres").
func Migrate(ctx context.Context, db *sql.DB, driver string, logger *observability.Logger) error {
	var dialect string
	switch driver {
	case "sqlite":
		dialect = "sqlite3"
	case "postgres":
		dialect = "postgres"
	default:
		return domain.ConfigError(fmt.Sprintf("no migrations for driver %q", driver), nil)
	}

	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{logger: logger.WithComponent("migrations")})
	if err := goose.SetDialect(dialect); err != nil {
		return domain.StorageError("set migration dialect", err)
	}
	if err := goose.UpContext(ctx, db, driver); err != nil {
		return domain.StorageError("apply migrations", err)
	}
	return nil
}

type gooseLogger struct {
	logger *observability.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.logger.Debug().Msgf(strings.TrimSuffix(format, "\n"), v...)
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.logger.Fatal().Msgf(strings.TrimSuffix(format, "\n"), v...)
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure from either driver.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
