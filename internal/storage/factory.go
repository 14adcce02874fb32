package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/config"
)

// NewStore opens the configured database, applies migrations and returns the store
func NewStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (*SQLStore, error) {
	var (
		db      *sql.DB
		dialect string
		err     error
	)

	switch {
	case cfg.DatabaseType == "sqlite":
		dialect = DialectSQLite
		db, err = OpenSQLite(cfg.DatabasePath)
	case cfg.IsPostgres():
		dialect = DialectPostgres
		db, err = openPostgres(cfg.PostgresDSN())
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.ConnectionError("failed to ping database", err)
	}

	store := NewSQLStore(db, dialect, logger)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// OpenSQLite opens a SQLite file with foreign keys and a busy timeout so
// concurrent admissions wait on the write lock instead of failing.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", path))
	if err != nil {
		return nil, errors.ConnectionError("failed to open SQLite database", err)
	}
	return db, nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	pgCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, errors.ConfigError("invalid PostgreSQL configuration").WithCause(err)
	}
	db := stdlib.OpenDB(*pgCfg)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}
