// Package store persists invoices in a single relational table keyed by a
// generated identifier, with the invoice number as the unique business key.
//
// Two engines are supported behind database/sql:
//   - PostgreSQL via pgx (DATABASE_URL=postgres://...)
//   - SQLite via modernc.org/sqlite (DATABASE_URL=sqlite://<path> or sqlite://:memory:)
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"rechnungen/internal/logger"
)

// Dialect is the SQL engine behind a DB.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DB is an open database handle.
type DB struct {
	*sql.DB
	Dialect Dialect

	pool *pgxpool.Pool
}

// Open connects to the database named by dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*DB, error) {
	const op = "store.Open"
	log := logger.WithComponent("store")

	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		pc, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, WrapStoreError(op, err, "invalid postgres DSN")
		}
		pc.MaxConns = 4
		pc.ConnConfig.RuntimeParams["application_name"] = "rechnungen"

		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(dialCtx, pc)
		if err != nil {
			return nil, WrapStoreError(op, err, "failed to connect to postgres")
		}
		if err := pool.Ping(dialCtx); err != nil {
			pool.Close()
			return nil, WrapStoreError(op, err, "postgres is not reachable")
		}

		log.Info().Str("dialect", string(Postgres)).Msg("Connected to database")
		return &DB{DB: stdlib.OpenDBFromPool(pool), Dialect: Postgres, pool: pool}, nil

	case strings.HasPrefix(dsn, "sqlite://"), dsn == ":memory:":
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, WrapStoreError(op, err, "failed to create database directory")
			}
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, WrapStoreError(op, err, "failed to open sqlite database")
		}
		// A single connection keeps :memory: databases alive and serializes writers.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, WrapStoreError(op, err, "sqlite is not usable")
		}

		log.Info().Str("dialect", string(SQLite)).Str("path", path).Msg("Connected to database")
		return &DB{DB: db, Dialect: SQLite}, nil
	}

	return nil, WrapStoreError(op, ErrUnsupportedDSN, fmt.Sprintf("%.12s...", dsn))
}

// Close closes the handle and the underlying pool.
func (db *DB) Close() error {
	err := db.DB.Close()
	if db.pool != nil {
		db.pool.Close()
	}
	return err
}

// Migrate creates the invoice table if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	const op = "DB.Migrate"

	schema := sqliteSchema
	if db.Dialect == Postgres {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return WrapStoreError(op, err, "failed to create schema")
		}
	}
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS invoices (
		id               UUID PRIMARY KEY,
		invoice_number   TEXT NOT NULL UNIQUE,
		invoice_date     DATE,
		supplier         TEXT NOT NULL,
		net_amount       NUMERIC(14,2) NOT NULL DEFAULT 0,
		vat_rate         TEXT NOT NULL DEFAULT '19%',
		vat_amount       NUMERIC(14,2) NOT NULL DEFAULT 0,
		gross_amount     NUMERIC(14,2) NOT NULL DEFAULT 0,
		service_period   TEXT,
		source_file_path TEXT,
		status           TEXT NOT NULL DEFAULT 'Neu',
		processed_at     TIMESTAMPTZ NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS invoices_invoice_date_idx ON invoices (invoice_date)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS invoices (
		id               TEXT PRIMARY KEY,
		invoice_number   TEXT NOT NULL UNIQUE,
		invoice_date     DATE,
		supplier         TEXT NOT NULL,
		net_amount       TEXT NOT NULL DEFAULT '0.00',
		vat_rate         TEXT NOT NULL DEFAULT '19%',
		vat_amount       TEXT NOT NULL DEFAULT '0.00',
		gross_amount     TEXT NOT NULL DEFAULT '0.00',
		service_period   TEXT,
		source_file_path TEXT,
		status           TEXT NOT NULL DEFAULT 'Neu',
		processed_at     DATETIME NOT NULL,
		created_at       DATETIME NOT NULL,
		updated_at       DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS invoices_invoice_date_idx ON invoices (invoice_date)`,
}
