// Package storage opens the SQL database that backs the durable cursor and
// pass history, and applies the embedded schema migrations.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"callsync/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect selects driver and placeholder style.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DB is a migrated database handle plus its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects, verifies connectivity and migrates to the latest schema.
// dsn must not be logged.
func Open(ctx context.Context, dialect Dialect, dsn string, pool utils.DBPoolConfig) (*DB, error) {
	var driver string
	switch dialect {
	case Postgres:
		driver = utils.DriverPgx
	case SQLite:
		driver = utils.DriverSQLite
	default:
		return nil, fmt.Errorf("storage: unsupported dialect %q", dialect)
	}

	sqlDB, err := utils.OpenDB(ctx, driver, dsn, pool)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dialect, err)
	}
	db := &DB{DB: sqlDB, Dialect: dialect}
	if err := db.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies all pending migrations.
func (db *DB) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("storage: migrations fs: %w", err)
	}

	gooseDialect := goose.DialectPostgres
	if db.Dialect == SQLite {
		gooseDialect = goose.DialectSQLite3
	}
	provider, err := goose.NewProvider(gooseDialect, db.DB, fsys)
	if err != nil {
		return fmt.Errorf("storage: migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// Rebind rewrites ? placeholders into the dialect's bind style.
func (db *DB) Rebind(query string) string {
	bind := sqlx.QUESTION
	if db.Dialect == Postgres {
		bind = sqlx.DOLLAR
	}
	return sqlx.Rebind(bind, query)
}
