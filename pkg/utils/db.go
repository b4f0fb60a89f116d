package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Drivers registered by the storage package imports.
const (
	DriverPgx    = "pgx"
	DriverSQLite = "sqlite"
)

// DBPoolConfig controls database/sql pool behavior. Zero fields take the
// driver defaults from ForDriver.
type DBPoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration

	// SQLite only; applied as a busy_timeout pragma on every connection.
	BusyTimeout time.Duration
}

// ForDriver fills zero fields. SQLite gets a single connection that is never
// recycled: there is one writer, and an in-memory database lives exactly as
// long as its connection.
func (c DBPoolConfig) ForDriver(driver string) DBPoolConfig {
	out := c
	if out.PingTimeout <= 0 {
		out.PingTimeout = 5 * time.Second
	}

	if driver == DriverSQLite {
		if out.MaxOpenConns <= 0 {
			out.MaxOpenConns = 1
		}
		if out.MaxIdleConns <= 0 {
			out.MaxIdleConns = out.MaxOpenConns
		}
		if out.BusyTimeout <= 0 {
			out.BusyTimeout = 5 * time.Second
		}
		return out
	}

	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = 10
	}
	if out.MaxIdleConns <= 0 {
		out.MaxIdleConns = out.MaxOpenConns
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	return out
}

// sqliteDSN appends the busy_timeout pragma unless the DSN already sets one.
func sqliteDSN(dsn string, busy time.Duration) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", dsn, sep, busy.Milliseconds())
}

// OpenDB opens a database/sql handle for driverName (DriverPgx or
// DriverSQLite) and verifies connectivity. dsn must not be logged.
func OpenDB(ctx context.Context, driverName, dsn string, pool DBPoolConfig) (*sql.DB, error) {
	pool = pool.ForDriver(driverName)
	if driverName == DriverSQLite {
		dsn = sqliteDSN(dsn, pool.BusyTimeout)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := HealthCheck(ctx, db, pool.PingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// HealthCheck pings the DB with a timeout.
func HealthCheck(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("db ping failed: %w", err)
	}
	return nil
}

// TxFunc is the unit of work executed inside a transaction.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// WithTx runs fn inside a transaction. An error or panic from fn rolls back;
// a failed rollback is joined onto fn's error.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("commit tx: %w", cErr)
		}
	}()

	return fn(ctx, tx)
}
