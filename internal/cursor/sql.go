package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callsync/internal/storage"
	"callsync/pkg/utils"
)

// SQLStore persists the cursor in Postgres or SQLite (tables from the storage migrations).
type SQLStore struct {
	db         *storage.DB
	lookback   time.Duration
	handledTTL time.Duration
	now        func() time.Time
}

func NewSQLStore(db *storage.DB, lookback, handledTTL time.Duration) *SQLStore {
	if handledTTL <= 0 {
		handledTTL = defaultHandledTTL
	}
	return &SQLStore{db: db, lookback: lookback, handledTTL: handledTTL, now: time.Now}
}

func (s *SQLStore) Since(ctx context.Context) (time.Time, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT since_unix_ms FROM sync_cursor WHERE name = ?`), Name).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return initialSince(s.now(), s.lookback), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cursor: read since: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Advance upserts the watermark and drops the backlog in one transaction; the
// conditional update keeps the watermark forward-only even if two writers race.
func (s *SQLStore) Advance(ctx context.Context, t time.Time) error {
	upsert := s.db.Rebind(`
INSERT INTO sync_cursor (name, since_unix_ms) VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET since_unix_ms = excluded.since_unix_ms
WHERE excluded.since_unix_ms > sync_cursor.since_unix_ms`)
	dropBacklog := s.db.Rebind(`DELETE FROM sync_backlog WHERE name = ?`)

	err := utils.WithTx(ctx, s.db.DB, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsert, Name, t.UnixMilli()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, dropBacklog, Name)
		return err
	})
	if err != nil {
		return fmt.Errorf("cursor: advance: %w", err)
	}
	return nil
}

func (s *SQLStore) Backlog(ctx context.Context) (Backlog, bool, error) {
	var until, resume int64
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT until_unix_ms, resume_unix_ms FROM sync_backlog WHERE name = ?`), Name,
	).Scan(&until, &resume)
	if errors.Is(err, sql.ErrNoRows) {
		return Backlog{}, false, nil
	}
	if err != nil {
		return Backlog{}, false, fmt.Errorf("cursor: read backlog: %w", err)
	}
	return Backlog{Until: time.UnixMilli(until).UTC(), Resume: time.UnixMilli(resume).UTC()}, true, nil
}

func (s *SQLStore) SetBacklog(ctx context.Context, b Backlog) error {
	q := s.db.Rebind(`
INSERT INTO sync_backlog (name, until_unix_ms, resume_unix_ms) VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET until_unix_ms = excluded.until_unix_ms, resume_unix_ms = excluded.resume_unix_ms`)
	if _, err := s.db.ExecContext(ctx, q, Name, b.Until.UnixMilli(), b.Resume.UnixMilli()); err != nil {
		return fmt.Errorf("cursor: set backlog: %w", err)
	}
	return nil
}

func (s *SQLStore) MarkHandled(ctx context.Context, key string) error {
	q := s.db.Rebind(`
INSERT INTO handled_calls (correlation_key, handled_at_unix_ms) VALUES (?, ?)
ON CONFLICT (correlation_key) DO UPDATE SET handled_at_unix_ms = excluded.handled_at_unix_ms`)
	if _, err := s.db.ExecContext(ctx, q, key, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("cursor: mark handled: %w", err)
	}
	return nil
}

func (s *SQLStore) IsHandled(ctx context.Context, key string) (bool, error) {
	cutoff := s.now().Add(-s.handledTTL).UnixMilli()
	var one int
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT 1 FROM handled_calls WHERE correlation_key = ? AND handled_at_unix_ms >= ?`),
		key, cutoff,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cursor: is handled: %w", err)
	}
	return true, nil
}

// PurgeHandled deletes handled keys older than the TTL. Returns rows removed.
func (s *SQLStore) PurgeHandled(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.handledTTL).UnixMilli()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM handled_calls WHERE handled_at_unix_ms < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("cursor: purge handled: %w", err)
	}
	return res.RowsAffected()
}
