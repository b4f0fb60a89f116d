package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"callsync/internal/storage"
	"callsync/pkg/utils"
)

// SQLRepo stores pass history in the storage database.
type SQLRepo struct {
	db *storage.DB
}

func NewSQLRepo(db *storage.DB) *SQLRepo { return &SQLRepo{db: db} }

func (r *SQLRepo) Append(ctx context.Context, rec PassRecord) error {
	skipped, err := json.Marshal(rec.Skipped)
	if err != nil {
		return fmt.Errorf("audit: encode skipped: %w", err)
	}

	return utils.WithTx(ctx, r.db.DB, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, r.db.Rebind(`
INSERT INTO sync_passes (
    id, trigger_source, outcome, failure_kind, failure_message,
    started_at_unix_ms, finished_at_unix_ms, since_unix_ms, next_since_unix_ms,
    fetched, unique_calls, synced, skipped_json, error_count
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			rec.ID, string(rec.Trigger), rec.Outcome, rec.FailureKind, rec.FailureMessage,
			rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(), rec.Since.UnixMilli(), rec.NextSince.UnixMilli(),
			rec.Fetched, rec.Unique, rec.Synced, string(skipped), len(rec.Errors),
		)
		if err != nil {
			return fmt.Errorf("audit: insert pass: %w", err)
		}

		insertErr := r.db.Rebind(`INSERT INTO sync_pass_errors (pass_id, position, correlation_key, error, details) VALUES (?, ?, ?, ?, ?)`)
		for i, e := range rec.Errors {
			if _, err := tx.ExecContext(ctx, insertErr, rec.ID, i, e.Key, e.Error, e.Details); err != nil {
				return fmt.Errorf("audit: insert pass error: %w", err)
			}
		}
		return nil
	})
}

func (r *SQLRepo) Recent(ctx context.Context, limit int) ([]PassRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
SELECT id, trigger_source, outcome, failure_kind, failure_message,
       started_at_unix_ms, finished_at_unix_ms, since_unix_ms, next_since_unix_ms,
       fetched, unique_calls, synced, skipped_json
FROM sync_passes
ORDER BY started_at_unix_ms DESC, id DESC
LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list passes: %w", err)
	}
	defer rows.Close()

	var out []PassRecord
	for rows.Next() {
		var (
			rec                                 PassRecord
			trigger, skipped                    string
			started, finished, since, nextSince int64
		)
		if err := rows.Scan(
			&rec.ID, &trigger, &rec.Outcome, &rec.FailureKind, &rec.FailureMessage,
			&started, &finished, &since, &nextSince,
			&rec.Fetched, &rec.Unique, &rec.Synced, &skipped,
		); err != nil {
			return nil, fmt.Errorf("audit: scan pass: %w", err)
		}
		rec.Trigger = Trigger(trigger)
		rec.StartedAt = time.UnixMilli(started).UTC()
		rec.FinishedAt = time.UnixMilli(finished).UTC()
		rec.Since = time.UnixMilli(since).UTC()
		rec.NextSince = time.UnixMilli(nextSince).UTC()
		if err := json.Unmarshal([]byte(skipped), &rec.Skipped); err != nil {
			return nil, fmt.Errorf("audit: decode skipped: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: list passes: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for i := range out {
		errs, err := r.passErrors(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Errors = errs
	}
	return out, nil
}

func (r *SQLRepo) passErrors(ctx context.Context, passID string) ([]PassError, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
SELECT correlation_key, error, details FROM sync_pass_errors WHERE pass_id = ? ORDER BY position`), passID)
	if err != nil {
		return nil, fmt.Errorf("audit: list pass errors: %w", err)
	}
	defer rows.Close()

	out := []PassError{}
	for rows.Next() {
		var e PassError
		if err := rows.Scan(&e.Key, &e.Error, &e.Details); err != nil {
			return nil, fmt.Errorf("audit: scan pass error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
