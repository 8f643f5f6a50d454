package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/jmrettig/tapledger/internal/db"
	"github.com/jmrettig/tapledger/internal/tapledger/store"
)

type BadgeStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewBadgeStore(db *sql.DB, writer *dbpkg.Worker) *BadgeStore {
	return &BadgeStore{db: db, writer: writer}
}

func (s *BadgeStore) ResolveActive(ctx context.Context, cardUID string, at time.Time) (string, bool, error) {
	atMs := at.UTC().UnixMilli()

	var employeeID string
	err := s.db.QueryRowContext(ctx, `
SELECT employee_id
FROM badges
WHERE card_uid = ?
  AND status = 'active'
  AND issued_at_ms <= ?
  AND (expires_at_ms IS NULL OR expires_at_ms > ?);
`, cardUID, atMs, atMs).Scan(&employeeID)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ResolveActive query: %w", err)
	}
	return employeeID, true, nil
}

func (s *BadgeStore) TouchUsage(ctx context.Context, cardUID string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE badges
SET use_count = use_count + 1,
    updated_at_ms = ?
WHERE card_uid = ?;
`, time.Now().UTC().UnixMilli(), cardUID); err != nil {
			return fmt.Errorf("TouchUsage: %w", err)
		}
		return nil
	})
}

func (s *BadgeStore) Issue(ctx context.Context, rec store.BadgeRecord, actor string) error {
	now := time.Now().UTC()
	nowMs := now.UnixMilli()
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = now
	}

	var expiresMs any
	if rec.ExpiresAt != nil {
		expiresMs = rec.ExpiresAt.UTC().UnixMilli()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// One active badge per employee: retire any other active badge
		// for this employee inside the same transaction.
		rows, err := tx.QueryContext(ctx, `
SELECT card_uid FROM badges
WHERE employee_id = ? AND status = 'active' AND card_uid != ?;
`, rec.EmployeeID, rec.CardUID)
		if err != nil {
			return fmt.Errorf("Issue select prior: %w", err)
		}
		var prior []string
		for rows.Next() {
			var uid string
			if err := rows.Scan(&uid); err != nil {
				rows.Close()
				return fmt.Errorf("Issue scan prior: %w", err)
			}
			prior = append(prior, uid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("Issue prior rows: %w", err)
		}

		for _, uid := range prior {
			if _, err := tx.ExecContext(ctx, `
UPDATE badges
SET status = 'deactivated', deactivated_at_ms = ?, updated_at_ms = ?
WHERE card_uid = ?;
`, nowMs, nowMs, uid); err != nil {
				return fmt.Errorf("Issue deactivate prior: %w", err)
			}
			if err := insertBadgeLog(ctx, tx, uid, rec.EmployeeID, store.BadgeActionReplace, actor, "replaced by "+rec.CardUID, nowMs); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO badges(
  card_uid, employee_id, status, issued_at_ms, expires_at_ms,
  use_count, created_at_ms, updated_at_ms
) VALUES (?, ?, 'active', ?, ?, 0, ?, ?)
ON CONFLICT(card_uid) DO UPDATE SET
  employee_id = excluded.employee_id,
  status = 'active',
  issued_at_ms = excluded.issued_at_ms,
  expires_at_ms = excluded.expires_at_ms,
  deactivated_at_ms = NULL,
  updated_at_ms = excluded.updated_at_ms;
`, rec.CardUID, rec.EmployeeID, rec.IssuedAt.UTC().UnixMilli(), expiresMs, nowMs, nowMs); err != nil {
			return fmt.Errorf("Issue upsert badge: %w", err)
		}

		return insertBadgeLog(ctx, tx, rec.CardUID, rec.EmployeeID, store.BadgeActionIssue, actor, "", nowMs)
	})
}

func (s *BadgeStore) Deactivate(ctx context.Context, cardUID, actor, note string) error {
	return s.transition(ctx, cardUID, store.BadgeDeactivated, store.BadgeActionDeactivate, actor, note)
}

func (s *BadgeStore) Reactivate(ctx context.Context, cardUID, actor, note string) error {
	return s.transition(ctx, cardUID, store.BadgeActive, store.BadgeActionReactivate, actor, note)
}

func (s *BadgeStore) Expire(ctx context.Context, cardUID, actor string) error {
	return s.transition(ctx, cardUID, store.BadgeExpired, store.BadgeActionExpire, actor, "")
}

func (s *BadgeStore) transition(ctx context.Context, cardUID string, status store.BadgeStatus, action store.BadgeAction, actor, note string) error {
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var employeeID string
		err := tx.QueryRowContext(ctx,
			`SELECT employee_id FROM badges WHERE card_uid = ?;`, cardUID,
		).Scan(&employeeID)
		if err == sql.ErrNoRows {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("transition lookup: %w", err)
		}

		var deactivatedMs any
		if status == store.BadgeDeactivated {
			deactivatedMs = nowMs
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE badges
SET status = ?, deactivated_at_ms = ?, updated_at_ms = ?
WHERE card_uid = ?;
`, string(status), deactivatedMs, nowMs, cardUID); err != nil {
			return fmt.Errorf("transition update: %w", err)
		}

		return insertBadgeLog(ctx, tx, cardUID, employeeID, action, actor, note, nowMs)
	})
}

func (s *BadgeStore) Get(ctx context.Context, cardUID string) (store.BadgeRecord, error) {
	var rec store.BadgeRecord
	var status string
	var issuedMs, createdMs, updatedMs int64
	var expiresMs, deactivatedMs sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
SELECT card_uid, employee_id, status, issued_at_ms, expires_at_ms,
       deactivated_at_ms, use_count, created_at_ms, updated_at_ms
FROM badges
WHERE card_uid = ?;
`, cardUID).Scan(
		&rec.CardUID, &rec.EmployeeID, &status, &issuedMs, &expiresMs,
		&deactivatedMs, &rec.UseCount, &createdMs, &updatedMs,
	)

	if err == sql.ErrNoRows {
		return store.BadgeRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.BadgeRecord{}, fmt.Errorf("Get query: %w", err)
	}

	rec.Status = store.BadgeStatus(status)
	rec.IssuedAt = time.UnixMilli(issuedMs).UTC()
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	if expiresMs.Valid {
		t := time.UnixMilli(expiresMs.Int64).UTC()
		rec.ExpiresAt = &t
	}
	if deactivatedMs.Valid {
		t := time.UnixMilli(deactivatedMs.Int64).UTC()
		rec.DeactivatedAt = &t
	}
	return rec, nil
}

func (s *BadgeStore) History(ctx context.Context, cardUID string) ([]store.BadgeLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT entry_id, card_uid, employee_id, action, actor, note, at_ms
FROM badge_issue_log
WHERE card_uid = ?
ORDER BY at_ms ASC;
`, cardUID)
	if err != nil {
		return nil, fmt.Errorf("History query: %w", err)
	}
	defer rows.Close()

	var out []store.BadgeLogEntry
	for rows.Next() {
		var e store.BadgeLogEntry
		var action string
		var note sql.NullString
		var atMs int64
		if err := rows.Scan(&e.EntryID, &e.CardUID, &e.EmployeeID, &action, &e.Actor, &note, &atMs); err != nil {
			return nil, fmt.Errorf("History scan: %w", err)
		}
		e.Action = store.BadgeAction(action)
		if note.Valid {
			e.Note = note.String
		}
		e.At = time.UnixMilli(atMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func insertBadgeLog(ctx context.Context, tx *sql.Tx, cardUID, employeeID string, action store.BadgeAction, actor, note string, atMs int64) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO badge_issue_log(entry_id, card_uid, employee_id, action, actor, note, at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), cardUID, employeeID, string(action), actor, note, atMs); err != nil {
		return fmt.Errorf("insert badge log: %w", err)
	}
	return nil
}
