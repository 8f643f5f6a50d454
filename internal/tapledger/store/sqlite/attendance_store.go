package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/jmrettig/tapledger/internal/db"
	"github.com/jmrettig/tapledger/internal/tapledger/store"
)

type AttendanceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAttendanceStore(db *sql.DB, writer *dbpkg.Worker) *AttendanceStore {
	return &AttendanceStore{db: db, writer: writer}
}

func (s *AttendanceStore) Append(ctx context.Context, rec store.AttendanceRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	verified := 0
	if rec.Verified {
		verified = 1
	}

	var id int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// UNIQUE(source_sequence_id) backs the at-most-one-attendance-
		// row-per-ledger-row guarantee. A conflict means the row was
		// already materialized by an earlier cycle that died before it
		// could mark the raw row processed; returning the existing id
		// lets the retry finish that row instead of wedging on it.
		res, err := tx.ExecContext(ctx, `
INSERT INTO attendance_events(
  employee_id, event_kind, occurred_at_ms, reader_id,
  verified, source_sequence_id, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(source_sequence_id) DO NOTHING;
`,
			rec.EmployeeID, string(rec.EventKind), rec.OccurredAt.UTC().UnixMilli(), rec.ReaderID,
			verified, rec.SourceSequenceID, rec.CreatedAt.UTC().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("Append insert: %w", err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("Append rows affected: %w", err)
		}
		if inserted == 0 {
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM attendance_events WHERE source_sequence_id = ?;`,
				rec.SourceSequenceID,
			).Scan(&id)
			if err != nil {
				return fmt.Errorf("Append lookup existing: %w", err)
			}
			return nil
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("Append last insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *AttendanceStore) GetByID(ctx context.Context, id int64) (store.AttendanceRecord, error) {
	var rec store.AttendanceRecord
	var kind string
	var occurredMs, createdMs int64
	var verified int

	err := s.db.QueryRowContext(ctx, `
SELECT id, employee_id, event_kind, occurred_at_ms, reader_id,
       verified, source_sequence_id, created_at_ms
FROM attendance_events
WHERE id = ?;
`, id).Scan(
		&rec.ID, &rec.EmployeeID, &kind, &occurredMs, &rec.ReaderID,
		&verified, &rec.SourceSequenceID, &createdMs,
	)

	if err == sql.ErrNoRows {
		return store.AttendanceRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.AttendanceRecord{}, fmt.Errorf("GetByID query: %w", err)
	}

	rec.EventKind = store.EventKind(kind)
	rec.OccurredAt = time.UnixMilli(occurredMs).UTC()
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	rec.Verified = verified == 1
	return rec, nil
}

func (s *AttendanceStore) ListByEmployee(ctx context.Context, employeeID string, from, to time.Time) ([]store.AttendanceRecord, error) {
	fromMs := int64(0)
	if !from.IsZero() {
		fromMs = from.UTC().UnixMilli()
	}
	toMs := int64(1<<62 - 1)
	if !to.IsZero() {
		toMs = to.UTC().UnixMilli()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, employee_id, event_kind, occurred_at_ms, reader_id,
       verified, source_sequence_id, created_at_ms
FROM attendance_events
WHERE employee_id = ? AND occurred_at_ms >= ? AND occurred_at_ms <= ?
ORDER BY occurred_at_ms ASC;
`, employeeID, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("ListByEmployee query: %w", err)
	}
	defer rows.Close()

	var out []store.AttendanceRecord
	for rows.Next() {
		var rec store.AttendanceRecord
		var kind string
		var occurredMs, createdMs int64
		var verified int

		if err := rows.Scan(
			&rec.ID, &rec.EmployeeID, &kind, &occurredMs, &rec.ReaderID,
			&verified, &rec.SourceSequenceID, &createdMs,
		); err != nil {
			return nil, fmt.Errorf("ListByEmployee scan: %w", err)
		}

		rec.EventKind = store.EventKind(kind)
		rec.OccurredAt = time.UnixMilli(occurredMs).UTC()
		rec.CreatedAt = time.UnixMilli(createdMs).UTC()
		rec.Verified = verified == 1
		out = append(out, rec)
	}
	return out, rows.Err()
}
