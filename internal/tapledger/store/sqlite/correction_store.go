package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/jmrettig/tapledger/internal/db"
	"github.com/jmrettig/tapledger/internal/tapledger/store"
)

type CorrectionStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewCorrectionStore(db *sql.DB, writer *dbpkg.Worker) *CorrectionStore {
	return &CorrectionStore{db: db, writer: writer}
}

func (s *CorrectionStore) Insert(ctx context.Context, rec store.CorrectionRecord) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO attendance_corrections(
  correction_id, event_id, original_at_ms, corrected_at_ms,
  reason, justification, status, requested_by, requested_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.ID, rec.EventID, rec.OriginalAt.UTC().UnixMilli(), rec.CorrectedAt.UTC().UnixMilli(),
			string(rec.Reason), rec.Justification, string(rec.Status), rec.RequestedBy, rec.RequestedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("Insert correction: %w", err)
		}
		return nil
	})
}

func (s *CorrectionStore) GetByID(ctx context.Context, id string) (store.CorrectionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT correction_id, event_id, original_at_ms, corrected_at_ms, hours_difference,
       reason, justification, status, requested_by, approved_by, rejection_reason,
       requested_at_ms, processed_at_ms
FROM attendance_corrections
WHERE correction_id = ?;
`, id)

	rec, err := scanCorrection(row)
	if err == sql.ErrNoRows {
		return store.CorrectionRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.CorrectionRecord{}, fmt.Errorf("GetByID query: %w", err)
	}
	return rec, nil
}

// Finalize performs the pending -> terminal transition as one conditional
// update. A correction already in a terminal state is left untouched and
// the caller gets ErrInvalidTransition.
func (s *CorrectionStore) Finalize(ctx context.Context, id string, out store.CorrectionOutcome) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var hoursDiff any
		var rejection any
		if out.Status == store.CorrectionApproved {
			hoursDiff = out.HoursDifference
		}
		if out.RejectionReason != "" {
			rejection = out.RejectionReason
		}

		res, err := tx.ExecContext(ctx, `
UPDATE attendance_corrections
SET status = ?,
    approved_by = ?,
    rejection_reason = ?,
    hours_difference = ?,
    processed_at_ms = ?
WHERE correction_id = ? AND status = 'pending';
`,
			string(out.Status), out.ActorID, rejection, hoursDiff,
			out.ProcessedAt.UTC().UnixMilli(), id,
		)
		if err != nil {
			return fmt.Errorf("Finalize update: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("Finalize rows affected: %w", err)
		}
		if affected == 1 {
			return nil
		}

		// Distinguish missing from already-terminal.
		var status string
		err = tx.QueryRowContext(ctx,
			`SELECT status FROM attendance_corrections WHERE correction_id = ?;`, id,
		).Scan(&status)
		if err == sql.ErrNoRows {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("Finalize status check: %w", err)
		}
		return store.ErrInvalidTransition
	})
}

func (s *CorrectionStore) ListByEvent(ctx context.Context, eventID int64) ([]store.CorrectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT correction_id, event_id, original_at_ms, corrected_at_ms, hours_difference,
       reason, justification, status, requested_by, approved_by, rejection_reason,
       requested_at_ms, processed_at_ms
FROM attendance_corrections
WHERE event_id = ?
ORDER BY requested_at_ms ASC;
`, eventID)
	if err != nil {
		return nil, fmt.Errorf("ListByEvent query: %w", err)
	}
	defer rows.Close()

	var out []store.CorrectionRecord
	for rows.Next() {
		rec, err := scanCorrection(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByEvent scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *CorrectionStore) LatestApproved(ctx context.Context, eventID int64) (store.CorrectionRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT correction_id, event_id, original_at_ms, corrected_at_ms, hours_difference,
       reason, justification, status, requested_by, approved_by, rejection_reason,
       requested_at_ms, processed_at_ms
FROM attendance_corrections
WHERE event_id = ? AND status = 'approved'
ORDER BY processed_at_ms DESC
LIMIT 1;
`, eventID)

	rec, err := scanCorrection(row)
	if err == sql.ErrNoRows {
		return store.CorrectionRecord{}, false, nil
	}
	if err != nil {
		return store.CorrectionRecord{}, false, fmt.Errorf("LatestApproved query: %w", err)
	}
	return rec, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCorrection(row rowScanner) (store.CorrectionRecord, error) {
	var rec store.CorrectionRecord
	var reason, status string
	var originalMs, correctedMs, requestedMs int64
	var hoursDiff sql.NullFloat64
	var approvedBy, rejection sql.NullString
	var processedMs sql.NullInt64

	if err := row.Scan(
		&rec.ID, &rec.EventID, &originalMs, &correctedMs, &hoursDiff,
		&reason, &rec.Justification, &status, &rec.RequestedBy, &approvedBy, &rejection,
		&requestedMs, &processedMs,
	); err != nil {
		return store.CorrectionRecord{}, err
	}

	rec.Reason = store.CorrectionReason(reason)
	rec.Status = store.CorrectionStatus(status)
	rec.OriginalAt = time.UnixMilli(originalMs).UTC()
	rec.CorrectedAt = time.UnixMilli(correctedMs).UTC()
	rec.RequestedAt = time.UnixMilli(requestedMs).UTC()
	if hoursDiff.Valid {
		v := hoursDiff.Float64
		rec.HoursDifference = &v
	}
	if approvedBy.Valid {
		rec.ApprovedBy = approvedBy.String
	}
	if rejection.Valid {
		rec.RejectionReason = rejection.String
	}
	if processedMs.Valid {
		t := time.UnixMilli(processedMs.Int64).UTC()
		rec.ProcessedAt = &t
	}
	return rec, nil
}
