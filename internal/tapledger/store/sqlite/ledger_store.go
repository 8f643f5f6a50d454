package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/jmrettig/tapledger/internal/db"
	"github.com/jmrettig/tapledger/internal/tapledger/chain"
	"github.com/jmrettig/tapledger/internal/tapledger/store"
)

// LedgerStore persists the hash-chained raw tap ledger. All writes go
// through the serialized db worker, so sequence assignment and chain
// linking are race-free by construction.
type LedgerStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
	hasher chain.Hasher
}

func NewLedgerStore(db *sql.DB, writer *dbpkg.Worker, hasher chain.Hasher) *LedgerStore {
	return &LedgerStore{db: db, writer: writer, hasher: hasher}
}

func (s *LedgerStore) Append(ctx context.Context, tap store.AppendTap) (store.RawLedgerRecord, error) {
	if tap.ReceivedAt.IsZero() {
		tap.ReceivedAt = time.Now().UTC()
	}

	var rec store.RawLedgerRecord
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		seq, prevHash, err := headTx(ctx, tx)
		if err != nil {
			return err
		}

		rec = store.RawLedgerRecord{
			SequenceID: seq + 1,
			ReaderID:   tap.ReaderID,
			CardUID:    tap.CardUID,
			EventKind:  tap.EventKind,
			OccurredAt: tap.OccurredAt.UTC(),
			ReceivedAt: tap.ReceivedAt.UTC(),
			PrevHash:   prevHash,
		}
		rec.SelfHash = chain.Compute(s.hasher, rec.SequenceID, rec.ReaderID, rec.CardUID, string(rec.EventKind), rec.OccurredAt, rec.PrevHash)

		if _, err := tx.ExecContext(ctx, `
INSERT INTO raw_ledger_events(
  sequence_id, reader_id, card_uid, event_kind,
  occurred_at_ms, received_at_ms, prev_hash, self_hash
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.SequenceID, rec.ReaderID, rec.CardUID, string(rec.EventKind),
			rec.OccurredAt.UnixMilli(), rec.ReceivedAt.UnixMilli(), rec.PrevHash, rec.SelfHash,
		); err != nil {
			return fmt.Errorf("Append insert: %w", err)
		}

		return nil
	})
	if err != nil {
		return store.RawLedgerRecord{}, err
	}
	return rec, nil
}

func (s *LedgerStore) Head(ctx context.Context) (int64, []byte, error) {
	var seq int64
	var selfHash []byte
	err := s.db.QueryRowContext(ctx, `
SELECT sequence_id, self_hash
FROM raw_ledger_events
ORDER BY sequence_id DESC
LIMIT 1;
`).Scan(&seq, &selfHash)

	if err == sql.ErrNoRows {
		return 0, chain.Genesis(), nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("Head query: %w", err)
	}
	return seq, selfHash, nil
}

func headTx(ctx context.Context, tx *sql.Tx) (int64, []byte, error) {
	var seq int64
	var selfHash []byte
	err := tx.QueryRowContext(ctx, `
SELECT sequence_id, self_hash
FROM raw_ledger_events
ORDER BY sequence_id DESC
LIMIT 1;
`).Scan(&seq, &selfHash)

	if err == sql.ErrNoRows {
		return 0, chain.Genesis(), nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("head query: %w", err)
	}
	return seq, selfHash, nil
}

// claimTTL bounds how long a crashed cycle can hold rows hostage: claims
// older than this are treated as abandoned and may be re-claimed.
const claimTTL = 15 * time.Minute

func (s *LedgerStore) ClaimUnprocessed(ctx context.Context, token string, limit int) ([]store.RawLedgerRecord, error) {
	nowMs := time.Now().UTC().UnixMilli()
	staleMs := nowMs - claimTTL.Milliseconds()

	var out []store.RawLedgerRecord
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Single conditional update: only rows nobody else holds a live
		// claim on. Two overlapping cycles can never claim the same row.
		if _, err := tx.ExecContext(ctx, `
UPDATE raw_ledger_events
SET claim_token = ?, claimed_at_ms = ?
WHERE sequence_id IN (
  SELECT sequence_id FROM raw_ledger_events
  WHERE processed = 0 AND flagged = 0
    AND (claim_token IS NULL OR claimed_at_ms < ?)
  ORDER BY sequence_id ASC, received_at_ms ASC
  LIMIT ?
);
`, token, nowMs, staleMs, limit); err != nil {
			return fmt.Errorf("ClaimUnprocessed update: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
SELECT sequence_id, reader_id, card_uid, event_kind,
       occurred_at_ms, received_at_ms, prev_hash, self_hash, processed, flagged
FROM raw_ledger_events
WHERE claim_token = ?
ORDER BY sequence_id ASC, received_at_ms ASC;
`, token)
		if err != nil {
			return fmt.Errorf("ClaimUnprocessed select: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanLedgerRow(rows)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LedgerStore) MarkProcessed(ctx context.Context, token string, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`
UPDATE raw_ledger_events
SET processed = 1, claim_token = NULL, claimed_at_ms = NULL
WHERE claim_token = ? AND sequence_id IN (%s);
`, placeholders(len(seqs)))

		if _, err := tx.ExecContext(ctx, query, seqArgs(token, seqs)...); err != nil {
			return fmt.Errorf("MarkProcessed: %w", err)
		}
		return nil
	})
}

func (s *LedgerStore) ReleaseClaim(ctx context.Context, token string, seqs []int64, flag bool) error {
	if len(seqs) == 0 {
		return nil
	}

	flagVal := 0
	if flag {
		flagVal = 1
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`
UPDATE raw_ledger_events
SET claim_token = NULL,
    claimed_at_ms = NULL,
    flagged = CASE WHEN ? = 1 THEN 1 ELSE flagged END
WHERE claim_token = ? AND sequence_id IN (%s);
`, placeholders(len(seqs)))

		args := make([]any, 0, len(seqs)+2)
		args = append(args, flagVal, token)
		for _, s := range seqs {
			args = append(args, s)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("ReleaseClaim: %w", err)
		}
		return nil
	})
}

func (s *LedgerStore) ListRange(ctx context.Context, from, to int64) ([]store.RawLedgerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT sequence_id, reader_id, card_uid, event_kind,
       occurred_at_ms, received_at_ms, prev_hash, self_hash, processed, flagged
FROM raw_ledger_events
WHERE sequence_id >= ? AND sequence_id <= ?
ORDER BY sequence_id ASC;
`, from, to)
	if err != nil {
		return nil, fmt.Errorf("ListRange query: %w", err)
	}
	defer rows.Close()

	var out []store.RawLedgerRecord
	for rows.Next() {
		rec, err := scanLedgerRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanLedgerRow(rows *sql.Rows) (store.RawLedgerRecord, error) {
	var rec store.RawLedgerRecord
	var kind string
	var occurredMs, receivedMs int64
	var processed, flagged int

	if err := rows.Scan(
		&rec.SequenceID, &rec.ReaderID, &rec.CardUID, &kind,
		&occurredMs, &receivedMs, &rec.PrevHash, &rec.SelfHash, &processed, &flagged,
	); err != nil {
		return store.RawLedgerRecord{}, fmt.Errorf("scan ledger row: %w", err)
	}

	rec.EventKind = store.EventKind(kind)
	rec.OccurredAt = time.UnixMilli(occurredMs).UTC()
	rec.ReceivedAt = time.UnixMilli(receivedMs).UTC()
	rec.Processed = processed == 1
	rec.Flagged = flagged == 1
	return rec, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func seqArgs(token string, seqs []int64) []any {
	args := make([]any, 0, len(seqs)+1)
	args = append(args, token)
	for _, s := range seqs {
		args = append(args, s)
	}
	return args
}
