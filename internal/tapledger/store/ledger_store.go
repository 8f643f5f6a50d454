package store

import (
	"context"
	"time"
)

type EventKind string

const (
	TimeIn     EventKind = "time_in"
	TimeOut    EventKind = "time_out"
	BreakStart EventKind = "break_start"
	BreakEnd   EventKind = "break_end"
)

func (k EventKind) Valid() bool {
	switch k {
	case TimeIn, TimeOut, BreakStart, BreakEnd:
		return true
	}
	return false
}

// RawLedgerRecord is one tap as received from a reader. Rows are immutable
// once written; only the processing bookkeeping (Processed, Flagged) ever
// changes, and never the chained fields.
type RawLedgerRecord struct {
	SequenceID int64
	ReaderID   string
	CardUID    string
	EventKind  EventKind
	OccurredAt time.Time
	ReceivedAt time.Time
	PrevHash   []byte
	SelfHash   []byte
	Processed  bool
	Flagged    bool // held back for manual review after an integrity failure
}

// AppendTap is the ingestion-edge input. Sequence id and hashes are
// assigned by the store inside a single write transaction so the chain
// head can never be raced.
type AppendTap struct {
	ReaderID   string
	CardUID    string
	EventKind  EventKind
	OccurredAt time.Time
	ReceivedAt time.Time
}

// LedgerStore is the append-only raw ledger. The interface deliberately
// exposes no update or delete of event fields — immutability is a property
// of the repository surface, not of the rows.
type LedgerStore interface {
	// Append assigns the next sequence id, links the event to the current
	// chain head, and persists it. Returns the stored record.
	Append(ctx context.Context, tap AppendTap) (RawLedgerRecord, error)

	// Head returns the last sequence id and self-hash, or (0, genesis)
	// for an empty ledger.
	Head(ctx context.Context) (int64, []byte, error)

	// ClaimUnprocessed atomically stamps up to limit unclaimed, unprocessed
	// rows with the cycle token and returns them ordered by sequence id
	// (ties by received time). Two overlapping cycles can never claim the
	// same row. Flagged rows sit in the manual-review queue and are
	// excluded.
	ClaimUnprocessed(ctx context.Context, token string, limit int) ([]RawLedgerRecord, error)

	// MarkProcessed finishes the given claimed rows.
	MarkProcessed(ctx context.Context, token string, seqs []int64) error

	// ReleaseClaim returns claimed rows to the unprocessed pool, optionally
	// flagging them for manual review.
	ReleaseClaim(ctx context.Context, token string, seqs []int64, flag bool) error

	// ListRange returns rows with from <= sequence_id <= to, ordered by
	// sequence id. Read-only; used by chain audits.
	ListRange(ctx context.Context, from, to int64) ([]RawLedgerRecord, error)
}
