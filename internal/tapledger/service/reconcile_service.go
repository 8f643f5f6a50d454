package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmrettig/tapledger/internal/tapledger/chain"
	"github.com/jmrettig/tapledger/internal/tapledger/store"
)

// ReconcileConfig tunes a reconciliation cycle.
type ReconcileConfig struct {
	// DedupWindow is the tolerance within which two taps from the same
	// reader/card/kind are treated as one device retransmission.
	DedupWindow time.Duration

	// BatchLimit caps how many raw rows one cycle claims.
	BatchLimit int
}

type DedupStats struct {
	DuplicateCount int `json:"duplicate_count"`
}

type ProcessingStats struct {
	EventsCreated   int `json:"events_created"`
	UnresolvedCount int `json:"unresolved_count"`
}

// ReconcileResult is the structured outcome of one cycle. Routine
// conditions (duplicates, gaps, unresolved badges) are counted here and
// never surfaced as errors; only infrastructure failures are.
type ReconcileResult struct {
	PolledCount int             `json:"polled_count"`
	Dedup       DedupStats      `json:"deduplication_stats"`
	Processing  ProcessingStats `json:"processing_stats"`
	Chain       chain.Report    `json:"hash_chain_validation"`
}

// ReconcileService turns raw ledger rows into attendance events.
type ReconcileService struct {
	ledger     store.LedgerStore
	attendance store.AttendanceStore
	badges     store.BadgeStore
	hasher     chain.Hasher
	cfg        ReconcileConfig
	logger     *zap.Logger
}

func NewReconcileService(
	ledger store.LedgerStore,
	attendance store.AttendanceStore,
	badges store.BadgeStore,
	hasher chain.Hasher,
	cfg ReconcileConfig,
	logger *zap.Logger,
) *ReconcileService {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 500
	}
	return &ReconcileService{
		ledger:     ledger,
		attendance: attendance,
		badges:     badges,
		hasher:     hasher,
		cfg:        cfg,
		logger:     logger,
	}
}

// ProcessLedgerEvents runs one reconciliation cycle:
//
//  1. claim unprocessed rows ordered by sequence id (ties by received_at);
//  2. validate the hash chain over the full claimed window;
//  3. hold back rows whose hashes failed — they stay unprocessed and are
//     flagged for manual review, never silently repaired;
//  4. collapse adjacent retransmissions of the same reader/card/kind;
//  5. resolve each surviving card against the badge directory at tap time;
//  6. materialize one attendance event per surviving, resolved row.
//
// The call is idempotent: processed rows are never re-claimed, and
// materialization maps a repeated source sequence onto its existing
// attendance event, so a cycle retried after a partial failure finishes
// the stranded rows rather than erroring on them.
func (s *ReconcileService) ProcessLedgerEvents(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult

	token := uuid.NewString()
	rows, err := s.ledger.ClaimUnprocessed(ctx, token, s.cfg.BatchLimit)
	if err != nil {
		return result, fmt.Errorf("claim unprocessed: %w", err)
	}

	result.PolledCount = len(rows)
	result.Chain = chain.Report{IsValid: true}
	if len(rows) == 0 {
		return result, nil
	}

	result.Chain = chain.Validate(s.hasher, toChainRows(rows))

	failed := make(map[int64]struct{}, len(result.Chain.FailedSequences))
	for _, seq := range result.Chain.FailedSequences {
		failed[seq] = struct{}{}
	}

	var withheld []int64
	var finished []int64

	// abort runs when an infrastructure error stops the cycle mid-batch.
	// Rows whose outcome is already durable are marked processed so their
	// attendance events are never left behind a live claim; everything
	// else returns to the pool for the next cycle. Best effort — the
	// claim TTL plus idempotent materialization is the backstop if the
	// process dies before abort can run.
	abort := func() {
		if err := s.ledger.MarkProcessed(ctx, token, finished); err != nil {
			s.logger.Error("mark processed on abort failed", zap.Error(err))
		}
		done := make(map[int64]struct{}, len(finished))
		for _, seq := range finished {
			done[seq] = struct{}{}
		}
		pending := make([]int64, 0, len(rows))
		for _, r := range rows {
			if _, ok := done[r.SequenceID]; !ok {
				pending = append(pending, r.SequenceID)
			}
		}
		if err := s.ledger.ReleaseClaim(ctx, token, pending, false); err != nil {
			s.logger.Error("release claim failed", zap.Error(err))
		}
	}

	lastKept := make(map[string]time.Time)

	for _, r := range rows {
		if _, bad := failed[r.SequenceID]; bad {
			withheld = append(withheld, r.SequenceID)
			continue
		}

		key := r.ReaderID + "\x00" + r.CardUID + "\x00" + string(r.EventKind)
		if last, ok := lastKept[key]; ok && absDiff(r.OccurredAt, last) <= s.cfg.DedupWindow {
			result.Dedup.DuplicateCount++
			finished = append(finished, r.SequenceID)
			continue
		}
		lastKept[key] = r.OccurredAt

		employeeID, ok, err := s.badges.ResolveActive(ctx, r.CardUID, r.OccurredAt)
		if err != nil {
			abort()
			return result, fmt.Errorf("resolve badge %s: %w", r.CardUID, err)
		}
		if !ok {
			// Unresolved is routine: counted, excluded from
			// materialization, but still marked processed so it is
			// not retried forever. The raw row stays inspectable.
			result.Processing.UnresolvedCount++
			finished = append(finished, r.SequenceID)
			continue
		}

		if _, err := s.attendance.Append(ctx, store.AttendanceRecord{
			EmployeeID:       employeeID,
			EventKind:        r.EventKind,
			OccurredAt:       r.OccurredAt,
			ReaderID:         r.ReaderID,
			Verified:         true, // hash-failed rows never reach this point
			SourceSequenceID: r.SequenceID,
		}); err != nil {
			abort()
			return result, fmt.Errorf("materialize sequence %d: %w", r.SequenceID, err)
		}

		// Usage counter is advisory; a failed bump must not fail the cycle.
		_ = s.badges.TouchUsage(ctx, r.CardUID)

		result.Processing.EventsCreated++
		finished = append(finished, r.SequenceID)
	}

	if err := s.ledger.MarkProcessed(ctx, token, finished); err != nil {
		abort()
		return result, fmt.Errorf("mark processed: %w", err)
	}
	if err := s.ledger.ReleaseClaim(ctx, token, withheld, true); err != nil {
		return result, fmt.Errorf("flag failed rows: %w", err)
	}

	return result, nil
}

func toChainRows(rows []store.RawLedgerRecord) []chain.Row {
	out := make([]chain.Row, len(rows))
	for i, r := range rows {
		out[i] = chain.Row{
			SequenceID: r.SequenceID,
			ReaderID:   r.ReaderID,
			CardUID:    r.CardUID,
			EventKind:  string(r.EventKind),
			OccurredAt: r.OccurredAt,
			PrevHash:   r.PrevHash,
			SelfHash:   r.SelfHash,
		}
	}
	return out
}

func absDiff(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d
}
