package sqlite_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jmrettig/tapledger/internal/tapledger/chain"
	"github.com/jmrettig/tapledger/internal/tapledger/store"
	sqlitestore "github.com/jmrettig/tapledger/internal/tapledger/store/sqlite"
)

func appendTestTap(t *testing.T, ls *sqlitestore.LedgerStore, kind store.EventKind, at time.Time) store.RawLedgerRecord {
	t.Helper()
	rec, err := ls.Append(context.Background(), store.AppendTap{
		ReaderID:   "reader-01",
		CardUID:    "AABBCCDD",
		EventKind:  kind,
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return rec
}

// ═══════════════════════════════════════════════════════════════════════════
// Append — sequence assignment and hash chaining
// ═══════════════════════════════════════════════════════════════════════════

func TestLedgerStore_Append_AssignsSequentialIDs(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ls := sqlitestore.NewLedgerStore(conn, w, chain.SHA256{})

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r1 := appendTestTap(t, ls, store.TimeIn, base)
	r2 := appendTestTap(t, ls, store.TimeOut, base.Add(8*time.Hour))

	if r1.SequenceID != 1 || r2.SequenceID != 2 {
		t.Errorf("expected sequences 1,2; got %d,%d", r1.SequenceID, r2.SequenceID)
	}
	if !bytes.Equal(r1.PrevHash, chain.Genesis()) {
		t.Error("first row must link to the genesis hash")
	}
	if !bytes.Equal(r2.PrevHash, r1.SelfHash) {
		t.Error("second row must link to the first row's self hash")
	}
}

func TestLedgerStore_Head_EmptyReturnsGenesis(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ls := sqlitestore.NewLedgerStore(conn, w, chain.SHA256{})

	seq, hash, err := ls.Head(context.Background())
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if seq != 0 {
		t.Errorf("expected sequence 0, got %d", seq)
	}
	if !bytes.Equal(hash, chain.Genesis()) {
		t.Error("expected genesis hash for an empty ledger")
	}
}

func TestLedgerStore_ChainValidatesAfterRestartShapedReads(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ls := sqlitestore.NewLedgerStore(conn, w, chain.SHA256{})
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		appendTestTap(t, ls, store.TimeIn, base.Add(time.Duration(i)*time.Minute))
	}

	rows, err := ls.ListRange(ctx, 1, 5)
	if err != nil {
		t.Fatalf("ListRange: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}

	chainRows := make([]chain.Row, len(rows))
	for i, r := range rows {
		chainRows[i] = chain.Row{
			SequenceID: r.SequenceID,
			ReaderID:   r.ReaderID,
			CardUID:    r.CardUID,
			EventKind:  string(r.EventKind),
			OccurredAt: r.OccurredAt,
			PrevHash:   r.PrevHash,
			SelfHash:   r.SelfHash,
		}
	}
	report := chain.Validate(chain.SHA256{}, chainRows)
	if !report.IsValid {
		t.Errorf("expected round-tripped rows to validate, got %+v", report)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Claim / mark / release
// ═══════════════════════════════════════════════════════════════════════════

func TestLedgerStore_Claim_IsExclusive(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ls := sqlitestore.NewLedgerStore(conn, w, chain.SHA256{})
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	appendTestTap(t, ls, store.TimeIn, base)
	appendTestTap(t, ls, store.TimeOut, base.Add(time.Hour))

	first, err := ls.ClaimUnprocessed(ctx, "cycle-a", 10)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 claimed rows, got %d", len(first))
	}

	second, err := ls.ClaimUnprocessed(ctx, "cycle-b", 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("expected an overlapping claim to get nothing, got %d rows", len(second))
	}
}

func TestLedgerStore_Claim_RespectsLimitAndOrder(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ls := sqlitestore.NewLedgerStore(conn, w, chain.SHA256{})
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		appendTestTap(t, ls, store.TimeIn, base.Add(time.Duration(i)*time.Minute))
	}

	rows, err := ls.ClaimUnprocessed(ctx, "cycle-a", 3)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, r := range rows {
		if r.SequenceID != int64(i+1) {
			t.Errorf("expected sequence %d at position %d, got %d", i+1, i, r.SequenceID)
		}
	}
}

func TestLedgerStore_MarkProcessed_RemovesFromPool(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ls := sqlitestore.NewLedgerStore(conn, w, chain.SHA256{})
	ctx := context.Background()

	appendTestTap(t, ls, store.TimeIn, time.Now().UTC())

	rows, err := ls.ClaimUnprocessed(ctx, "cycle-a", 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := ls.MarkProcessed(ctx, "cycle-a", []int64{rows[0].SequenceID}); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	again, err := ls.ClaimUnprocessed(ctx, "cycle-b", 10)
	if err != nil {
		t.Fatalf("re-claim: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("processed row must not be re-claimed, got %d rows", len(again))
	}
}

func TestLedgerStore_MarkProcessed_WrongTokenIgnored(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ls := sqlitestore.NewLedgerStore(conn, w, chain.SHA256{})
	ctx := context.Background()

	appendTestTap(t, ls, store.TimeIn, time.Now().UTC())

	if _, err := ls.ClaimUnprocessed(ctx, "cycle-a", 10); err != nil {
		t.Fatalf("claim: %v", err)
	}
	// A stale holder with a different token cannot finish the row.
	if err := ls.MarkProcessed(ctx, "cycle-stale", []int64{1}); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	rows, err := ls.ListRange(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListRange: %v", err)
	}
	if rows[0].Processed {
		t.Error("row finished by a token that does not hold the claim")
	}
}

func TestLedgerStore_Claim_ExpiredClaimReclaimed(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ls := sqlitestore.NewLedgerStore(conn, w, chain.SHA256{})
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	appendTestTap(t, ls, store.TimeIn, base)
	appendTestTap(t, ls, store.TimeOut, base.Add(8*time.Hour))

	claimed, err := ls.ClaimUnprocessed(ctx, "cycle-dead", 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed rows, got %d", len(claimed))
	}

	// A live claim keeps the rows off limits.
	held, err := ls.ClaimUnprocessed(ctx, "cycle-new", 10)
	if err != nil {
		t.Fatalf("overlapping claim: %v", err)
	}
	if len(held) != 0 {
		t.Fatalf("expected a live claim to block re-claiming, got %d rows", len(held))
	}

	// Age the claim past the abandonment threshold, as if the holding
	// cycle crashed without releasing.
	staleMs := time.Now().UTC().Add(-16 * time.Minute).UnixMilli()
	if _, err := conn.ExecContext(ctx,
		`UPDATE raw_ledger_events SET claimed_at_ms = ? WHERE claim_token = 'cycle-dead';`,
		staleMs,
	); err != nil {
		t.Fatalf("age claim: %v", err)
	}

	reclaimed, err := ls.ClaimUnprocessed(ctx, "cycle-new", 10)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(reclaimed) != 2 {
		t.Fatalf("expected the abandoned rows to be re-claimable, got %d", len(reclaimed))
	}

	// The dead cycle's token lost the claim and can no longer finish rows.
	if err := ls.MarkProcessed(ctx, "cycle-dead", []int64{1, 2}); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	rows, err := ls.ListRange(ctx, 1, 2)
	if err != nil {
		t.Fatalf("ListRange: %v", err)
	}
	for _, r := range rows {
		if r.Processed {
			t.Errorf("sequence %d finished by a token that lost its claim", r.SequenceID)
		}
	}
}

func TestLedgerStore_ReleaseClaim_ReturnsRowsToPool(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ls := sqlitestore.NewLedgerStore(conn, w, chain.SHA256{})
	ctx := context.Background()

	appendTestTap(t, ls, store.TimeIn, time.Now().UTC())

	rows, err := ls.ClaimUnprocessed(ctx, "cycle-a", 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := ls.ReleaseClaim(ctx, "cycle-a", []int64{rows[0].SequenceID}, false); err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}

	again, err := ls.ClaimUnprocessed(ctx, "cycle-b", 10)
	if err != nil {
		t.Fatalf("re-claim: %v", err)
	}
	if len(again) != 1 {
		t.Errorf("released row should be claimable again, got %d rows", len(again))
	}
}

func TestLedgerStore_ReleaseClaim_FlaggedRowsExcluded(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ls := sqlitestore.NewLedgerStore(conn, w, chain.SHA256{})
	ctx := context.Background()

	appendTestTap(t, ls, store.TimeIn, time.Now().UTC())

	rows, err := ls.ClaimUnprocessed(ctx, "cycle-a", 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := ls.ReleaseClaim(ctx, "cycle-a", []int64{rows[0].SequenceID}, true); err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}

	again, err := ls.ClaimUnprocessed(ctx, "cycle-b", 10)
	if err != nil {
		t.Fatalf("re-claim: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("flagged row must sit in the manual-review queue, got %d rows", len(again))
	}

	listed, err := ls.ListRange(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListRange: %v", err)
	}
	if !listed[0].Flagged {
		t.Error("expected flagged=true")
	}
	if listed[0].Processed {
		t.Error("flagged row must stay unprocessed")
	}
}
