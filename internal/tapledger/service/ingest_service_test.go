package service_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jmrettig/tapledger/internal/tapledger/chain"
	"github.com/jmrettig/tapledger/internal/tapledger/service"
	"github.com/jmrettig/tapledger/internal/tapledger/store"
	"github.com/jmrettig/tapledger/internal/tapledger/store/memory"
	"github.com/jmrettig/tapledger/internal/tapledger/types"
)

func newTestIngest(knownReaders []string) (*service.IngestService, *memory.LedgerStore) {
	readers := memory.NewReaderStore(knownReaders)
	registry := service.NewReaderRegistry(readers)
	ledger := memory.NewLedgerStore(chain.SHA256{})
	return service.NewIngestService(registry, ledger), ledger
}

func TestRecord_AppendsChainedRow(t *testing.T) {
	svc, ledger := newTestIngest([]string{"reader-01"})
	ctx := context.Background()

	resp, err := svc.Record(ctx, types.TapRequest{
		ReaderID:  "reader-01",
		CardUID:   "AABBCCDD",
		EventKind: "time_in",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !resp.OK || !resp.Known {
		t.Errorf("expected ok=true known=true, got %+v", resp)
	}
	if resp.SequenceID != 1 {
		t.Errorf("expected sequence_id=1, got %d", resp.SequenceID)
	}

	rows := ledger.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(rows))
	}
	if !bytes.Equal(rows[0].PrevHash, chain.Genesis()) {
		t.Error("first row must link to the genesis hash")
	}
	if len(rows[0].SelfHash) == 0 {
		t.Error("expected a computed self hash")
	}
}

func TestRecord_SequentialTapsLink(t *testing.T) {
	svc, ledger := newTestIngest([]string{"reader-01"})
	ctx := context.Background()

	for _, kind := range []string{"time_in", "break_start", "break_end", "time_out"} {
		if _, err := svc.Record(ctx, types.TapRequest{
			ReaderID:  "reader-01",
			CardUID:   "AABBCCDD",
			EventKind: kind,
		}); err != nil {
			t.Fatalf("Record %s: %v", kind, err)
		}
	}

	rows := ledger.Rows()
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if !bytes.Equal(rows[i].PrevHash, rows[i-1].SelfHash) {
			t.Errorf("row %d prev_hash does not match row %d self_hash", rows[i].SequenceID, rows[i-1].SequenceID)
		}
	}

	report := chain.Validate(chain.SHA256{}, toReportRows(rows))
	if !report.IsValid {
		t.Errorf("expected a valid chain, got %+v", report)
	}
}

func TestRecord_UnknownReaderRejected(t *testing.T) {
	svc, ledger := newTestIngest([]string{"reader-01"})

	resp, err := svc.Record(context.Background(), types.TapRequest{
		ReaderID:  "rogue-reader",
		CardUID:   "AABBCCDD",
		EventKind: "time_in",
	})
	if !errors.Is(err, service.ErrUnknownReader) {
		t.Fatalf("expected ErrUnknownReader, got %v", err)
	}
	if resp.Known {
		t.Error("expected known=false")
	}
	if len(ledger.Rows()) != 0 {
		t.Error("unknown reader must not append to the ledger")
	}
}

func TestRecord_ValidationErrors(t *testing.T) {
	svc, ledger := newTestIngest([]string{"reader-01"})
	ctx := context.Background()

	if _, err := svc.Record(ctx, types.TapRequest{CardUID: "AABBCCDD", EventKind: "time_in"}); !errors.Is(err, service.ErrInvalidReaderID) {
		t.Errorf("missing reader: expected ErrInvalidReaderID, got %v", err)
	}
	if _, err := svc.Record(ctx, types.TapRequest{ReaderID: "reader-01", EventKind: "time_in"}); !errors.Is(err, service.ErrInvalidCardUID) {
		t.Errorf("missing card: expected ErrInvalidCardUID, got %v", err)
	}
	if _, err := svc.Record(ctx, types.TapRequest{ReaderID: "reader-01", CardUID: "AABBCCDD", EventKind: "lunch"}); !errors.Is(err, service.ErrInvalidEventKind) {
		t.Errorf("bad kind: expected ErrInvalidEventKind, got %v", err)
	}

	if len(ledger.Rows()) != 0 {
		t.Error("validation failures must not append to the ledger")
	}
}

func TestRecord_DeviceTimestampUsed(t *testing.T) {
	svc, ledger := newTestIngest([]string{"reader-01"})

	_, err := svc.Record(context.Background(), types.TapRequest{
		ReaderID:   "reader-01",
		CardUID:    "AABBCCDD",
		EventKind:  "time_in",
		OccurredAt: "2026-03-02T09:00:00Z",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	row := ledger.Rows()[0]
	if row.OccurredAt.Year() != 2026 || row.OccurredAt.Hour() != 9 {
		t.Errorf("expected device timestamp preserved, got %v", row.OccurredAt)
	}
	if row.ReceivedAt.IsZero() {
		t.Error("expected server receive time recorded")
	}
}

func toReportRows(rows []store.RawLedgerRecord) []chain.Row {
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
