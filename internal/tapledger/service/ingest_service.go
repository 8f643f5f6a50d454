package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmrettig/tapledger/internal/tapledger/store"
	"github.com/jmrettig/tapledger/internal/tapledger/types"
)

var (
	ErrInvalidCardUID   = errors.New("card_uid is required")
	ErrInvalidEventKind = errors.New("event_kind must be one of time_in, time_out, break_start, break_end")
	ErrUnknownReader    = errors.New("unknown reader")
)

// IngestService is the ingestion edge: the sole writer of raw ledger rows.
// Sequence assignment and hash chaining happen inside the ledger store's
// write transaction, so taps from many readers serialize into one chain.
type IngestService struct {
	registry *ReaderRegistry
	ledger   store.LedgerStore
}

func NewIngestService(reg *ReaderRegistry, ledger store.LedgerStore) *IngestService {
	return &IngestService{registry: reg, ledger: ledger}
}

func (s *IngestService) Record(ctx context.Context, req types.TapRequest) (types.TapResponse, error) {
	now := time.Now().UTC()

	readerID := strings.TrimSpace(req.ReaderID)
	cardUID := strings.TrimSpace(req.CardUID)
	kind := store.EventKind(strings.TrimSpace(req.EventKind))

	if readerID == "" {
		return types.TapResponse{}, ErrInvalidReaderID
	}
	if cardUID == "" {
		return types.TapResponse{}, ErrInvalidCardUID
	}
	if !kind.Valid() {
		return types.TapResponse{}, ErrInvalidEventKind
	}

	known, err := s.registry.IsKnown(ctx, readerID)
	if err != nil {
		return types.TapResponse{}, err
	}
	_ = s.registry.NoteSeen(ctx, readerID, known)

	if !known {
		resp := types.TapResponse{
			OK:         false,
			Known:      false,
			ReaderID:   readerID,
			ServerTime: now.Format(time.RFC3339Nano),
		}
		return resp, ErrUnknownReader
	}

	occurredAt := now
	if t := parseOptionalTimestamp(req.OccurredAt); t != nil {
		occurredAt = *t
	}

	rec, err := s.ledger.Append(ctx, store.AppendTap{
		ReaderID:   readerID,
		CardUID:    cardUID,
		EventKind:  kind,
		OccurredAt: occurredAt,
		ReceivedAt: now,
	})
	if err != nil {
		return types.TapResponse{}, err
	}

	return types.TapResponse{
		OK:         true,
		Known:      true,
		SequenceID: rec.SequenceID,
		ReaderID:   readerID,
		ServerTime: now.Format(time.RFC3339Nano),
	}, nil
}

// parseOptionalTimestamp attempts to parse a device-reported timestamp.
// Returns nil if the string is empty or unparseable.
func parseOptionalTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	// Try RFC3339 first (most likely from a well-behaved device).
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		u := t.UTC()
		return &u
	}
	// Try RFC3339Nano as a fallback.
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		u := t.UTC()
		return &u
	}
	return nil
}
