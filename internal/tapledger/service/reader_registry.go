package service

import (
	"context"
	"strings"
	"time"

	"github.com/jmrettig/tapledger/internal/tapledger/store"
)

type ReaderRegistry struct {
	store store.ReaderStore
}

func NewReaderRegistry(st store.ReaderStore) *ReaderRegistry {
	return &ReaderRegistry{store: st}
}

func (r *ReaderRegistry) IsKnown(ctx context.Context, readerID string) (bool, error) {
	readerID = strings.TrimSpace(readerID)
	if readerID == "" {
		return false, nil
	}
	return r.store.IsKnown(ctx, readerID)
}

func (r *ReaderRegistry) NoteSeen(ctx context.Context, readerID string, known bool) error {
	readerID = strings.TrimSpace(readerID)
	if readerID == "" {
		return nil
	}
	return r.store.MarkSeen(ctx, readerID, known, time.Now().UTC())
}
