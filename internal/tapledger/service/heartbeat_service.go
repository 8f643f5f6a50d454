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
	ErrInvalidReaderID = errors.New("reader_id is required")
)

type HeartbeatService struct {
	heartbeatStore store.HeartbeatStore
	registry       *ReaderRegistry
}

func NewHeartbeatService(hs store.HeartbeatStore, reg *ReaderRegistry) *HeartbeatService {
	return &HeartbeatService{heartbeatStore: hs, registry: reg}
}

func (s *HeartbeatService) Record(ctx context.Context, req types.HeartbeatRequest) (types.HeartbeatResponse, error) {
	readerID := strings.TrimSpace(req.ReaderID)
	if readerID == "" {
		return types.HeartbeatResponse{}, ErrInvalidReaderID
	}

	known, err := s.registry.IsKnown(ctx, readerID)
	if err != nil {
		return types.HeartbeatResponse{}, err
	}
	_ = s.registry.NoteSeen(ctx, readerID, known)

	rec := store.HeartbeatRecord{
		ReceivedAt: time.Now().UTC(),
		Request:    req,
	}

	if err := s.heartbeatStore.UpsertHeartbeat(ctx, readerID, rec); err != nil {
		return types.HeartbeatResponse{}, err
	}

	return types.HeartbeatResponse{
		OK:         true,
		Known:      known,
		ReaderID:   readerID,
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}
