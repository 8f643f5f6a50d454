package memory

import (
	"context"
	"sync"

	"github.com/jmrettig/tapledger/internal/tapledger/store"
)

// CorrectionStore is an in-memory correction audit trail.
type CorrectionStore struct {
	mu      sync.Mutex
	byID    map[string]store.CorrectionRecord
	ordered []string // insertion order, for stable listings
}

func NewCorrectionStore() *CorrectionStore {
	return &CorrectionStore{byID: make(map[string]store.CorrectionRecord)}
}

func (s *CorrectionStore) Insert(_ context.Context, rec store.CorrectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[rec.ID] = rec
	s.ordered = append(s.ordered, rec.ID)
	return nil
}

func (s *CorrectionStore) GetByID(_ context.Context, id string) (store.CorrectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return store.CorrectionRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *CorrectionStore) Finalize(_ context.Context, id string, out store.CorrectionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Status != store.CorrectionPending {
		return store.ErrInvalidTransition
	}

	rec.Status = out.Status
	processedAt := out.ProcessedAt
	rec.ProcessedAt = &processedAt
	switch out.Status {
	case store.CorrectionApproved:
		rec.ApprovedBy = out.ActorID
		diff := out.HoursDifference
		rec.HoursDifference = &diff
	case store.CorrectionRejected:
		rec.ApprovedBy = out.ActorID
		rec.RejectionReason = out.RejectionReason
	}

	s.byID[id] = rec
	return nil
}

func (s *CorrectionStore) ListByEvent(_ context.Context, eventID int64) ([]store.CorrectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.CorrectionRecord
	for _, id := range s.ordered {
		if rec := s.byID[id]; rec.EventID == eventID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *CorrectionStore) LatestApproved(_ context.Context, eventID int64) (store.CorrectionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best store.CorrectionRecord
	found := false
	for _, id := range s.ordered {
		rec := s.byID[id]
		if rec.EventID != eventID || rec.Status != store.CorrectionApproved || rec.ProcessedAt == nil {
			continue
		}
		if !found || rec.ProcessedAt.After(*best.ProcessedAt) {
			best = rec
			found = true
		}
	}
	return best, found, nil
}
