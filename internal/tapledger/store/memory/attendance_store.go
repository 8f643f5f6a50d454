package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jmrettig/tapledger/internal/tapledger/store"
)

// AttendanceStore is an in-memory insert-only attendance event store.
type AttendanceStore struct {
	mu     sync.Mutex
	nextID int64
	events []store.AttendanceRecord
	bySeq  map[int64]int64
}

func NewAttendanceStore() *AttendanceStore {
	return &AttendanceStore{bySeq: make(map[int64]int64)}
}

func (s *AttendanceStore) Append(_ context.Context, rec store.AttendanceRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotent per source sequence, mirroring the sqlite store's
	// ON CONFLICT DO NOTHING: a repeated append lands on the existing row.
	if id, dup := s.bySeq[rec.SourceSequenceID]; dup {
		return id, nil
	}

	s.nextID++
	rec.ID = s.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, rec)
	s.bySeq[rec.SourceSequenceID] = rec.ID
	return rec.ID, nil
}

func (s *AttendanceStore) GetByID(_ context.Context, id int64) (store.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events {
		if e.ID == id {
			return e, nil
		}
	}
	return store.AttendanceRecord{}, store.ErrNotFound
}

func (s *AttendanceStore) ListByEmployee(_ context.Context, employeeID string, from, to time.Time) ([]store.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.AttendanceRecord
	for _, e := range s.events {
		if e.EmployeeID != employeeID {
			continue
		}
		if !from.IsZero() && e.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.OccurredAt.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Events returns a copy of all stored events. Test-only helper.
func (s *AttendanceStore) Events() []store.AttendanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.AttendanceRecord, len(s.events))
	copy(out, s.events)
	return out
}
