package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmrettig/tapledger/internal/tapledger/store"
)

// BadgeStore is an in-memory badge directory with an immutable action log.
type BadgeStore struct {
	mu     sync.Mutex
	badges map[string]store.BadgeRecord
	log    []store.BadgeLogEntry
}

func NewBadgeStore() *BadgeStore {
	return &BadgeStore{badges: make(map[string]store.BadgeRecord)}
}

func (s *BadgeStore) ResolveActive(_ context.Context, cardUID string, at time.Time) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.badges[cardUID]
	if !ok {
		return "", false, nil
	}
	if !activeAt(b, at) {
		return "", false, nil
	}
	return b.EmployeeID, true, nil
}

func activeAt(b store.BadgeRecord, at time.Time) bool {
	if b.Status != store.BadgeActive {
		return false
	}
	if b.IssuedAt.After(at) {
		return false
	}
	if b.ExpiresAt != nil && !b.ExpiresAt.After(at) {
		return false
	}
	return true
}

func (s *BadgeStore) TouchUsage(_ context.Context, cardUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.badges[cardUID]
	if !ok {
		return nil
	}
	b.UseCount++
	b.UpdatedAt = time.Now().UTC()
	s.badges[cardUID] = b
	return nil
}

func (s *BadgeStore) Issue(_ context.Context, rec store.BadgeRecord, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = now
	}
	rec.Status = store.BadgeActive
	rec.CreatedAt = now
	rec.UpdatedAt = now

	// One active badge per employee: deactivate any prior active badge.
	for uid, b := range s.badges {
		if b.EmployeeID == rec.EmployeeID && b.Status == store.BadgeActive && uid != rec.CardUID {
			b.Status = store.BadgeDeactivated
			b.DeactivatedAt = &now
			b.UpdatedAt = now
			s.badges[uid] = b
			s.appendLog(uid, b.EmployeeID, store.BadgeActionReplace, actor, "replaced by "+rec.CardUID, now)
		}
	}

	s.badges[rec.CardUID] = rec
	s.appendLog(rec.CardUID, rec.EmployeeID, store.BadgeActionIssue, actor, "", now)
	return nil
}

func (s *BadgeStore) Deactivate(_ context.Context, cardUID, actor, note string) error {
	return s.setStatus(cardUID, store.BadgeDeactivated, store.BadgeActionDeactivate, actor, note)
}

func (s *BadgeStore) Reactivate(_ context.Context, cardUID, actor, note string) error {
	return s.setStatus(cardUID, store.BadgeActive, store.BadgeActionReactivate, actor, note)
}

func (s *BadgeStore) Expire(_ context.Context, cardUID, actor string) error {
	return s.setStatus(cardUID, store.BadgeExpired, store.BadgeActionExpire, actor, "")
}

func (s *BadgeStore) setStatus(cardUID string, status store.BadgeStatus, action store.BadgeAction, actor, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.badges[cardUID]
	if !ok {
		return store.ErrNotFound
	}

	now := time.Now().UTC()
	b.Status = status
	b.UpdatedAt = now
	if status == store.BadgeDeactivated {
		b.DeactivatedAt = &now
	}
	if status == store.BadgeActive {
		b.DeactivatedAt = nil
	}
	s.badges[cardUID] = b
	s.appendLog(cardUID, b.EmployeeID, action, actor, note, now)
	return nil
}

func (s *BadgeStore) Get(_ context.Context, cardUID string) (store.BadgeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.badges[cardUID]
	if !ok {
		return store.BadgeRecord{}, store.ErrNotFound
	}
	return b, nil
}

func (s *BadgeStore) History(_ context.Context, cardUID string) ([]store.BadgeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.BadgeLogEntry
	for _, e := range s.log {
		if e.CardUID == cardUID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *BadgeStore) appendLog(cardUID, employeeID string, action store.BadgeAction, actor, note string, at time.Time) {
	s.log = append(s.log, store.BadgeLogEntry{
		EntryID:    uuid.NewString(),
		CardUID:    cardUID,
		EmployeeID: employeeID,
		Action:     action,
		Actor:      actor,
		Note:       note,
		At:         at,
	})
}
