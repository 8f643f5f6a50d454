package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmrettig/tapledger/internal/tapledger/store"
)

var (
	ErrMissingCardUID    = errors.New("card_uid is required")
	ErrMissingEmployeeID = errors.New("employee_id is required")
)

// BadgeService fronts the badge directory for the badge-management
// surface. The one-active-badge-per-employee invariant is enforced at
// write time in the store; reconciliation only ever reads.
type BadgeService struct {
	badges store.BadgeStore
}

func NewBadgeService(badges store.BadgeStore) *BadgeService {
	return &BadgeService{badges: badges}
}

func (s *BadgeService) Issue(ctx context.Context, cardUID, employeeID string, expiresAt *time.Time, actor string) error {
	cardUID = strings.TrimSpace(cardUID)
	employeeID = strings.TrimSpace(employeeID)
	if cardUID == "" {
		return ErrMissingCardUID
	}
	if employeeID == "" {
		return ErrMissingEmployeeID
	}
	if strings.TrimSpace(actor) == "" {
		return ErrMissingActor
	}

	return s.badges.Issue(ctx, store.BadgeRecord{
		CardUID:    cardUID,
		EmployeeID: employeeID,
		ExpiresAt:  expiresAt,
	}, actor)
}

func (s *BadgeService) Deactivate(ctx context.Context, cardUID, actor, note string) error {
	if strings.TrimSpace(cardUID) == "" {
		return ErrMissingCardUID
	}
	return s.badges.Deactivate(ctx, cardUID, actor, note)
}

func (s *BadgeService) Reactivate(ctx context.Context, cardUID, actor, note string) error {
	if strings.TrimSpace(cardUID) == "" {
		return ErrMissingCardUID
	}
	return s.badges.Reactivate(ctx, cardUID, actor, note)
}

func (s *BadgeService) Expire(ctx context.Context, cardUID, actor string) error {
	if strings.TrimSpace(cardUID) == "" {
		return ErrMissingCardUID
	}
	return s.badges.Expire(ctx, cardUID, actor)
}

func (s *BadgeService) History(ctx context.Context, cardUID string) ([]store.BadgeLogEntry, error) {
	return s.badges.History(ctx, cardUID)
}
