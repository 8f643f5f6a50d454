package store

import (
	"context"
	"time"
)

type BadgeStatus string

const (
	BadgeActive      BadgeStatus = "active"
	BadgeDeactivated BadgeStatus = "deactivated"
	BadgeExpired     BadgeStatus = "expired"
)

type BadgeAction string

const (
	BadgeActionIssue      BadgeAction = "issue"
	BadgeActionReplace    BadgeAction = "replace"
	BadgeActionDeactivate BadgeAction = "deactivate"
	BadgeActionReactivate BadgeAction = "reactivate"
	BadgeActionExpire     BadgeAction = "expire"
)

type BadgeRecord struct {
	CardUID       string
	EmployeeID    string
	Status        BadgeStatus
	IssuedAt      time.Time
	ExpiresAt     *time.Time
	DeactivatedAt *time.Time
	UseCount      int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BadgeLogEntry is one row of the immutable badge lifecycle log.
type BadgeLogEntry struct {
	EntryID    string // uuid
	CardUID    string
	EmployeeID string
	Action     BadgeAction
	Actor      string
	Note       string
	At         time.Time
}

type BadgeStore interface {
	// ResolveActive maps a card uid to its employee if the badge was
	// active at the given instant (issued before it, not deactivated,
	// not past expiry). ok=false when no active mapping exists.
	ResolveActive(ctx context.Context, cardUID string, at time.Time) (string, bool, error)

	// TouchUsage increments the badge's use counter. Missing badges are
	// a no-op — reconciliation calls this for resolved cards only.
	TouchUsage(ctx context.Context, cardUID string) error

	// Issue registers a badge for an employee. Any previously active
	// badge of the same employee is deactivated in the same transaction
	// (one active badge per employee), and both actions are logged.
	Issue(ctx context.Context, rec BadgeRecord, actor string) error

	Deactivate(ctx context.Context, cardUID, actor, note string) error

	Reactivate(ctx context.Context, cardUID, actor, note string) error

	Expire(ctx context.Context, cardUID, actor string) error

	Get(ctx context.Context, cardUID string) (BadgeRecord, error)

	History(ctx context.Context, cardUID string) ([]BadgeLogEntry, error)
}
