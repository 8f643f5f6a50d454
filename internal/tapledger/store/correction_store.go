package store

import (
	"context"
	"time"
)

type CorrectionStatus string

const (
	CorrectionPending  CorrectionStatus = "pending"
	CorrectionApproved CorrectionStatus = "approved"
	CorrectionRejected CorrectionStatus = "rejected"
)

type CorrectionReason string

const (
	ReasonWrongEntry       CorrectionReason = "wrong_entry"
	ReasonMachineError     CorrectionReason = "machine_error"
	ReasonEmployeeReported CorrectionReason = "employee_reported"
	ReasonManualAdjustment CorrectionReason = "manual_adjustment"
	ReasonOther            CorrectionReason = "other"
)

func (r CorrectionReason) Valid() bool {
	switch r {
	case ReasonWrongEntry, ReasonMachineError, ReasonEmployeeReported, ReasonManualAdjustment, ReasonOther:
		return true
	}
	return false
}

// CorrectionRecord is one amendment layered over an attendance event.
// Every correction is an audit entry; nothing here ever rewrites the
// underlying attendance row.
type CorrectionRecord struct {
	ID              string // uuid
	EventID         int64
	OriginalAt      time.Time // snapshot of the event time at request time
	CorrectedAt     time.Time
	HoursDifference *float64 // set on approval: corrected minus original, in hours
	Reason          CorrectionReason
	Justification   string
	Status          CorrectionStatus
	RequestedBy     string
	ApprovedBy      string
	RejectionReason string
	RequestedAt     time.Time
	ProcessedAt     *time.Time
}

// CorrectionOutcome finalizes a pending correction.
type CorrectionOutcome struct {
	Status          CorrectionStatus // approved or rejected
	ActorID         string
	RejectionReason string
	HoursDifference float64 // meaningful for approvals only
	ProcessedAt     time.Time
}

type CorrectionStore interface {
	Insert(ctx context.Context, rec CorrectionRecord) error

	GetByID(ctx context.Context, id string) (CorrectionRecord, error)

	// Finalize transitions a pending correction to a terminal state in a
	// single conditional update. Returns ErrInvalidTransition when the
	// correction is already terminal, ErrNotFound when it does not exist.
	Finalize(ctx context.Context, id string, out CorrectionOutcome) error

	ListByEvent(ctx context.Context, eventID int64) ([]CorrectionRecord, error)

	// LatestApproved returns the most recently approved correction for an
	// event, with ok=false when none exists.
	LatestApproved(ctx context.Context, eventID int64) (CorrectionRecord, bool, error)
}
