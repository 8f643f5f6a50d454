package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmrettig/tapledger/internal/tapledger/store"
)

var (
	ErrJustificationTooShort  = errors.New("justification does not meet the minimum length")
	ErrInvalidReason          = errors.New("correction reason is not one of the allowed codes")
	ErrMissingActor           = errors.New("actor id is required")
	ErrMissingRejectionReason = errors.New("rejecting a correction requires a rejection reason")
	ErrSameActor              = errors.New("a correction must be decided by someone other than the requester")
)

// CorrectionService implements the human-approved amendment workflow.
// Corrections are layered over attendance events; the event row itself is
// never touched, so the full audit trail of every prior state survives.
type CorrectionService struct {
	events           store.AttendanceStore
	corrections      store.CorrectionStore
	minJustification int
}

func NewCorrectionService(events store.AttendanceStore, corrections store.CorrectionStore, minJustification int) *CorrectionService {
	if minJustification <= 0 {
		minJustification = 20
	}
	return &CorrectionService{
		events:           events,
		corrections:      corrections,
		minJustification: minJustification,
	}
}

// Request creates a pending correction for an attendance event. The
// event's current time is snapshotted so later reads of the correction
// are self-contained even as more corrections stack up.
func (s *CorrectionService) Request(
	ctx context.Context,
	eventID int64,
	correctedAt time.Time,
	reason store.CorrectionReason,
	justification string,
	requestedBy string,
) (store.CorrectionRecord, error) {
	if strings.TrimSpace(requestedBy) == "" {
		return store.CorrectionRecord{}, ErrMissingActor
	}
	if !reason.Valid() {
		return store.CorrectionRecord{}, ErrInvalidReason
	}
	if len(strings.TrimSpace(justification)) < s.minJustification {
		return store.CorrectionRecord{}, ErrJustificationTooShort
	}

	ev, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return store.CorrectionRecord{}, fmt.Errorf("load event %d: %w", eventID, err)
	}

	rec := store.CorrectionRecord{
		ID:            uuid.NewString(),
		EventID:       ev.ID,
		OriginalAt:    ev.OccurredAt,
		CorrectedAt:   correctedAt.UTC(),
		Reason:        reason,
		Justification: strings.TrimSpace(justification),
		Status:        store.CorrectionPending,
		RequestedBy:   requestedBy,
		RequestedAt:   time.Now().UTC(),
	}

	if err := s.corrections.Insert(ctx, rec); err != nil {
		return store.CorrectionRecord{}, fmt.Errorf("insert correction: %w", err)
	}
	return rec, nil
}

// Approve finalizes a pending correction. The hours difference
// (corrected minus original) is computed here and stored for payroll
// consumption.
func (s *CorrectionService) Approve(ctx context.Context, correctionID, approvedBy string) (store.CorrectionRecord, error) {
	if strings.TrimSpace(approvedBy) == "" {
		return store.CorrectionRecord{}, ErrMissingActor
	}

	rec, err := s.corrections.GetByID(ctx, correctionID)
	if err != nil {
		return store.CorrectionRecord{}, err
	}
	if rec.RequestedBy == approvedBy {
		return store.CorrectionRecord{}, ErrSameActor
	}

	out := store.CorrectionOutcome{
		Status:          store.CorrectionApproved,
		ActorID:         approvedBy,
		HoursDifference: rec.CorrectedAt.Sub(rec.OriginalAt).Hours(),
		ProcessedAt:     time.Now().UTC(),
	}
	if err := s.corrections.Finalize(ctx, correctionID, out); err != nil {
		return store.CorrectionRecord{}, err
	}

	return s.corrections.GetByID(ctx, correctionID)
}

// Reject finalizes a pending correction as rejected. A rejection reason
// is mandatory.
func (s *CorrectionService) Reject(ctx context.Context, correctionID, actorID, rejectionReason string) (store.CorrectionRecord, error) {
	if strings.TrimSpace(actorID) == "" {
		return store.CorrectionRecord{}, ErrMissingActor
	}
	if strings.TrimSpace(rejectionReason) == "" {
		return store.CorrectionRecord{}, ErrMissingRejectionReason
	}

	rec, err := s.corrections.GetByID(ctx, correctionID)
	if err != nil {
		return store.CorrectionRecord{}, err
	}
	if rec.RequestedBy == actorID {
		return store.CorrectionRecord{}, ErrSameActor
	}

	out := store.CorrectionOutcome{
		Status:          store.CorrectionRejected,
		ActorID:         actorID,
		RejectionReason: strings.TrimSpace(rejectionReason),
		ProcessedAt:     time.Now().UTC(),
	}
	if err := s.corrections.Finalize(ctx, correctionID, out); err != nil {
		return store.CorrectionRecord{}, err
	}

	return s.corrections.GetByID(ctx, correctionID)
}

// EffectiveTime is what payroll and reporting should use: the latest
// approved correction's corrected time, or the original event time when
// no approved correction exists.
func (s *CorrectionService) EffectiveTime(ctx context.Context, eventID int64) (time.Time, error) {
	ev, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return time.Time{}, err
	}

	latest, ok, err := s.corrections.LatestApproved(ctx, eventID)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return latest.CorrectedAt, nil
	}
	return ev.OccurredAt, nil
}

// ListForEvent returns the full correction audit trail for an event.
func (s *CorrectionService) ListForEvent(ctx context.Context, eventID int64) ([]store.CorrectionRecord, error) {
	return s.corrections.ListByEvent(ctx, eventID)
}
