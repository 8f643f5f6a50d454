package httpapi

import (
	"time"

	"github.com/jmrettig/tapledger/internal/tapledger/store"
)

// ── Attendance ───────────────────────────────────────────────────────────────

type attendanceView struct {
	ID               int64  `json:"id"`
	EmployeeID       string `json:"employee_id"`
	EventKind        string `json:"event_kind"`
	OccurredAt       string `json:"occurred_at"`
	ReaderID         string `json:"reader_id"`
	Verified         bool   `json:"verified"`
	SourceSequenceID int64  `json:"source_sequence_id"`
}

func toAttendanceView(rec store.AttendanceRecord) attendanceView {
	return attendanceView{
		ID:               rec.ID,
		EmployeeID:       rec.EmployeeID,
		EventKind:        string(rec.EventKind),
		OccurredAt:       rec.OccurredAt.UTC().Format(time.RFC3339),
		ReaderID:         rec.ReaderID,
		Verified:         rec.Verified,
		SourceSequenceID: rec.SourceSequenceID,
	}
}

// ── Corrections ──────────────────────────────────────────────────────────────

type correctionView struct {
	ID              string   `json:"id"`
	EventID         int64    `json:"event_id"`
	OriginalAt      string   `json:"original_at"`
	CorrectedAt     string   `json:"corrected_at"`
	HoursDifference *float64 `json:"hours_difference,omitempty"`
	Reason          string   `json:"reason"`
	Justification   string   `json:"justification"`
	Status          string   `json:"status"`
	RequestedBy     string   `json:"requested_by"`
	ApprovedBy      string   `json:"approved_by,omitempty"`
	RejectionReason string   `json:"rejection_reason,omitempty"`
	RequestedAt     string   `json:"requested_at"`
	ProcessedAt     string   `json:"processed_at,omitempty"`
}

func toCorrectionView(rec store.CorrectionRecord) correctionView {
	v := correctionView{
		ID:              rec.ID,
		EventID:         rec.EventID,
		OriginalAt:      rec.OriginalAt.UTC().Format(time.RFC3339),
		CorrectedAt:     rec.CorrectedAt.UTC().Format(time.RFC3339),
		HoursDifference: rec.HoursDifference,
		Reason:          string(rec.Reason),
		Justification:   rec.Justification,
		Status:          string(rec.Status),
		RequestedBy:     rec.RequestedBy,
		ApprovedBy:      rec.ApprovedBy,
		RejectionReason: rec.RejectionReason,
		RequestedAt:     rec.RequestedAt.UTC().Format(time.RFC3339),
	}
	if rec.ProcessedAt != nil {
		v.ProcessedAt = rec.ProcessedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func toCorrectionViews(recs []store.CorrectionRecord) []correctionView {
	out := make([]correctionView, len(recs))
	for i, r := range recs {
		out[i] = toCorrectionView(r)
	}
	return out
}
