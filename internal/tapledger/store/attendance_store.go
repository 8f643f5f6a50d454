package store

import (
	"context"
	"time"
)

// AttendanceRecord is a normalized, employee-attributed attendance event
// derived from exactly one raw ledger row. Insert-only: corrections are
// layered on top, never applied in place.
type AttendanceRecord struct {
	ID               int64
	EmployeeID       string
	EventKind        EventKind
	OccurredAt       time.Time
	ReaderID         string
	Verified         bool // hash chain passed for the window this row came from
	SourceSequenceID int64
	CreatedAt        time.Time
}

type AttendanceStore interface {
	// Append persists a derived event and returns its id. At most one
	// attendance row exists per source sequence id; appending a sequence
	// that is already materialized returns the existing row's id, so a
	// reconciliation cycle retried after a partial failure converges
	// instead of erroring.
	Append(ctx context.Context, rec AttendanceRecord) (int64, error)

	GetByID(ctx context.Context, id int64) (AttendanceRecord, error)

	ListByEmployee(ctx context.Context, employeeID string, from, to time.Time) ([]AttendanceRecord, error)
}
