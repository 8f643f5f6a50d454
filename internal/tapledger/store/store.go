package store

import "errors"

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition is returned when a correction in a terminal
	// state is asked to transition again.
	ErrInvalidTransition = errors.New("invalid correction state transition")
)
