package database

import "errors"

var (
	// ErrNotFound is returned when a record does not exist. It is never returned for
	// list or count queries, which report zero rows as an empty result.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when an insert violates a uniqueness constraint,
	// such as a second clip with the same filename on a card.
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidTransition is returned when a status update would move a unit
	// backwards or out of a terminal status.
	ErrInvalidTransition = errors.New("invalid status transition")
)
