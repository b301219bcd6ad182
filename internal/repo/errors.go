package repo

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on stale optimistic updates and on refused
	// lifecycle transitions.
	ErrConflict = errors.New("conflict")
	// ErrReferenced is returned when a delete would break a reference held
	// by another record.
	ErrReferenced = errors.New("referenced")
)
