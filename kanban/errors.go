package kanban

import "errors"

var (
	// ErrNotFound means the referenced board, list or card does not exist or
	// is not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput marks payloads rejected before any write.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden means the caller can see the entity but may not change it.
	ErrForbidden = errors.New("forbidden")
)
