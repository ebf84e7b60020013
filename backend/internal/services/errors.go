package services

import (
	"errors"

	"collab-board/backend/internal/models"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrNoUsers           = errors.New("no users available for assignment")
	ErrDuplicateTitle    = errors.New("task title must be unique")
	ErrReservedName      = errors.New("title cannot match column names")
	ErrTitleRequired     = errors.New("title is required")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidPriority   = errors.New("invalid priority")
	ErrInvalidResolution = errors.New("invalid resolution strategy")
)

// ErrTaskBusy means the write kept losing to other writers until the request
// gave up. Retrying later is safe.
var ErrTaskBusy = errors.New("task is busy, retry")

// ConflictError is returned by AttemptUpdate when the client's version is
// stale. It is an expected outcome, not a failure: the caller shows both
// states and re-submits through ResolveConflict.
type ConflictError struct {
	Current  models.Task
	Proposed models.TaskFields
}

func (e *ConflictError) Error() string {
	return "version conflict"
}

// AsConflict unwraps a *ConflictError from err.
func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	ok := errors.As(err, &conflict)
	return conflict, ok
}
