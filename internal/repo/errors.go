package repo

import "errors"

var (
	// ErrNotFound - no document matches the given id.
	ErrNotFound = errors.New("repo: not found")

	// ErrPreconditionFailed - a conditional update matched the id but not the
	// required current state. The caller lost a compare-and-swap race.
	ErrPreconditionFailed = errors.New("repo: precondition failed")

	// ErrInvalidID - the supplied id is not a valid ObjectID hex string.
	ErrInvalidID = errors.New("repo: invalid id")

	// ErrDuplicate - an insert violated a unique index.
	ErrDuplicate = errors.New("repo: duplicate key")
)
