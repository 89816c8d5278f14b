package sqlstore

import (
	"github.com/pkg/errors"
)

var (
	// ErrConfiguration is returned when a Handle cannot be opened because its
	// configuration is invalid, or its directory is missing or not writable.
	ErrConfiguration = errors.New("configuration error")
	// ErrStorage is returned when a statement or query fails against the
	// database, or the Handle is closed.
	ErrStorage = errors.New("storage error")
	// ErrCompaction is returned when a step of Compact fails.
	ErrCompaction = errors.New("compaction error")

	errClosed = errors.New("handle is closed")
)

// Error is an error of a Handle operation. It matches (via errors.Is)
// both its Kind and its Cause.
type Error struct {
	// Kind is one of ErrConfiguration, ErrStorage, or ErrCompaction.
	Kind error
	// Op describes the failed operation.
	Op string
	// Cause is the underlying error, if any.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Cause.Error()
}

// Unwrap returns the Kind and Cause of the Error.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func newError(kind error, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}
