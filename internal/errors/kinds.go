package errors

import (
	stderrors "errors"
	"fmt"
)

// Error kinds reported by the discovery, metadata and archive stages.
// Callers match them with errors.Is.
var (
	// ErrNotClassifiable marks a file whose leading bytes match no registered signature.
	ErrNotClassifiable = stderrors.New("file content does not match a known event log signature")

	// ErrMetadataUnavailable marks a log whose container could not be opened
	// or in which no record could be decoded.
	ErrMetadataUnavailable = stderrors.New("event log metadata unavailable")

	// ErrIOFailure marks a read, write, rename or delete failure.
	ErrIOFailure = stderrors.New("i/o failure")
)

// IOError records a filesystem operation that failed on a path.
type IOError struct {
	Op   string
	Path string
	Err  error
}

// NewIOError wraps err as an IOError. It returns nil when err is nil.
func NewIOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is makes every IOError match ErrIOFailure.
func (e *IOError) Is(target error) bool {
	return target == ErrIOFailure
}
