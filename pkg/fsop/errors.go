package fsop

import (
	"errors"
	"fmt"
)

// Sentinel errors for the non-I/O failure classes. I/O failures carry path
// context through PathError instead.
var (
	// ErrAlreadyExists reports a create on a path that is already occupied.
	ErrAlreadyExists = errors.New("destination already exists")

	// ErrMissingFilename reports a destination path with no usable final
	// component, e.g. "/" as a rename target.
	ErrMissingFilename = errors.New("destination path has no filename")

	// ErrNoPendingConflict reports a decision delivered while no conflict
	// is outstanding. This is a caller protocol violation, not an I/O fault.
	ErrNoPendingConflict = errors.New("no pending conflict to resolve")

	// ErrCancelled reports an operation stopped by user request.
	ErrCancelled = errors.New("operation cancelled")
)

// PathError wraps an underlying I/O failure with the source and destination
// paths the failing call was operating on, so the message shown to the user
// names both sides of the transfer.
type PathError struct {
	Op  string // short verb: "copy", "rename", "write temp", ...
	Src string // may be empty for create-style operations
	Dst string
	Err error
}

func (e *PathError) Error() string {
	switch {
	case e.Src == "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Dst, e.Err)
	case e.Dst == "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Src, e.Err)
	default:
		return fmt.Sprintf("%s %s -> %s: %v", e.Op, e.Src, e.Dst, e.Err)
	}
}

func (e *PathError) Unwrap() error { return e.Err }

// NewPathError builds a PathError. It returns nil when err is nil so call
// sites can wrap unconditionally.
func NewPathError(op, src, dst string, err error) error {
	if err == nil {
		return nil
	}
	return &PathError{Op: op, Src: src, Dst: dst, Err: err}
}
