package vtype

import (
	"errors"
	"fmt"
)

// ErrKind enumerates the error kinds defined by the engine's contract
// (spec §7). The FUSE adapter (pkg/vfuse) maps each kind to a
// syscall.Errno in one place.
type ErrKind string

const (
	ErrNoEnt         ErrKind = "NoEnt"
	ErrExists        ErrKind = "Exists"
	ErrNotDir        ErrKind = "NotDir"
	ErrIsDir         ErrKind = "IsDir"
	ErrNotEmpty      ErrKind = "NotEmpty"
	ErrNameTooLong   ErrKind = "NameTooLong"
	ErrLoop          ErrKind = "Loop"
	ErrNoSpace       ErrKind = "NoSpace"
	ErrDquot         ErrKind = "Dquot"
	ErrFbig          ErrKind = "Fbig"
	ErrInvalid       ErrKind = "Invalid"
	ErrPerm          ErrKind = "Perm"
	ErrAccess        ErrKind = "Access"
	ErrRofs          ErrKind = "Rofs"
	ErrXdev          ErrKind = "Xdev"
	ErrIo            ErrKind = "Io"
	ErrIntegrity     ErrKind = "IntegrityError"
	ErrCorrupt       ErrKind = "Corrupt"
	ErrBusy          ErrKind = "Busy"
	ErrCancelled     ErrKind = "Cancelled"
)

// Error wraps an ErrKind with a human-readable message and, optionally,
// an underlying cause.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, vtype.Errf(kind, "")) style matching on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Errf constructs an *Error of the given kind.
func Errf(kind ErrKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind ErrKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the ErrKind from err, returning ErrIo for any error that
// did not originate from this package (an unclassified I/O failure is the
// conservative default for the FUSE adapter).
func KindOf(err error) ErrKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrIo
}
