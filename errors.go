package compressor

import (
	"errors"
	"fmt"
)

// Kind tags the reason the bootstrap pipeline aborted. Every kind is
// fatal to the process.
type Kind int

const (
	KindUnknown Kind = iota
	KindResourceLimitDenied
	KindConfigUnavailable
	KindConfigMalformed
	KindInterfaceKeyMissing
	KindInterfaceNotFound
	KindAddressUnavailable
	KindCapacityExceeded
	KindAttachmentFailed
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindResourceLimitDenied:
		return "resource limit denied"
	case KindConfigUnavailable:
		return "config unavailable"
	case KindConfigMalformed:
		return "config malformed"
	case KindInterfaceKeyMissing:
		return "interface key missing"
	case KindInterfaceNotFound:
		return "interface not found"
	case KindAddressUnavailable:
		return "address unavailable"
	case KindCapacityExceeded:
		return "capacity exceeded"
	case KindAttachmentFailed:
		return "attachment failed"
	default:
		return "unknown"
	}
}

// Error is the single failure type returned up the bootstrap call
// chain. The caller decides how to exit.
type Error struct {
	Kind Kind
	// Status is the attachment boundary's own status code. Only
	// meaningful for KindAttachmentFailed.
	Status int
	Err    error
}

// Errorf returns an *Error of the given kind wrapping a formatted
// cause.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so callers
// can write errors.Is(err, &compressor.Error{Kind: ...}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// ExitCode returns the process exit status for this failure.
func (e *Error) ExitCode() int {
	if e.Kind == KindAttachmentFailed && e.Status != 0 {
		return e.Status
	}
	return 1
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ExitCode maps any error to a process exit status: 0 for nil, the
// tagged status for an *Error and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ExitCode()
	}
	return 1
}
