package common

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

type JoinErrorCode int

const (
	// UnsupportedJoinShape indicates the join cannot be served by the perfect
	// hash path (non-integer range, rowid inner column, incompatible
	// dictionaries, untranslatable BW_EQ null). The caller must pick another
	// join algorithm.
	UnsupportedJoinShape JoinErrorCode = iota
	// TooManyHashEntries indicates the key domain needs more than MaxHashEntries
	// buckets. There is no smaller valid table for the same domain.
	TooManyHashEntries
	// FailedToFetchColumn indicates the storage layer could not supply a
	// fragment of the inner column.
	FailedToFetchColumn
	// OutOfDeviceMemory indicates a device allocation for a replica failed.
	OutOfDeviceMemory
	// DuplicateObjectError indicates an attempt to create a table or
	// dictionary that already exists.
	DuplicateObjectError
	// NoSuchObjectError indicates a request for a table, column, fragment or
	// dictionary that does not exist.
	NoSuchObjectError
	// InvalidConfigError indicates a configuration value out of range.
	InvalidConfigError
)

func (ec JoinErrorCode) String() string {
	switch ec {
	case UnsupportedJoinShape:
		return "UnsupportedJoinShape"
	case TooManyHashEntries:
		return "TooManyHashEntries"
	case FailedToFetchColumn:
		return "FailedToFetchColumn"
	case OutOfDeviceMemory:
		return "OutOfDeviceMemory"
	case DuplicateObjectError:
		return "DuplicateObjectError"
	case NoSuchObjectError:
		return "NoSuchObjectError"
	case InvalidConfigError:
		return "InvalidConfigError"
	}
	return "unknown"
}

// ErrorKind groups codes by what the caller is expected to do about them.
type ErrorKind int

const (
	KindUnsupported ErrorKind = iota
	KindCapacity
	KindResourceExhausted
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnsupported:
		return "unsupported"
	case KindCapacity:
		return "capacity"
	case KindResourceExhausted:
		return "resource_exhausted"
	}
	return "other"
}

// Kind maps the code onto the recovery taxonomy used by query execution:
// unsupported shapes fall back to another join strategy, capacity failures are
// final for the join, resource exhaustion may be retried on a host-only plan.
func (ec JoinErrorCode) Kind() ErrorKind {
	switch ec {
	case UnsupportedJoinShape:
		return KindUnsupported
	case TooManyHashEntries:
		return KindCapacity
	case FailedToFetchColumn, OutOfDeviceMemory:
		return KindResourceExhausted
	}
	return KindOther
}

// JoinError is the typed error surfaced by the join hash table builder.
// It wraps a JoinErrorCode with a detailed message and, optionally, the lower
// level failure that caused it.
type JoinError struct {
	Code  JoinErrorCode
	Msg   string
	Cause error
}

func (e JoinError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("err: %s; msg: %s: %v", e.Code.String(), e.Msg, e.Cause)
	}
	return fmt.Sprintf("err: %s; msg: %s", e.Code.String(), e.Msg)
}

func (e JoinError) Unwrap() error {
	return e.Cause
}

// NewJoinError builds a JoinError with a formatted message and a stack trace.
func NewJoinError(code JoinErrorCode, format string, args ...any) error {
	return errors.WithStackDepth(JoinError{Code: code, Msg: fmt.Sprintf(format, args...)}, 1)
}

// WrapJoinError attaches a code to a lower level failure. The cause stays
// reachable through errors.Is.
func WrapJoinError(cause error, code JoinErrorCode, format string, args ...any) error {
	return errors.WithStackDepth(JoinError{Code: code, Msg: fmt.Sprintf(format, args...), Cause: cause}, 1)
}

// CodeOf extracts the JoinErrorCode carried by err, if any.
func CodeOf(err error) (JoinErrorCode, bool) {
	var je JoinError
	if errors.As(err, &je) {
		return je.Code, true
	}
	return 0, false
}

func IsUnsupported(err error) bool {
	code, ok := CodeOf(err)
	return ok && code.Kind() == KindUnsupported
}

func IsCapacity(err error) bool {
	code, ok := CodeOf(err)
	return ok && code.Kind() == KindCapacity
}

func IsResourceExhausted(err error) bool {
	code, ok := CodeOf(err)
	return ok && code.Kind() == KindResourceExhausted
}
