// Package dberr implements the error taxonomy of §7: errors are
// identified by a discriminant Kind, not by Go type, so callers across
// package boundaries can branch on "what kind of failure" without type
// assertions on concrete structs.
package dberr

import (
	"fmt"

	"go.uber.org/multierr"
)

// Kind discriminates the wire-visible error taxonomy (§6.6, §7).
type Kind uint8

const (
	KindParse Kind = iota
	KindSemantic
	KindConstraint
	KindConcurrentWrite
	KindSerializationFailure
	KindTimeoutOrCancelled
	KindResource
	KindInternal
	KindIOCorruption
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "Parse"
	case KindSemantic:
		return "Semantic"
	case KindConstraint:
		return "Constraint"
	case KindConcurrentWrite:
		return "ConcurrentWrite"
	case KindSerializationFailure:
		return "SerializationFailure"
	case KindTimeoutOrCancelled:
		return "TimeoutOrCancelled"
	case KindResource:
		return "Resource"
	case KindInternal:
		return "Internal"
	case KindIOCorruption:
		return "IOCorruption"
	default:
		return "Unknown"
	}
}

// Error is the concrete error value carried across the engine. Table and
// RowID are populated for conflict errors so callers can identify which
// row caused a SerializationFailure/ConcurrentWrite (§7: "Conflict errors
// carry enough detail to identify (table, row_id)").
type Error struct {
	Kind    Kind
	Message string
	Table   string
	RowID   int64
	Cause   error
}

func (e *Error) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("%s: %s (table=%s row_id=%d)", e.Kind, e.Message, e.Table, e.RowID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, dberr.New(KindX, "")) style kind checks by
// comparing only Kind, ignoring Message/Table/RowID/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func Conflict(table string, rowID int64, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Table: table, RowID: rowID}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, otherwise
// KindInternal — invariant violations surfaced from code that forgot to
// tag a proper Kind are treated as internal bugs, not swallowed.
func KindOf(err error) Kind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return KindInternal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Combine aggregates multiple causes into one error (used by
// Database.Close to report every close step that failed).
func Combine(errs ...error) error {
	return multierr.Combine(errs...)
}
