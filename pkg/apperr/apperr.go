// Package apperr classifies failures so transports can map them to a
// response without string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindPermissionDenied
	KindTransient
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPermissionDenied:
		return "permission_denied"
	case KindTransient:
		return "transient"
	case KindExternal:
		return "external"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its kind.
var (
	ErrValidation       = &Error{Kind: KindValidation, Msg: "validation failed"}
	ErrNotFound         = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrConflict         = &Error{Kind: KindConflict, Msg: "conflict"}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied, Msg: "permission denied"}
	ErrTransient        = &Error{Kind: KindTransient, Msg: "transient failure"}
	ErrExternal         = &Error{Kind: KindExternal, Msg: "external collaborator failed"}
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && isSentinel(t)
}

func isSentinel(e *Error) bool {
	switch e {
	case ErrValidation, ErrNotFound, ErrConflict, ErrPermissionDenied, ErrTransient, ErrExternal:
		return true
	}
	return false
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func PermissionDenied(format string, args ...any) error {
	return &Error{Kind: KindPermissionDenied, Msg: fmt.Sprintf(format, args...)}
}

// Transient wraps a failure that the next timer tick may not see.
func Transient(err error, msg string) error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

// External wraps a payment collaborator failure.
func External(err error, msg string) error {
	return &Error{Kind: KindExternal, Msg: msg, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
