package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide whether to surface,
// retry or abort.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
	KindObsolete
	KindInvariant
	KindConflict
	KindConcurrencyExhausted
	KindExternalService
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not found"
	case KindObsolete:
		return "entity obsolete"
	case KindInvariant:
		return "invariant violation"
	case KindConflict:
		return "concurrency conflict"
	case KindConcurrencyExhausted:
		return "concurrency retries exhausted"
	case KindExternalService:
		return "external service unavailable"
	default:
		return "unknown"
	}
}

// Kind sentinels for errors.Is.
var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrObsolete             = &Error{Kind: KindObsolete}
	ErrInvariant            = &Error{Kind: KindInvariant}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrConcurrencyExhausted = &Error{Kind: KindConcurrencyExhausted}
	ErrExternalService      = &Error{Kind: KindExternalService}
)

// Error is the typed error returned by the finance core.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works
// through arbitrary fmt.Errorf wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Validationf reports caller input that violates a business rule.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity.
func NotFound(entity, id string) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%s %q not found", entity, id)}
}

// Obsolete reports an operation against an entity whose obsolete flag forbids it.
func Obsolete(entity, id string) error {
	return &Error{Kind: KindObsolete, Msg: fmt.Sprintf("%s %q is obsolete", entity, id)}
}

// Invariantf reports a data-integrity or orchestration bug.
func Invariantf(format string, args ...any) error {
	return &Error{Kind: KindInvariant, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf reports an optimistic concurrency violation detected at commit.
func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// External wraps a failure of a remote service.
func External(err error, format string, args ...any) error {
	return &Error{Kind: KindExternalService, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsClientError reports whether err should be surfaced to the caller as a
// client error (bad input, unknown id, obsolete entity).
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrObsolete)
}
