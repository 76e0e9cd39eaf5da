// Package errs defines the error-kind taxonomy shared across chatgate's
// components so callers can discriminate failures with errors.Is/As
// instead of string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the abstract error kinds from the error taxonomy.
type Kind string

const (
	KindConfigNotFound    Kind = "config_not_found"
	KindConfigKeyMissing  Kind = "config_key_missing"
	KindConfigParseError  Kind = "config_parse_error"
	KindAuthMissing       Kind = "auth_missing"
	KindAuthRefreshFailed Kind = "auth_refresh_failed"
	KindAuthStateInvalid  Kind = "auth_state_invalid"
	KindInvalidArgument   Kind = "invalid_argument"
	KindInvalidDate       Kind = "invalid_date"
	KindBackendError      Kind = "backend_error"
)

// Error is a kinded error that carries the original cause.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, errs.New(errs.KindAuthMissing, "")) works as a sentinel check.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a kinded error with no underlying cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds a kinded error around an existing cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Of reports whether err carries the given Kind anywhere in its chain.
func Of(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}
