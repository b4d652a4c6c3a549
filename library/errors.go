package library

import (
	"errors"
	"fmt"
)

// Kind classifies the failures the lending services report to their caller.
type Kind int

const (
	// KindAuth covers failed logins, missing sessions and insufficient roles.
	KindAuth Kind = iota + 1
	// KindNotFound means a referenced book, user or loan does not exist.
	KindNotFound
	// KindBusinessRule means the operation would break a lending invariant.
	KindBusinessRule
	// KindValidation means caller-supplied input is missing or malformed.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindBusinessRule:
		return "business_rule"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is the classified error returned by the services. Anything else coming
// out of a service is a collaborator failure and is not meant to be recovered.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is an *Error of the same kind, so callers can
// write errors.Is(err, &library.Error{Kind: library.KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func AuthError(format string, args ...any) *Error {
	return &Error{Kind: KindAuth, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func BusinessRuleError(format string, args ...any) *Error {
	return &Error{Kind: KindBusinessRule, Message: fmt.Sprintf(format, args...)}
}

func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a classified error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind is shorthand for checking KindOf against a single kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Messages shared between services and their tests.
const (
	msgLoginRequired      = "login required"
	msgAdminRequired      = "administrator privilege required"
	msgCredentialMismatch = "id/password mismatch"
	msgInsufficientStock  = "insufficient stock"
	msgCountMismatch      = "count mismatch"
	msgInvalidDuration    = "invalid duration"
	msgBookNotFound       = "book not found"
	msgUserNotFound       = "user not found"
)
