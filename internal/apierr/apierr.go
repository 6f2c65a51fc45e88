// Package apierr defines the domain error taxonomy shared by every
// component. Errors are values carrying a Kind; callers compare kinds
// with KindOf, never by matching message text.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is one of the error taxonomy entries from the error handling
// design: a classification, not a concrete error type.
type Kind string

const (
	ProjectNotFound       Kind = "project-not-found"
	RepositoryNotFound    Kind = "repository-not-found"
	EntryNotFound         Kind = "entry-not-found"
	RevisionNotFound      Kind = "revision-not-found"
	ChangeConflict        Kind = "change-conflict"
	RedundantChange       Kind = "redundant-change"
	ProjectExists         Kind = "project-exists"
	RepositoryExists      Kind = "repository-exists"
	QueryExecution        Kind = "query-execution"
	ChangeFormat          Kind = "change-format"
	InvalidPush           Kind = "invalid-push"
	Permission            Kind = "permission"
	Authorization          Kind = "authorization"
	TokenNotFound         Kind = "token-not-found"
	MemberNotFound        Kind = "member-not-found"
	ReadOnly              Kind = "read-only"
	ShuttingDown          Kind = "shutting-down"
	RequestAlreadyTimedOut Kind = "request-already-timed-out"
)

// HTTPStatus returns the status code the wire API maps this kind to.
func (k Kind) HTTPStatus() int {
	switch k {
	case ProjectNotFound, RepositoryNotFound, EntryNotFound, RevisionNotFound, TokenNotFound, MemberNotFound:
		return 404
	case ChangeConflict, RedundantChange, ProjectExists, RepositoryExists:
		return 409
	case QueryExecution, ChangeFormat, InvalidPush:
		return 400
	case Permission:
		return 401
	case Authorization:
		return 403
	case ReadOnly, ShuttingDown, RequestAlreadyTimedOut:
		return 503
	default:
		return 500
	}
}

// Error is a domain error: a kind plus a human message and an optional
// wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err, or "" if err is not (or does not
// wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
