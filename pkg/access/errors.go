package access

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies errors raised by the access layer.
type Kind string

const (
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindForbidden       Kind = "FORBIDDEN"
	KindNotFound        Kind = "NOT_FOUND"
	KindConflict        Kind = "CONFLICT"
	KindValidation      Kind = "VALIDATION"
)

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrValidation      = &Error{Kind: KindValidation}
)

// Error is the terminal error type of the access layer. Forbidden errors
// carry only the required role.
type Error struct {
	Kind         Kind   `json:"code"`
	Message      string `json:"message,omitempty"`
	Resource     string `json:"resource,omitempty"`
	ID           string `json:"id,omitempty"`
	RequiredRole string `json:"required_role,omitempty"`
	Err          error  `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Unauthenticated reports a missing identity.
func Unauthenticated() *Error {
	return &Error{Kind: KindUnauthenticated, Message: "not authenticated"}
}

// Forbidden reports an authenticated caller below requiredRole.
func Forbidden(requiredRole fmt.Stringer) *Error {
	return &Error{
		Kind:         KindForbidden,
		Message:      "not authorized",
		RequiredRole: requiredRole.String(),
	}
}

// NotFound reports an id that does not resolve to a live record.
func NotFound(resource string, id int64) *Error {
	return &Error{
		Kind:     KindNotFound,
		Message:  resource + " not found",
		Resource: resource,
		ID:       fmt.Sprintf("%d", id),
	}
}

// Conflict reports a state conflict such as a duplicate membership.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Validation reports an invalid request.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// KindOf returns the kind of err, or "" when err is not an access error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsAccessError reports whether err is one of the access layer's kinds.
func IsAccessError(err error) bool {
	return KindOf(err) != ""
}

// HTTPStatus maps err to a response status. Unknown errors are 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
