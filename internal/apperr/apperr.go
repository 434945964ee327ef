// Package apperr defines the error taxonomy shared by the ingestion,
// query and alerting paths, and its mapping onto HTTP status codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindMalformedCredential Kind = "malformed_credential"
	KindUnauthorized        Kind = "unauthorized"
	KindValidation          Kind = "validation"
	KindAccessDenied        Kind = "access_denied"
	KindNotFound            Kind = "not_found"
	KindInfrastructure      Kind = "infrastructure"
)

// Reasons attached to Unauthorized errors so callers can tell a revoked
// key from an expired one.
const (
	ReasonInvalidFormat      = "invalid_format"
	ReasonMissingCredentials = "missing_credentials"
	ReasonKeyNotFound        = "not_found"
	ReasonKeyInactive        = "inactive"
	ReasonKeyExpired         = "expired"
	ReasonTimeout            = "timeout"
)

type Error struct {
	Kind    Kind   `json:"kind"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, reason, message string, err error) error {
	return &Error{Kind: kind, Reason: reason, Message: message, Err: err}
}

func MalformedCredential(message string) error {
	return New(KindMalformedCredential, ReasonInvalidFormat, message, nil)
}

func Unauthorized(reason, message string) error {
	return New(KindUnauthorized, reason, message, nil)
}

func Validation(message string) error {
	return New(KindValidation, "", message, nil)
}

func AccessDenied(message string) error {
	return New(KindAccessDenied, "", message, nil)
}

func NotFound(message string) error {
	return New(KindNotFound, "", message, nil)
}

// Infrastructure wraps a store or transport failure. Deadline overruns are
// tagged with the timeout reason; both are retryable by the caller.
func Infrastructure(message string, err error) error {
	reason := ""
	if errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonTimeout
	}
	return New(KindInfrastructure, reason, message, err)
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err. Errors outside the taxonomy are treated
// as infrastructure failures.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInfrastructure
}

func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// Retryable reports whether the caller may retry the same request.
func Retryable(err error) bool {
	return err != nil && KindOf(err) == KindInfrastructure
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindMalformedCredential, KindAccessDenied:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}
