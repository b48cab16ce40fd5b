// Package apperr defines the error kinds surfaced by the provisioning core
// and their HTTP mapping.
//
// Each kind has a sentinel so callers can match with errors.Is:
//
//	if errors.Is(err, apperr.ErrQuotaExceeded) { ... }
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for clients.
type Kind string

const (
	KindUnauthenticated   Kind = "unauthenticated"
	KindUnauthorized      Kind = "unauthorized"
	KindNotFound          Kind = "not_found"
	KindDuplicateResource Kind = "duplicate_resource"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindValidationFailed  Kind = "validation_failed"
	KindDNSLookupFailed   Kind = "dns_lookup_failed"
	KindProviderRejected  Kind = "provider_rejected"
	KindInternal          Kind = "internal_error"
)

// Status returns the HTTP status code for k.
func (k Kind) Status() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindUnauthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicateResource:
		return http.StatusConflict
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindValidationFailed:
		return http.StatusUnprocessableEntity
	case KindDNSLookupFailed, KindProviderRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Message is safe to show to clients;
// Err is the underlying cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind. A sentinel is an *Error with no message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Status returns the HTTP status for the error kind.
func (e *Error) Status() int { return e.Kind.Status() }

var (
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrDuplicateResource = &Error{Kind: KindDuplicateResource}
	ErrQuotaExceeded     = &Error{Kind: KindQuotaExceeded}
	ErrValidationFailed  = &Error{Kind: KindValidationFailed}
	ErrDNSLookupFailed   = &Error{Kind: KindDNSLookupFailed}
	ErrProviderRejected  = &Error{Kind: KindProviderRejected}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Option decorates an Error.
type Option func(*Error)

// WithCause attaches the underlying error.
func WithCause(err error) Option {
	return func(e *Error) { e.Err = err }
}

// WithDetails attaches structured data returned to the client.
func WithDetails(d any) Option {
	return func(e *Error) { e.Details = d }
}

// New builds an Error of kind with a client-facing message.
func New(kind Kind, message string, opts ...Option) *Error {
	e := &Error{Kind: kind, Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func Unauthenticated(msg string, opts ...Option) *Error { return New(KindUnauthenticated, msg, opts...) }
func Unauthorized(msg string, opts ...Option) *Error    { return New(KindUnauthorized, msg, opts...) }
func NotFound(msg string, opts ...Option) *Error        { return New(KindNotFound, msg, opts...) }
func Duplicate(msg string, opts ...Option) *Error       { return New(KindDuplicateResource, msg, opts...) }
func QuotaExceeded(msg string, opts ...Option) *Error   { return New(KindQuotaExceeded, msg, opts...) }
func Validation(msg string, opts ...Option) *Error      { return New(KindValidationFailed, msg, opts...) }
func DNSLookup(msg string, opts ...Option) *Error       { return New(KindDNSLookupFailed, msg, opts...) }
func Provider(msg string, opts ...Option) *Error        { return New(KindProviderRejected, msg, opts...) }
func Internal(msg string, opts ...Option) *Error        { return New(KindInternal, msg, opts...) }

// As returns the classified error in err's chain. Unclassified errors are
// reported as internal with a generic message.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("internal error", WithCause(err))
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}

// FieldErrors maps request fields to validation messages.
type FieldErrors map[string]string

// Err returns a validation error carrying fe, or nil when fe is empty.
func (fe FieldErrors) Err(msg string) error {
	if len(fe) == 0 {
		return nil
	}
	return Validation(msg, WithDetails(fe))
}
