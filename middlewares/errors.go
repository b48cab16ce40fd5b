package middlewares

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMissingToken = errors.New("middlewares: missing bearer token")
	ErrInvalidToken = errors.New("middlewares: invalid token")
	ErrExpiredToken = errors.New("middlewares: token expired")
	ErrNoSubject    = errors.New("middlewares: token has no subject")
)

// ErrorWriter renders a failure detected by a middleware.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, err error)

func plainError(w http.ResponseWriter, _ *http.Request, status int, _ error) {
	http.Error(w, http.StatusText(status), status)
}

// PanicError represents a recovered panic.
type PanicError struct {
	Value any    // The panic value
	Stack []byte // Stack trace (nil if disabled)
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// IsPanicError returns true if the error is a PanicError.
func IsPanicError(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}

// AsPanicError extracts the PanicError from an error if present.
func AsPanicError(err error) (*PanicError, bool) {
	var pe *PanicError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
