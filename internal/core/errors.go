package core

import (
	"errors"
	"fmt"

	"aetheron.ai/aetheron-chat/internal/auth"
)

// Error kinds. Callers classify with errors.Is; the HTTP layer maps each kind
// to a status code.
var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = auth.ErrUnauthenticated
	ErrInvalidToken    = auth.ErrInvalidToken
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrProvider        = errors.New("provider failure")
	ErrStorage         = errors.New("storage failure")
)

// Error carries a client-facing message alongside its kind.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func newError(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

func storageError(message string, cause error) error {
	return &Error{Kind: ErrStorage, Message: message, Cause: cause}
}
