// Package apperr defines the error kinds shared by the server and the client
// sync engine.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindStorageUnavailable
	KindNotFound
	KindInvalidState
	KindUnauthorized
	KindUpstreamUnavailable
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindStorageUnavailable:
		return "storage unavailable"
	case KindNotFound:
		return "not found"
	case KindInvalidState:
		return "invalid state"
	case KindUnauthorized:
		return "unauthorized"
	case KindUpstreamUnavailable:
		return "upstream unavailable"
	case KindInvalidInput:
		return "invalid input"
	}
	return "internal error"
}

// Error carries a kind, a user-visible message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(what string) *Error {
	return New(KindNotFound, what+" not found")
}

func InvalidState(message string) *Error {
	return New(KindInvalidState, message)
}

func InvalidInput(message string) *Error {
	return New(KindInvalidInput, message)
}

var (
	ErrStorageUnavailable = New(KindStorageUnavailable, "persistent storage unavailable")
	ErrUnauthorized       = New(KindUnauthorized, "Invalid authentication token")
)

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Message returns the user-visible message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
