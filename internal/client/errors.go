package client

import (
	"errors"
	"fmt"
)

// Kind classifies an API failure for the console.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
	KindTransport    Kind = "transport"
	KindServer       Kind = "server"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid task state")
	ErrTransport    = errors.New("transport failure")
	ErrServer       = errors.New("server error")
)

// APIError is returned by every Client call that fails. It matches the
// package sentinels with errors.Is.
type APIError struct {
	Kind       Kind
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Message != "":
		return fmt.Sprintf("api %s (%d): %s", e.Kind, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("api %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("api %s", e.Kind)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrInvalidState:
		return e.Kind == KindInvalidState
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrServer:
		return e.Kind == KindServer
	}
	return false
}

func kindForStatus(code int) Kind {
	switch {
	case code == 400 || code == 422:
		return KindValidation
	case code == 404:
		return KindNotFound
	case code == 409:
		return KindInvalidState
	case code >= 500 || code == 429:
		return KindServer
	default:
		return KindValidation
	}
}
