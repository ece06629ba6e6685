// Package apperr defines the stage-specific error taxonomy shared by the
// analysis pipeline, the presence engine and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind names one failure class.
type Kind string

// Error kinds.
const (
	KindInvalidRequest  Kind = "invalid_request"
	KindFetch           Kind = "fetch_error"
	KindExtraction      Kind = "extraction_error"
	KindLLMRateLimited  Kind = "llm_rate_limited"
	KindLLMTransient    Kind = "llm_transient"
	KindLLMFatal        Kind = "llm_error"
	KindLLMMalformed    Kind = "llm_malformed_output"
	KindSchema          Kind = "schema_error"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindCancelled       Kind = "cancelled"
	KindInternal        Kind = "internal_error"
	KindCircuitOpen     Kind = "circuit_open"
	KindCancelForbidden Kind = "cancel_forbidden"
)

// Error is a classified failure with an optional list of missing keys.
type Error struct {
	Kind    Kind
	Message string
	Missing []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the kind to the status code surfaced to API callers.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidRequest, KindFetch:
		return http.StatusBadRequest
	case KindLLMRateLimited:
		return http.StatusTooManyRequests
	case KindLLMTransient, KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindSchema:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindCancelForbidden:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// New builds an Error without a cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds an Error around cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Schema builds a validator rejection naming the missing keys.
func Schema(msg string, missing []string) *Error {
	return &Error{Kind: KindSchema, Message: msg, Missing: missing}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}
