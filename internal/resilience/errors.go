package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/queryarc/queryarc-api/internal/apperr"
)

// Class is the retry classification of an error.
type Class int

const (
	// ClassFatal errors are returned immediately.
	ClassFatal Class = iota
	// ClassTransient errors (timeouts, resets, 5xx) are retried.
	ClassTransient
	// ClassRateLimited errors (429, quota) are retried with backoff.
	ClassRateLimited
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	default:
		return "fatal"
	}
}

// TransientError marks an error as safe to retry, with an optional HTTP status.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// Classify is the single retry classification consulted by every LLM call
// site. Taxonomy kinds win over structural checks.
func Classify(err error) Class {
	if err == nil || errors.Is(err, context.Canceled) {
		return ClassFatal
	}

	if e, ok := apperr.As(err); ok {
		switch e.Kind {
		case apperr.KindLLMRateLimited:
			return ClassRateLimited
		case apperr.KindLLMTransient, apperr.KindCircuitOpen:
			return ClassTransient
		default:
			return ClassFatal
		}
	}

	var te *TransientError
	if errors.As(err, &te) {
		if te.StatusCode == 429 {
			return ClassRateLimited
		}
		return ClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) || isTransientNetwork(err) {
		return ClassTransient
	}
	return ClassFatal
}

// Retryable reports whether Classify puts err in a retryable class.
func Retryable(err error) bool {
	return Classify(err) != ClassFatal
}

// ClassifyStatus maps a provider HTTP status to a class.
func ClassifyStatus(statusCode int) Class {
	switch {
	case statusCode == 429:
		return ClassRateLimited
	case statusCode == 408, statusCode == 409, statusCode >= 500:
		return ClassTransient
	default:
		return ClassFatal
	}
}

func isTransientNetwork(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"unexpected eof",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
