// Package soulerr classifies errors crossing service boundaries into a small
// fixed set of kinds, so callers can decide on retry and messaging without
// probing error payloads.
package soulerr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	// KindValidation covers malformed requests; never retried.
	KindValidation Kind = "validation"
	// KindTransient covers 5xx-class and connectivity failures; retryable.
	KindTransient Kind = "transient"
	// KindRateLimited covers 429-class responses; not auto-retried.
	KindRateLimited Kind = "rate_limited"
	// KindTimeout covers deadline-exceeded failures; retryable.
	KindTimeout Kind = "timeout"
	// KindCanceled marks a deliberately superseded or torn-down call;
	// treated as a silent no-op, never as a failure.
	KindCanceled Kind = "canceled"
	// KindFatal is the catch-all for unclassified failures.
	KindFatal Kind = "fatal"
)

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

// KindOf extracts the kind from an error chain. Context cancellation and
// deadline errors classify even when they were never wrapped.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindFatal
}

// IsCanceled reports whether err represents a superseded or torn-down call.
func IsCanceled(err error) bool {
	return KindOf(err) == KindCanceled
}

// Retryable reports whether the backoff loop may retry after err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindTimeout:
		return true
	}
	return false
}

// FromStatusCode maps an HTTP status to a kind for boundary clients.
func FromStatusCode(status int) Kind {
	switch {
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindValidation
	default:
		return KindFatal
	}
}
