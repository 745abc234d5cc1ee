// Package errors defines the crawler's error taxonomy. Kinds decide how
// far an error propagates: field errors stay inside one card, card errors
// stay inside one cycle, session errors abort one platform, and config
// errors are fatal before any session starts.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

const (
	// KindNoCardsFound means the current page yielded no card handles.
	// Terminal for the platform's session.
	KindNoCardsFound Kind = "no_cards_found"
	// KindExtractionField means a single field of a card could not be
	// extracted. Local to that field; the card continues.
	KindExtractionField Kind = "extraction_field"
	// KindCardDiscarded means a card had no usable external id and was
	// skipped without counting as processed.
	KindCardDiscarded Kind = "card_discarded"
	// KindClassificationTransient marks a retryable classifier failure
	// (network, timeout, 5xx, 429, malformed response body).
	KindClassificationTransient Kind = "classification_transient"
	// KindClassificationFailed marks a classifier failure that exhausted
	// its retries. The item is dropped, not retried again this session.
	KindClassificationFailed Kind = "classification_failed"
	// KindDownloadFailed marks a single image download failure. Other
	// images of the same post are unaffected.
	KindDownloadFailed Kind = "download_failed"
	// KindSessionAborted marks a login timeout or adapter-level fatal
	// error. The platform's remaining work is skipped.
	KindSessionAborted Kind = "session_aborted"
	// KindConfigInvalid marks a startup configuration error. Fatal.
	KindConfigInvalid Kind = "config_invalid"
	KindUnknown       Kind = "unknown"
)

// Error carries a kind, the operation that produced it, and an optional
// wrapped cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Message, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a new Error without a cause.
func E(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds a new Error around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf builds a new Error around a cause with a formatted message.
func Wrapf(kind Kind, op string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or KindUnknown if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err should be retried. Only transient
// classification failures qualify; everything else either propagates or
// is absorbed where it occurred.
func IsRetryable(err error) bool {
	return KindOf(err) == KindClassificationTransient
}

// IsRetryableStatusCode reports whether an HTTP status from the
// classifier backend indicates a transient failure.
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // network error, no response
		return true
	case 429:
		return true
	default:
		return statusCode >= 500
	}
}
