// Package apierr defines the error taxonomy shared by the daemon's HTTP and
// control-socket surfaces, so callers can map an error to a status code or a
// CLI exit without string-sniffing messages.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the taxonomy bucket of an error (see spec §7).
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindUpstream         Kind = "upstream"
	KindBackendStart     Kind = "backend_start_failed"
	KindStateIO          Kind = "state_io"
	KindInternal         Kind = "internal"
)

// Error wraps an underlying cause with a Kind so the router can map it to
// an HTTP status and a CLI caller can print the message verbatim.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) error { return newf(KindValidation, format, args...) }
func NotFound(format string, args ...interface{}) error   { return newf(KindNotFound, format, args...) }
func Conflict(format string, args ...interface{}) error   { return newf(KindConflict, format, args...) }
func Upstream(format string, args ...interface{}) error   { return newf(KindUpstream, format, args...) }
func BackendStart(format string, args ...interface{}) error {
	return newf(KindBackendStart, format, args...)
}

// Wrap tags an existing error with a Kind, preserving it for errors.Unwrap.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func StateIO(msg string, err error) error { return Wrap(KindStateIO, msg, err) }
func Internal(msg string, err error) error { return Wrap(KindInternal, msg, err) }

// KindOf extracts the Kind of err, defaulting to KindInternal for plain
// errors that never went through this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the status code the Control HTTP API returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindBackendStart:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	case KindStateIO, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
