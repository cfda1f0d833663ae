// Package apperr defines the error kinds surfaced by the dispatch subsystem.
// Handlers map these onto HTTP status codes; services return them wrapped with
// context via fmt.Errorf and %w.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindNotFound
	KindSensorUnavailable
	KindTransientService
	KindSessionFenced
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindSensorUnavailable:
		return "sensor_unavailable"
	case KindTransientService:
		return "transient_service"
	case KindSessionFenced:
		return "session_fenced"
	}
	return "unknown"
}

// Error is a classified domain error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind sentinels produced by the constructors.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

func Validation(msg string) error            { return &Error{Kind: KindValidation, Msg: msg} }
func Conflict(msg string) error              { return &Error{Kind: KindConflict, Msg: msg} }
func NotFound(msg string) error              { return &Error{Kind: KindNotFound, Msg: msg} }
func SensorUnavailable(err error) error      { return &Error{Kind: KindSensorUnavailable, Msg: "position sensor unavailable", Err: err} }
func TransientService(err error) error       { return &Error{Kind: KindTransientService, Msg: "upstream service failure", Err: err} }
func SessionFenced(sessionID string) error   { return &Error{Kind: KindSessionFenced, Msg: "session superseded by a newer login: " + sessionID} }

// KindOf extracts the kind of err, or 0 when err carries no classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }
