// Package apperr defines the error kinds shared by the dispatcher, the
// bridge synchronizer and the transport.
package apperr

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrMissingParameter   = errors.New("missing parameter")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Kind values reported to clients.
const (
	KindNotFound           = "not_found"
	KindMissingParameter   = "missing_parameter"
	KindTypeMismatch       = "type_mismatch"
	KindInvalidArgument    = "invalid_argument"
	KindBackendUnavailable = "backend_unavailable"
	KindInternal           = "internal"
)

// Kind maps err to the wire-level error kind. Errors that wrap none of the
// sentinels are reported as internal.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrMissingParameter):
		return KindMissingParameter
	case errors.Is(err, ErrTypeMismatch):
		return KindTypeMismatch
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrBackendUnavailable):
		return KindBackendUnavailable
	default:
		return KindInternal
	}
}
