package manager

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"modelserve/internal/backend"
)

// Kind classifies every error returned by the Manager.
type Kind int

const (
	NotFound Kind = iota + 1
	TypeMismatch
	LoadFailure
	InferenceFailure
	ResourceExhausted
	Timeout
	NotLoaded
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case TypeMismatch:
		return "type_mismatch"
	case LoadFailure:
		return "load_failure"
	case InferenceFailure:
		return "inference_failure"
	case ResourceExhausted:
		return "resource_exhausted"
	case Timeout:
		return "timeout"
	case NotLoaded:
		return "not_loaded"
	default:
		return "unknown"
	}
}

// Error is the single error type surfaced by the Manager. Err holds the underlying cause
// and is reachable through errors.Is/As.
type Error struct {
	Kind  Kind
	Model string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Model != "" {
		msg += " " + strconv.Quote(e.Model)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode maps the error onto an HTTP status for the API layer.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case NotFound:
		return http.StatusNotFound
	case TypeMismatch:
		return http.StatusUnprocessableEntity
	case NotLoaded:
		return http.StatusConflict
	case ResourceExhausted:
		return http.StatusInsufficientStorage
	case Timeout:
		return http.StatusGatewayTimeout
	case LoadFailure:
		if errors.Is(e.Err, backend.ErrDependencyUnavailable) {
			return http.StatusServiceUnavailable
		}
	case InferenceFailure:
		if errors.Is(e.Err, backend.ErrMissingInput) || errors.Is(e.Err, backend.ErrBadInput) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

func newError(kind Kind, model string, err error) *Error {
	return &Error{Kind: kind, Model: model, Err: err}
}

// errPanic marks a recovered adapter panic.
var errPanic = errors.New("adapter panic")

// errClosed is returned for loads attempted after Close.
var errClosed = errors.New("manager closed")

// classifyLoad maps a failed Load onto the taxonomy.
func classifyLoad(model string, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newError(Timeout, model, err)
	case errors.Is(err, backend.ErrResourceExhausted):
		return newError(ResourceExhausted, model, err)
	default:
		return newError(LoadFailure, model, err)
	}
}

// classifyExec maps a failed Execute onto the taxonomy.
func classifyExec(model string, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newError(Timeout, model, err)
	case errors.Is(err, backend.ErrResourceExhausted):
		return newError(ResourceExhausted, model, err)
	default:
		return newError(InferenceFailure, model, err)
	}
}

// KindOf returns the Kind of err, if err is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func isKind(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

// IsNotFound reports whether err indicates an unknown model name.
func IsNotFound(err error) bool { return isKind(err, NotFound) }

// IsTypeMismatch reports whether the operation does not fit the model's backend kind.
func IsTypeMismatch(err error) bool { return isKind(err, TypeMismatch) }

// IsLoadFailure reports whether loading the model failed.
func IsLoadFailure(err error) bool { return isKind(err, LoadFailure) }

// IsInferenceFailure reports whether the backend failed while executing.
func IsInferenceFailure(err error) bool { return isKind(err, InferenceFailure) }

// IsResourceExhausted reports whether memory was insufficient.
func IsResourceExhausted(err error) bool { return isKind(err, ResourceExhausted) }

// IsTimeout reports whether the caller's deadline elapsed.
func IsTimeout(err error) bool { return isKind(err, Timeout) }

// IsNotLoaded reports whether an unload targeted a model without a handle.
func IsNotLoaded(err error) bool { return isKind(err, NotLoaded) }

// IsDependencyUnavailable reports whether a backend runtime is missing on this host.
func IsDependencyUnavailable(err error) bool {
	return errors.Is(err, backend.ErrDependencyUnavailable)
}
