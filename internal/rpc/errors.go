package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors handlers wrap to select a Kind.
var (
	ErrNotImplemented  = errors.New("not implemented")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrInternal        = errors.New("internal error")

	// ErrMissingHandlers is wrapped by Registry.Validate.
	ErrMissingHandlers = errors.New("rpc: missing handlers")

	// ErrNilCall is returned by Execute for a nil call.
	ErrNilCall = errors.New("rpc: nil call")

	// ErrResponseBlocked is returned when nobody took a synchronous response
	// within the response wait.
	ErrResponseBlocked = errors.New("rpc: response channel blocked")
)

// Kind classifies a failed call.
type Kind string

const (
	KindNotImplemented  Kind = "not_implemented"
	KindInvalidArgument Kind = "invalid_argument"
	KindNotFound        Kind = "not_found"
	KindInternal        Kind = "internal"
	KindError           Kind = "error"
)

// Error is the failure carried back to the caller of a synchronous call.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Detail is the original error value when it can be JSON-encoded with
	// content, otherwise its formatted string.
	Detail any    `json:"detail,omitempty"`
	Stack  string `json:"stack,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc %s: %s", e.Kind, e.Message)
}

// Is lets errors.Is match an *Error against the sentinel of its kind.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindNotImplemented:
		return target == ErrNotImplemented
	case KindInvalidArgument:
		return target == ErrInvalidArgument
	case KindNotFound:
		return target == ErrNotFound
	case KindInternal:
		return target == ErrInternal
	}
	return false
}

// Classify turns any error into an *Error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return &Error{
		Kind:    kindOf(err),
		Message: err.Error(),
		Detail:  detailOf(err),
	}
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrNotImplemented):
		return KindNotImplemented
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInternal):
		return KindInternal
	default:
		return KindError
	}
}

// detailOf keeps structured error values that survive JSON encoding and
// downgrades everything else to its message.
func detailOf(err error) any {
	raw, jerr := json.Marshal(err)
	if jerr != nil || string(raw) == "{}" || string(raw) == "null" {
		return err.Error()
	}
	return err
}

// InvalidArgument builds an ErrInvalidArgument error.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFound builds an ErrNotFound error.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// MissingHandlersError lists RPC codes with no registered handler.
type MissingHandlersError struct {
	Codes []string
}

func (e *MissingHandlersError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMissingHandlers, e.Codes)
}

func (e *MissingHandlersError) Unwrap() error {
	return ErrMissingHandlers
}
