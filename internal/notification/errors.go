package notification

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is against these to classify any error returned by this module.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrTransport          = errors.New("transport error")
	ErrConfiguration      = errors.New("configuration error")
	ErrInternal           = errors.New("internal error")
	ErrDispatchInProgress = errors.New("dispatch already in progress")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// Error carries a kind from the taxonomy, the failing operation and an optional cause
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg = e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ValidationError reports bad input. Never retried.
func ValidationError(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing record or one owned by another user
func NotFoundError(op, what string) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: what + " not found"}
}

// TransportError reports a retryable adapter or network failure
func TransportError(op string, err error) error {
	return &Error{Kind: ErrTransport, Op: op, Err: err}
}

// ConfigurationError reports missing credentials or settings
func ConfigurationError(op, format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// InternalError wraps an unexpected store or logic failure
func InternalError(op string, err error) error {
	return &Error{Kind: ErrInternal, Op: op, Err: err}
}

// Kind returns the taxonomy kind of err, ErrInternal for anything unclassified
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrDispatchInProgress, ErrInvalidTransition, ErrConfiguration, ErrTransport} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}
