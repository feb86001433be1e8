// Package apperror holds the error taxonomy shared by the game layer, the
// role dispatchers and the connection handler. Every error a client can see
// carries a Kind that decides its result code.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the client.
type Kind int

const (
	Internal Kind = iota
	BadCommand
	AccessDenied
	InappropriateGameState
	ResourceNotFound
	Timeout
)

func (k Kind) String() string {
	switch k {
	case BadCommand:
		return "bad command"
	case AccessDenied:
		return "access denied"
	case InappropriateGameState:
		return "inappropriate game state"
	case ResourceNotFound:
		return "resource not found"
	case Timeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Error is a classified error. Msg is safe to show to clients; Err, when
// set, is the underlying cause and is only logged.
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

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrTimeout)
// works for every timeout regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks. They compare by Kind only.
var (
	ErrBadCommand             = &Error{Kind: BadCommand}
	ErrAccessDenied           = &Error{Kind: AccessDenied}
	ErrInappropriateGameState = &Error{Kind: InappropriateGameState}
	ErrResourceNotFound       = &Error{Kind: ResourceNotFound}
	ErrTimeout                = &Error{Kind: Timeout}
)

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// NewBadCommand reports a malformed or disallowed request.
func NewBadCommand(format string, args ...any) *Error {
	return newf(BadCommand, format, args...)
}

// NewAccessDenied reports a refused login or a full game.
func NewAccessDenied(format string, args ...any) *Error {
	return newf(AccessDenied, format, args...)
}

func NewInappropriateGameState(format string, args ...any) *Error {
	return newf(InappropriateGameState, format, args...)
}

func NewResourceNotFound(format string, args ...any) *Error {
	return newf(ResourceNotFound, format, args...)
}

// NewTimeout reports a turn that did not complete in time.
func NewTimeout(format string, args ...any) *Error {
	return newf(Timeout, format, args...)
}

// Wrap classifies err as an internal failure with a client-safe message.
func Wrap(err error, msg string) *Error {
	return &Error{Kind: Internal, Msg: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or Internal
// when err carries no classification.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	return Internal
}

// Message returns the client-facing message of err. Unclassified and
// internal errors never expose their text.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != Internal {
		return appErr.Msg
	}

	return "Internal server error"
}
