package transfer

import (
	"errors"
	"fmt"
)

// Severity tells a coordinator whether to continue after an error.
type Severity int

const (
	Recoverable Severity = iota
	Fatal
)

func (s Severity) String() string {
	if s == Fatal {
		return "fatal"
	}
	return "recoverable"
}

// Error is a failed transfer step. Fatal errors are configuration problems
// found before any I/O; recoverable ones are scoped to one resource.
type Error struct {
	Resource string
	Severity Severity
	Err      error
}

func (e *Error) Error() string {
	if e.Resource == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Resource, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Configf returns a fatal configuration error.
func Configf(format string, args ...any) *Error {
	return &Error{Severity: Fatal, Err: fmt.Errorf(format, args...)}
}

// AsFatal wraps err as a fatal error unless it is already a transfer Error.
func AsFatal(err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Severity: Fatal, Err: err}
}

// Failed returns a recoverable error for resource.
func Failed(resource string, err error) *Error {
	return &Error{Resource: resource, Severity: Recoverable, Err: err}
}

// IsFatal reports whether err carries a fatal transfer error.
func IsFatal(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Severity == Fatal
}

// ErrCanceled is returned by Submit once the operation was interrupted.
var ErrCanceled = errors.New("canceled")
