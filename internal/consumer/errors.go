package consumer

import (
	"errors"
	"fmt"
)

// ErrPermanent marks a processing failure no amount of retrying can fix.
// The dispatching loop dead-letters the message instead of retrying.
var ErrPermanent = errors.New("permanent processing failure")

// Permanent wraps an error so it matches ErrPermanent while keeping the
// original cause reachable with errors.Is and errors.As.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{cause: err}
}

type permanentError struct {
	cause error
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("%v: %v", ErrPermanent, e.cause)
}

func (e *permanentError) Unwrap() error { return e.cause }

func (e *permanentError) Is(target error) bool { return target == ErrPermanent }

// PanicError carries a recovered panic out of a handler invocation.
type PanicError struct {
	Panic interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Panic)
}
