package side

import (
	"errors"
	"fmt"
)

var (
	ErrApplyRejected = errors.New("apply rejected")
	ErrTransientIO   = errors.New("transient i/o error")
)

// ApplyRejectedError is returned when a side refuses a specific mutation.
type ApplyRejectedError struct {
	Reason string
}

func (e *ApplyRejectedError) Error() string {
	return fmt.Sprintf("apply rejected: %s", e.Reason)
}

func (e *ApplyRejectedError) Is(target error) bool {
	return target == ErrApplyRejected
}

// Rejected builds an ApplyRejectedError.
func Rejected(format string, args ...any) error {
	return &ApplyRejectedError{Reason: fmt.Sprintf(format, args...)}
}

// TransientIOError wraps a local or remote I/O failure that is retried on the next cycle.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error {
	return e.Err
}

func (e *TransientIOError) Is(target error) bool {
	return target == ErrTransientIO
}

// Transient wraps err as a TransientIOError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientIOError{Op: op, Err: err}
}

func IsRejected(err error) bool {
	return errors.Is(err, ErrApplyRejected)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientIO)
}
