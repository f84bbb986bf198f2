// Package errs holds the error kinds shared by every layer of the structured
// encryption stack. Callers match kinds with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication indicates a ciphertext failed tag verification.
	ErrAuthentication = errors.New("ste: authentication failed")

	// ErrCapacityExceeded indicates a cuckoo build overflowed both its eviction
	// chain and its stash.
	ErrCapacityExceeded = errors.New("ste: capacity exceeded")

	// ErrBuildFailure indicates every build attempt overflowed.
	ErrBuildFailure = errors.New("ste: build failure")

	// ErrInvalidParameter indicates an invalid parameter was provided
	ErrInvalidParameter = errors.New("ste: invalid parameter")

	// ErrInvalidState indicates an operation was called in the wrong lifecycle state
	ErrInvalidState = errors.New("ste: invalid state")

	// ErrNotFound indicates a named index or scheme does not exist
	ErrNotFound = errors.New("ste: not found")
)

// Error wraps an underlying error with the operation that failed.
type Error struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ste.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with op. A nil err yields nil.
func E(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Errorf creates an Error of the given kind with a formatted message.
func Errorf(op string, kind error, format string, args ...interface{}) error {
	return &Error{
		Op:  op,
		Err: fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...)),
	}
}

// Kind returns the sentinel err wraps, or nil if it wraps none of them.
func Kind(err error) error {
	for _, kind := range []error{
		ErrAuthentication,
		ErrCapacityExceeded,
		ErrBuildFailure,
		ErrInvalidParameter,
		ErrInvalidState,
		ErrNotFound,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
