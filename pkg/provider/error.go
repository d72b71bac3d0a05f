// Package provider holds the error type shared by clients of external providers
// (repository hosting, CI, email).
package provider

import (
	"errors"
	"fmt"
)

// Error reports that an external provider was unreachable or rejected the request.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap builds a provider error, returning nil when err is nil.
func Wrap(providerName, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Provider: providerName, Op: op, Err: err}
}

// IsError reports whether err (or anything it wraps) is a provider error.
func IsError(err error) bool {
	var target *Error
	return errors.As(err, &target)
}
