package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing input
	ErrValidation = errors.New("validation failed")

	// ErrAuthorization marks a principal without a claim to perform the action
	ErrAuthorization = errors.New("not authorized")

	// ErrConflict marks an approval record that was already decided
	ErrConflict = errors.New("approval already decided")

	// ErrResolution marks an expense for which no approver could be resolved
	ErrResolution = errors.New("no approver could be resolved")

	// ErrPersistence marks a failed required write
	ErrPersistence = errors.New("storage failure")

	// ErrNotFound marks a missing entity
	ErrNotFound = errors.New("not found")
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func authorizationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

// actionError prefixes err with the action the caller attempted,
// e.g. "failed to approve expense: approval already decided"
func actionError(action string, err error) error {
	return fmt.Errorf("failed to %s expense: %w", action, err)
}
