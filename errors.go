package ecgstore

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// Data errors
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrConflict      = errors.New("concurrent modification detected")
	ErrValidation    = errors.New("invalid record data")

	// Caller errors
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidConfig   = errors.New("invalid configuration")

	// Store errors
	ErrRepository         = errors.New("repository operation failed")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrBackendUnavailable = errors.New("backend unavailable")

	// Cache errors. These never reach callers of the service layer;
	// cache failures degrade to direct store access.
	ErrCache     = errors.New("cache operation failed")
	ErrCacheMiss = errors.New("cache key not found")
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// Common error checking helpers

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsAlreadyExists checks if an error is a uniqueness violation
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsConflict checks if an error is a conflict/concurrent modification error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsRepository checks if an error is an unexpected store-level failure
func IsRepository(err error) bool {
	return errors.Is(err, ErrRepository)
}

// IsCacheMiss checks if an error is a cache miss (as opposed to a cache failure)
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
