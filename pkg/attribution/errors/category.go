// Package errors classifies failures of attribution runs and retries
// transient source reads.
//
// Retrying belongs to the caller of the engine: validation failures are
// never retried, and store reads are retried only when they are transient.
package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: a locked database, a read timeout.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: a missing table, a closed store.
	CategoryPermanent

	// CategoryInvalidInput indicates the run configuration was rejected
	// before any record was read.
	CategoryInvalidInput
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient marks err as worth retrying.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent marks err as not worth retrying.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// TimeoutError reports a single attempt that exceeded its time bound.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	Err       error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Operation, e.Duration)
}

// Unwrap returns the error the attempt ended with.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// invalidInput is implemented by configuration validation errors.
type invalidInput interface {
	InvalidInput() bool
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	// The outermost classification wins, so a timed-out attempt stays
	// transient whatever the interrupted call reported.
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch e := e.(type) {
		case *CategorizedError:
			return e.Category
		case *TimeoutError:
			return CategoryTransient
		}
	}

	var inv invalidInput
	if errors.As(err, &inv) && inv.InvalidInput() {
		return CategoryInvalidInput
	}

	// Cancellation is the caller's decision; do not retry past it.
	if errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsInvalidInput reports whether the error is a rejected configuration.
func IsInvalidInput(err error) bool {
	return Categorize(err) == CategoryInvalidInput
}
