package repositories

import "fmt"

// BookingErrorCode enumerates booking persistence failures that carry domain meaning.
type BookingErrorCode string

const (
	// BookingErrorDuplicateActive indicates the user already holds an active booking for the offering.
	BookingErrorDuplicateActive BookingErrorCode = "booking_duplicate_active"
	// BookingErrorVersionMismatch indicates a concurrent writer changed the booking first.
	BookingErrorVersionMismatch BookingErrorCode = "booking_version_mismatch"
)

// BookingError wraps booking-specific failures with machine readable codes.
type BookingError struct {
	Op      string
	Code    BookingErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *BookingError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *BookingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound implements RepositoryError.
func (e *BookingError) IsNotFound() bool { return false }

// IsConflict implements RepositoryError. Every booking error is a conflict.
func (e *BookingError) IsConflict() bool { return e != nil }

// IsUnavailable implements RepositoryError.
func (e *BookingError) IsUnavailable() bool { return false }

// NewBookingError constructs a typed booking error.
func NewBookingError(code BookingErrorCode, message string, err error) *BookingError {
	if message == "" {
		message = string(code)
	}
	return &BookingError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
