package repositories

import "fmt"

// CouponErrorCode enumerates failure reasons for the atomic redemption update.
type CouponErrorCode string

const (
	// CouponErrorExhausted indicates usedCount already reached maxUses.
	CouponErrorExhausted CouponErrorCode = "coupon_exhausted"
	// CouponErrorAlreadyRedeemed indicates the user redeemed the coupon with another order.
	CouponErrorAlreadyRedeemed CouponErrorCode = "coupon_already_redeemed"
	// CouponErrorInactive indicates the coupon was deactivated before the redemption committed.
	CouponErrorInactive CouponErrorCode = "coupon_inactive"
	// CouponErrorDuplicateCode indicates a coupon with the same normalised code exists.
	CouponErrorDuplicateCode CouponErrorCode = "coupon_duplicate_code"
)

// CouponError wraps coupon-specific failures with machine readable codes.
type CouponError struct {
	Op      string
	Code    CouponErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CouponError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CouponError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound implements RepositoryError.
func (e *CouponError) IsNotFound() bool { return false }

// IsConflict implements RepositoryError. Every coupon error is a conflict on the coupon document.
func (e *CouponError) IsConflict() bool { return e != nil }

// IsUnavailable implements RepositoryError.
func (e *CouponError) IsUnavailable() bool { return false }

// NewCouponError constructs a typed coupon error.
func NewCouponError(code CouponErrorCode, message string, err error) *CouponError {
	if message == "" {
		message = string(code)
	}
	return &CouponError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
