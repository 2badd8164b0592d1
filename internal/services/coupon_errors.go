package services

// Coupon validation failures, in the order they are checked. The first failing check wins.
var (
	ErrCouponNotFound        = newError(KindNotFound, "coupon_not_found", "coupon: not found")
	ErrCouponInactive        = newError(KindValidation, "coupon_inactive", "coupon: inactive")
	ErrCouponNotYetValid     = newError(KindValidation, "coupon_not_yet_valid", "coupon: not valid yet")
	ErrCouponExpired         = newError(KindValidation, "coupon_expired", "coupon: expired")
	ErrCouponExhausted       = newError(KindStateConflict, "coupon_exhausted", "coupon: usage limit reached")
	ErrCouponAlreadyRedeemed = newError(KindStateConflict, "coupon_already_used", "coupon: already used by this user")
	ErrCouponBelowMinimum    = newError(KindValidation, "coupon_below_minimum", "coupon: purchase amount below minimum")
	ErrCouponScopeMismatch   = newError(KindValidation, "coupon_not_applicable", "coupon: not applicable to this purchase")
)

// Coupon administration failures.
var (
	ErrCouponInvalidInput  = newError(KindValidation, "coupon_invalid_input", "coupon: invalid input")
	ErrCouponForbidden     = newError(KindAuthorization, "coupon_forbidden", "coupon: administrator role required")
	ErrCouponDuplicateCode = newError(KindStateConflict, "coupon_duplicate_code", "coupon: code already exists")
	ErrCouponConflict      = newError(KindStateConflict, "coupon_conflict", "coupon: concurrent update detected")
)
