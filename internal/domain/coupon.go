package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType selects how a coupon's value is applied.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Valid reports whether the discount type is known.
func (t DiscountType) Valid() bool {
	return t == DiscountTypePercentage || t == DiscountTypeFixed
}

// CouponScope restricts what a coupon may be applied to.
type CouponScope string

const (
	CouponScopeAll           CouponScope = "all"
	CouponScopeCourses       CouponScope = "courses"
	CouponScopeConsultations CouponScope = "consultations"
	CouponScopeSpecific      CouponScope = "specific"
)

// Valid reports whether the scope is known.
func (s CouponScope) Valid() bool {
	switch s {
	case CouponScopeAll, CouponScopeCourses, CouponScopeConsultations, CouponScopeSpecific:
		return true
	}
	return false
}

// CouponRedemption records one user's successful use of a coupon.
type CouponRedemption struct {
	UserID  string
	OrderID string
	UsedAt  time.Time
}

// Coupon is a promotional discount code.
type Coupon struct {
	ID                     string
	Code                   string
	Description            string
	DiscountType           DiscountType
	DiscountValue          decimal.Decimal
	MaxUses                *int
	UsedCount              int
	Redemptions            []CouponRedemption
	ValidFrom              time.Time
	ValidUntil             *time.Time
	ApplicableTo           CouponScope
	AllowedCourseIDs       []string
	AllowedConsultationIDs []string
	MinPurchaseAmount      decimal.Decimal
	IsActive               bool
	CreatedBy              string
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NormalizeCouponCode trims and upper-cases a code so lookups are case-insensitive.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Exhausted reports whether a bounded coupon has no uses left.
func (c Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.UsedCount >= *c.MaxUses
}

// RedeemedBy returns the redemption for userID when present.
func (c Coupon) RedeemedBy(userID string) (CouponRedemption, bool) {
	for _, r := range c.Redemptions {
		if r.UserID == userID {
			return r, true
		}
	}
	return CouponRedemption{}, false
}

// WithoutRedemption returns a copy of c with the use held by (userID, orderID) given back. The
// second result is false when no such use exists.
func (c Coupon) WithoutRedemption(userID, orderID string) (Coupon, bool) {
	idx := slices.IndexFunc(c.Redemptions, func(r CouponRedemption) bool {
		return r.UserID == userID && r.OrderID == orderID
	})
	if idx < 0 {
		return c, false
	}
	c.Redemptions = slices.Delete(slices.Clone(c.Redemptions), idx, idx+1)
	c.UsedCount = max(c.UsedCount-1, 0)
	return c, true
}

// ClampDiscountValue applies the write-time bounds: >= 0 always, <= 100 for percentages.
func ClampDiscountValue(kind DiscountType, value decimal.Decimal) decimal.Decimal {
	if value.IsNegative() {
		value = decimal.Zero
	}
	hundred := decimal.NewFromInt(100)
	if kind == DiscountTypePercentage && value.GreaterThan(hundred) {
		value = hundred
	}
	return value
}
