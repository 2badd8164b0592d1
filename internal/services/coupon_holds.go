package services

import (
	"context"
	"time"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

// couponHolds reserves one use of an order's coupon when the order is stored and gives it back
// when the order fails or is cancelled. All calls run inside the caller's unit of work.
type couponHolds struct {
	repo repositories.CouponRepository
}

// reserve takes the use for order. The second result is false when the same order already held
// it.
func (h couponHolds) reserve(ctx context.Context, order domain.Order, at time.Time) (bool, error) {
	if order.CouponCode == "" {
		return false, nil
	}
	result, err := h.repo.Redeem(ctx, order.CouponCode, domain.CouponRedemption{
		UserID:  order.UserID,
		OrderID: order.ID,
		UsedAt:  at,
	})
	if err != nil {
		return false, mapCouponRepositoryError(err)
	}
	return !result.Replayed, nil
}

func (h couponHolds) release(ctx context.Context, order domain.Order) error {
	if order.CouponCode == "" {
		return nil
	}
	if err := h.repo.Release(ctx, order.CouponCode, order.UserID, order.ID); err != nil {
		return repositoryFailure(err, ErrCouponNotFound, ErrCouponConflict)
	}
	return nil
}
