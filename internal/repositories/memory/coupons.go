package memory

import (
	"context"
	"slices"
	"strings"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

// CouponRepository keeps coupons keyed by normalised code, redemptions inline.
type CouponRepository struct {
	store *Store
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	defer r.store.lock(ctx)()
	code := domain.NormalizeCouponCode(coupon.Code)
	if _, exists := r.store.data.coupons[code]; exists {
		return repositories.NewCouponError(repositories.CouponErrorDuplicateCode, "coupon "+code+" already exists", nil)
	}
	coupon.Code = code
	r.store.data.coupons[code] = coupon
	return nil
}

func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon, expectedVersion int64) (domain.Coupon, error) {
	defer r.store.lock(ctx)()
	code := domain.NormalizeCouponCode(coupon.Code)
	current, ok := r.store.data.coupons[code]
	if !ok {
		return domain.Coupon{}, repositories.NotFoundError("coupons.update", "coupon %s not found", code)
	}
	if current.Version != expectedVersion {
		return domain.Coupon{}, repositories.ConflictError("coupons.update", "coupon %s version %d, expected %d", code, current.Version, expectedVersion)
	}
	// Usage is owned by Redeem and never overwritten by administrative edits.
	coupon.Code = code
	coupon.UsedCount = current.UsedCount
	coupon.Redemptions = current.Redemptions
	coupon.Version = expectedVersion + 1
	r.store.data.coupons[code] = coupon
	return coupon, nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	defer r.store.lock(ctx)()
	coupon, ok := r.store.data.coupons[domain.NormalizeCouponCode(code)]
	if !ok {
		return domain.Coupon{}, repositories.NotFoundError("coupons.get", "coupon %s not found", code)
	}
	return coupon, nil
}

func (r *CouponRepository) FindRedemption(ctx context.Context, code, userID string) (domain.CouponRedemption, error) {
	defer r.store.lock(ctx)()
	coupon, ok := r.store.data.coupons[domain.NormalizeCouponCode(code)]
	if !ok {
		return domain.CouponRedemption{}, repositories.NotFoundError("coupons.redemption", "coupon %s not found", code)
	}
	redemption, ok := coupon.RedeemedBy(userID)
	if !ok {
		return domain.CouponRedemption{}, repositories.NotFoundError("coupons.redemption", "no redemption of %s by %s", code, userID)
	}
	return redemption, nil
}

func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	defer r.store.lock(ctx)()
	var items []domain.Coupon
	for _, c := range r.store.data.coupons {
		if filter.ActiveOnly && !c.IsActive {
			continue
		}
		items = append(items, c)
	}
	slices.SortFunc(items, func(a, b domain.Coupon) int { return strings.Compare(a.Code, b.Code) })
	return page(items, filter.Pagination, func(c domain.Coupon) string { return c.Code })
}

func (r *CouponRepository) Redeem(ctx context.Context, code string, redemption domain.CouponRedemption) (repositories.CouponRedeemResult, error) {
	defer r.store.lock(ctx)()
	key := domain.NormalizeCouponCode(code)
	coupon, ok := r.store.data.coupons[key]
	if !ok {
		return repositories.CouponRedeemResult{}, repositories.NotFoundError("coupons.redeem", "coupon %s not found", key)
	}
	if existing, found := coupon.RedeemedBy(redemption.UserID); found {
		if existing.OrderID == redemption.OrderID {
			return repositories.CouponRedeemResult{Coupon: coupon, Replayed: true}, nil
		}
		return repositories.CouponRedeemResult{}, repositories.NewCouponError(repositories.CouponErrorAlreadyRedeemed, "", nil)
	}
	if !coupon.IsActive {
		return repositories.CouponRedeemResult{}, repositories.NewCouponError(repositories.CouponErrorInactive, "", nil)
	}
	if coupon.Exhausted() {
		return repositories.CouponRedeemResult{}, repositories.NewCouponError(repositories.CouponErrorExhausted, "", nil)
	}
	next := coupon
	next.Redemptions = append(slices.Clone(coupon.Redemptions), redemption)
	next.UsedCount++
	next.Version++
	next.UpdatedAt = redemption.UsedAt
	r.store.data.coupons[key] = next
	return repositories.CouponRedeemResult{Coupon: next}, nil
}

func (r *CouponRepository) Release(ctx context.Context, code, userID, orderID string) error {
	defer r.store.lock(ctx)()
	key := domain.NormalizeCouponCode(code)
	coupon, ok := r.store.data.coupons[key]
	if !ok {
		return nil
	}
	next, held := coupon.WithoutRedemption(userID, orderID)
	if !held {
		return nil
	}
	next.Version++
	r.store.data.coupons[key] = next
	return nil
}
