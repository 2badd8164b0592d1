package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/masar-academy/api/internal/domain"
	pfirestore "github.com/masar-academy/api/internal/platform/firestore"
	"github.com/masar-academy/api/internal/platform/pagination"
	"github.com/masar-academy/api/internal/repositories"
)

// CouponRepository stores coupons keyed by normalised code. Redemptions live inline on the coupon
// document so the cap and the per-user uniqueness are checked against a single snapshot.
type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.Collection[couponDocument]
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		provider: provider,
		coupons:  pfirestore.NewCollection[couponDocument](provider, couponsCollection),
	}, nil
}

func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	code := domain.NormalizeCouponCode(coupon.Code)
	coupon.Code = code
	err := r.coupons.Create(ctx, code, encodeCoupon(coupon))
	if status.Code(errors.Unwrap(err)) == codes.AlreadyExists {
		return repositories.NewCouponError(repositories.CouponErrorDuplicateCode, "coupon "+code+" already exists", err)
	}
	return wrap("coupons.insert", err)
}

func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon, expectedVersion int64) (domain.Coupon, error) {
	coupon.Code = domain.NormalizeCouponCode(coupon.Code)
	err := r.provider.InTx(ctx, func(ctx context.Context, tx *pfirestore.Tx) error {
		current, ref, err := r.load(ctx, tx, coupon.Code)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return repositories.ConflictError("coupons.update", "coupon %s is at version %d, expected %d", coupon.Code, current.Version, expectedVersion)
		}
		// Usage is owned by Redeem and never overwritten by administrative edits.
		coupon.UsedCount = current.UsedCount
		coupon.Redemptions = current.Redemptions
		coupon.Version = expectedVersion + 1
		return tx.Put(ref, encodeCoupon(coupon))
	})
	if err != nil {
		return domain.Coupon{}, wrap("coupons.update", err)
	}
	return coupon, nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	key := domain.NormalizeCouponCode(code)
	doc, err := r.coupons.Get(ctx, key)
	if err != nil {
		return domain.Coupon{}, err
	}
	return decodeCoupon(doc.Data)
}

func (r *CouponRepository) FindRedemption(ctx context.Context, code, userID string) (domain.CouponRedemption, error) {
	coupon, err := r.FindByCode(ctx, code)
	if err != nil {
		return domain.CouponRedemption{}, err
	}
	redemption, ok := coupon.RedeemedBy(userID)
	if !ok {
		return domain.CouponRedemption{}, repositories.NotFoundError("coupons.redemption", "no redemption of %s by %s", coupon.Code, userID)
	}
	return redemption, nil
}

func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	cursor, err := pagination.ParseToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, fmt.Errorf("coupon repository: invalid page token: %w", err)
	}
	after := cursor.After
	limit := pageLimit(filter.Pagination.PageSize)

	docs, err := r.coupons.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
		}
		q = q.OrderBy("code", firestore.Asc)
		if after != "" {
			q = q.StartAfter(after)
		}
		return q.Limit(limit + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}

	var next string
	if len(docs) > limit {
		docs = docs[:limit]
		next = pagination.AfterKey(docs[len(docs)-1].Data.Code).Token()
	}
	items := make([]domain.Coupon, 0, len(docs))
	for _, doc := range docs {
		c, err := decodeCoupon(doc.Data)
		if err != nil {
			return domain.CursorPage[domain.Coupon]{}, err
		}
		items = append(items, c)
	}
	return domain.CursorPage[domain.Coupon]{Items: items, NextPageToken: next}, nil
}

// Redeem reads the coupon inside a transaction and appends the redemption only when the cap and
// the per-user uniqueness still hold. Contending transactions are retried by Firestore, so the
// checks always run against the committed count.
func (r *CouponRepository) Redeem(ctx context.Context, code string, redemption domain.CouponRedemption) (repositories.CouponRedeemResult, error) {
	key := domain.NormalizeCouponCode(code)
	var result repositories.CouponRedeemResult
	err := r.provider.InTx(ctx, func(ctx context.Context, tx *pfirestore.Tx) error {
		coupon, ref, err := r.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if existing, found := coupon.RedeemedBy(redemption.UserID); found {
			if existing.OrderID == redemption.OrderID {
				result = repositories.CouponRedeemResult{Coupon: coupon, Replayed: true}
				return nil
			}
			return repositories.NewCouponError(repositories.CouponErrorAlreadyRedeemed, "", nil)
		}
		if !coupon.IsActive {
			return repositories.NewCouponError(repositories.CouponErrorInactive, "", nil)
		}
		if coupon.Exhausted() {
			return repositories.NewCouponError(repositories.CouponErrorExhausted, "", nil)
		}
		next := coupon
		next.Redemptions = append(slices.Clone(coupon.Redemptions), redemption)
		next.UsedCount++
		next.Version++
		next.UpdatedAt = redemption.UsedAt
		if err := tx.Put(ref, encodeCoupon(next)); err != nil {
			return err
		}
		result = repositories.CouponRedeemResult{Coupon: next}
		return nil
	})
	if err != nil {
		return repositories.CouponRedeemResult{}, wrap("coupons.redeem", err)
	}
	return result, nil
}

// Release removes the redemption of (userID, orderID) and decrements usedCount in the same write.
func (r *CouponRepository) Release(ctx context.Context, code, userID, orderID string) error {
	key := domain.NormalizeCouponCode(code)
	err := r.provider.InTx(ctx, func(ctx context.Context, tx *pfirestore.Tx) error {
		coupon, ref, err := r.load(ctx, tx, key)
		var storeErr *repositories.StoreError
		if errors.As(err, &storeErr) && storeErr.IsNotFound() {
			return nil
		}
		if err != nil {
			return err
		}
		next, held := coupon.WithoutRedemption(userID, orderID)
		if !held {
			return nil
		}
		next.Version++
		return tx.Put(ref, encodeCoupon(next))
	})
	return wrap("coupons.release", err)
}

func (r *CouponRepository) load(ctx context.Context, tx *pfirestore.Tx, code string) (domain.Coupon, *firestore.DocumentRef, error) {
	ref, err := r.coupons.Ref(ctx, code)
	if err != nil {
		return domain.Coupon{}, nil, err
	}
	if written, ok := tx.Written(ref); ok {
		if doc, ok := written.(couponDocument); ok {
			coupon, err := decodeCoupon(doc)
			return coupon, ref, err
		}
	}
	snap, err := tx.Get(ref)
	if err != nil {
		if isNotFound(err) {
			return domain.Coupon{}, nil, repositories.NotFoundError("coupons.get", "coupon %s not found", code)
		}
		return domain.Coupon{}, nil, err
	}
	var doc couponDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Coupon{}, nil, fmt.Errorf("decode coupon %s: %w", code, err)
	}
	coupon, err := decodeCoupon(doc)
	return coupon, ref, err
}

