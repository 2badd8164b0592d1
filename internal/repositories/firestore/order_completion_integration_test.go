//go:build integration

package firestore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/masar-academy/api/internal/domain"
)

func TestCourseOrderCompletionIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "completion-test")

	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	coupon := domain.Coupon{
		Code:          "SPRING",
		DiscountType:  domain.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(20),
		ValidFrom:     now.Add(-time.Hour),
		ApplicableTo:  domain.CouponScopeAll,
		IsActive:      true,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := registry.Coupons().Insert(ctx, coupon); err != nil {
		t.Fatalf("insert coupon: %v", err)
	}

	newOrder := func(id string) domain.Order {
		return domain.Order{
			ID:             id,
			UserID:         "user-1",
			Purchase:       domain.Purchase{Kind: domain.PurchaseKindCourse, CourseID: "course-1", TargetID: "course-1"},
			OriginalAmount: decimal.RequireFromString("99.99"),
			DiscountAmount: decimal.RequireFromString("20.00"),
			Amount:         decimal.RequireFromString("79.99"),
			Currency:       "SAR",
			CouponCode:     "SPRING",
			Status:         domain.OrderStatusPending,
			PaymentMethod:  domain.PaymentMethodStripe,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	// Checkout: number, order and coupon hold commit together.
	place := func(id string) domain.Order {
		t.Helper()
		order := newOrder(id)
		err := registry.RunInTx(ctx, func(ctx context.Context) error {
			seq, err := registry.Counters().Next(ctx, "orders:2025", 999999)
			if err != nil {
				return err
			}
			order.OrderNumber = fmt.Sprintf("MA-2025-%06d", seq)
			if err := registry.Orders().Insert(ctx, order); err != nil {
				return err
			}
			_, err = registry.Coupons().Redeem(ctx, order.CouponCode, domain.CouponRedemption{UserID: order.UserID, OrderID: order.ID, UsedAt: now})
			return err
		})
		if err != nil {
			t.Fatalf("place order %s: %v", id, err)
		}
		return order
	}

	complete := func(orderID string) error {
		return registry.RunInTx(ctx, func(ctx context.Context) error {
			order, err := registry.Orders().FindByID(ctx, orderID)
			if err != nil {
				return err
			}
			result, err := registry.Coupons().Redeem(ctx, order.CouponCode, domain.CouponRedemption{UserID: order.UserID, OrderID: order.ID, UsedAt: now})
			if err != nil {
				return err
			}
			if !result.Replayed {
				return fmt.Errorf("expected the checkout hold to be confirmed")
			}
			order.Status = domain.OrderStatusCompleted
			order.CompletedAt = &now
			if _, err := registry.Orders().Update(ctx, order, order.Version); err != nil {
				return err
			}
			return registry.Enrollments().Grant(ctx, domain.CourseEnrollment{
				UserID:    order.UserID,
				CourseID:  order.Purchase.CourseID,
				OrderID:   order.ID,
				GrantedAt: now,
			})
		})
	}

	first := place("ord-1")
	if first.OrderNumber != "MA-2025-000001" {
		t.Fatalf("unexpected order number %s", first.OrderNumber)
	}
	if err := complete(first.ID); err != nil {
		t.Fatalf("complete course order: %v", err)
	}

	stored, err := registry.Orders().FindByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if stored.Status != domain.OrderStatusCompleted || stored.Version != 2 {
		t.Fatalf("unexpected order %+v", stored)
	}
	enrollment, err := registry.enrollments.enrollments.Get(ctx, enrollmentID("user-1", "course-1"))
	if err != nil {
		t.Fatalf("expected enrollment granted: %v", err)
	}
	if enrollment.Data.OrderID != first.ID {
		t.Fatalf("unexpected enrollment %+v", enrollment.Data)
	}
	storedCoupon, err := registry.Coupons().FindByCode(ctx, "SPRING")
	if err != nil {
		t.Fatalf("find coupon: %v", err)
	}
	if storedCoupon.UsedCount != 1 {
		t.Fatalf("expected one use, got %d", storedCoupon.UsedCount)
	}

	// A hold moved to a replacement order inside one transaction leaves a single use.
	err = registry.RunInTx(ctx, func(ctx context.Context) error {
		if err := registry.Coupons().Release(ctx, "SPRING", "user-1", first.ID); err != nil {
			return err
		}
		_, err := registry.Coupons().Redeem(ctx, "SPRING", domain.CouponRedemption{UserID: "user-1", OrderID: "ord-2", UsedAt: now})
		return err
	})
	if err != nil {
		t.Fatalf("move hold: %v", err)
	}
	storedCoupon, err = registry.Coupons().FindByCode(ctx, "SPRING")
	if err != nil {
		t.Fatalf("find coupon: %v", err)
	}
	if storedCoupon.UsedCount != 1 || len(storedCoupon.Redemptions) != 1 || storedCoupon.Redemptions[0].OrderID != "ord-2" {
		t.Fatalf("expected the hold on ord-2, got %d %+v", storedCoupon.UsedCount, storedCoupon.Redemptions)
	}

	// A grant that already exists is kept and does not fail the transaction.
	err = registry.RunInTx(ctx, func(ctx context.Context) error {
		return registry.Enrollments().Grant(ctx, domain.CourseEnrollment{UserID: "user-1", CourseID: "course-1", OrderID: "ord-9", GrantedAt: now})
	})
	if err != nil {
		t.Fatalf("repeat grant: %v", err)
	}
	enrollment, err = registry.enrollments.enrollments.Get(ctx, enrollmentID("user-1", "course-1"))
	if err != nil || enrollment.Data.OrderID != first.ID {
		t.Fatalf("expected original grant kept, got %+v err=%v", enrollment.Data, err)
	}
}
