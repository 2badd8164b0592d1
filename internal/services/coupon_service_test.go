package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/masar-academy/api/internal/domain"
)

func TestCalculateDiscount(t *testing.T) {
	tests := []struct {
		name   string
		coupon domain.Coupon
		amount string
		want   string
	}{
		{name: "percentage rounds to cents", coupon: domain.Coupon{DiscountType: domain.DiscountTypePercentage, DiscountValue: mustMoney("20")}, amount: "99.99", want: "20.00"},
		{name: "percentage over hundred clamps", coupon: domain.Coupon{DiscountType: domain.DiscountTypePercentage, DiscountValue: mustMoney("150")}, amount: "80.00", want: "80.00"},
		{name: "fixed capped at amount", coupon: domain.Coupon{DiscountType: domain.DiscountTypeFixed, DiscountValue: mustMoney("500")}, amount: "250.00", want: "250.00"},
		{name: "fixed below amount", coupon: domain.Coupon{DiscountType: domain.DiscountTypeFixed, DiscountValue: mustMoney("30")}, amount: "250.00", want: "30.00"},
		{name: "negative value ignored", coupon: domain.Coupon{DiscountType: domain.DiscountTypeFixed, DiscountValue: mustMoney("-5")}, amount: "10.00", want: "0.00"},
		{name: "zero amount", coupon: domain.Coupon{DiscountType: domain.DiscountTypePercentage, DiscountValue: mustMoney("50")}, amount: "0", want: "0.00"},
		{name: "unknown type", coupon: domain.Coupon{DiscountType: "bogo", DiscountValue: mustMoney("50")}, amount: "10.00", want: "0.00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			amount := mustMoney(tc.amount)
			got := CalculateDiscount(tc.coupon, amount)
			if domain.FormatMoney(got) != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, domain.FormatMoney(got))
			}
			if got.GreaterThan(amount) || got.IsNegative() {
				t.Fatalf("discount %s outside [0, %s]", got, amount)
			}
		})
	}
}

func TestCouponServiceValidateCoupon(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	one := 1
	past := testNow.Add(-time.Hour)
	future := testNow.Add(24 * time.Hour)

	createCoupon(t, h, UpsertCouponCommand{Code: "WELCOME", DiscountValue: mustMoney("10")})
	createCoupon(t, h, UpsertCouponCommand{Code: "SOON", DiscountValue: mustMoney("10"), ValidFrom: future})
	createCoupon(t, h, UpsertCouponCommand{Code: "OLD", DiscountValue: mustMoney("10"), ValidFrom: testNow.Add(-48 * time.Hour), ValidUntil: &past, MinPurchaseAmount: mustMoney("1000")})
	createCoupon(t, h, UpsertCouponCommand{Code: "BIG", DiscountValue: mustMoney("10"), MinPurchaseAmount: mustMoney("300")})
	createCoupon(t, h, UpsertCouponCommand{Code: "COURSES", DiscountValue: mustMoney("10"), ApplicableTo: domain.CouponScopeCourses})
	createCoupon(t, h, UpsertCouponCommand{Code: "PICKED", DiscountValue: mustMoney("10"), ApplicableTo: domain.CouponScopeSpecific, AllowedConsultationIDs: []string{testOfferingID}})
	createCoupon(t, h, UpsertCouponCommand{Code: "SINGLE", DiscountValue: mustMoney("10"), MaxUses: &one})
	createCoupon(t, h, UpsertCouponCommand{Code: "ONCE", DiscountValue: mustMoney("10")})
	createCoupon(t, h, UpsertCouponCommand{Code: "OFF", DiscountValue: mustMoney("10"), ValidFrom: testNow.Add(-48 * time.Hour), ValidUntil: &past})
	_, err := h.coupons.DeactivateCoupon(ctx, "OFF", admin)
	must(t, err)
	_, err = h.coupons.RedeemCoupon(ctx, RedeemCouponCommand{Code: "SINGLE", UserID: userB.ID, OrderID: "ord-b"})
	must(t, err)
	_, err = h.coupons.RedeemCoupon(ctx, RedeemCouponCommand{Code: "ONCE", UserID: userA.ID, OrderID: "ord-a"})
	must(t, err)

	consultation := CouponTarget{Kind: domain.PurchaseKindConsultation, ID: testOfferingID}
	tests := []struct {
		name   string
		code   string
		target CouponTarget
		want   *Error
	}{
		{name: "unknown", code: "NOPE", target: consultation, want: ErrCouponNotFound},
		{name: "inactive wins over expired", code: "OFF", target: consultation, want: ErrCouponInactive},
		{name: "not yet valid", code: "SOON", target: consultation, want: ErrCouponNotYetValid},
		{name: "expired wins over minimum", code: "OLD", target: consultation, want: ErrCouponExpired},
		{name: "cap reached", code: "SINGLE", target: consultation, want: ErrCouponExhausted},
		{name: "already used by user", code: "ONCE", target: consultation, want: ErrCouponAlreadyRedeemed},
		{name: "below minimum", code: "BIG", target: consultation, want: ErrCouponBelowMinimum},
		{name: "wrong scope", code: "COURSES", target: consultation, want: ErrCouponScopeMismatch},
		{name: "specific other offering", code: "PICKED", target: CouponTarget{Kind: domain.PurchaseKindConsultation, ID: "consult-2"}, want: ErrCouponScopeMismatch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.coupons.ValidateCoupon(ctx, CouponValidationRequest{
				Code:   tc.code,
				UserID: userA.ID,
				Target: tc.target,
				Amount: mustMoney("250.00"),
			})
			expectCode(t, err, tc.want)
		})
	}

	valid, err := h.coupons.ValidateCoupon(ctx, CouponValidationRequest{Code: " picked ", UserID: userA.ID, Target: consultation, Amount: mustMoney("250.00")})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if domain.FormatMoney(valid.DiscountAmount) != "25.00" || domain.FormatMoney(valid.FinalAmount) != "225.00" {
		t.Fatalf("unexpected breakdown %+v", valid)
	}
	if !valid.OriginalAmount.Equal(valid.DiscountAmount.Add(valid.FinalAmount)) {
		t.Fatalf("breakdown does not balance")
	}

	_, err = h.coupons.ValidateCoupon(ctx, CouponValidationRequest{Code: "WELCOME", Target: consultation, Amount: mustMoney("1.005")})
	expectCode(t, err, ErrCouponInvalidInput)
}

func TestCouponServiceRedeemCoupon(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	two := 2
	createCoupon(t, h, UpsertCouponCommand{Code: "TWICE", DiscountValue: mustMoney("10"), MaxUses: &two})

	first, err := h.coupons.RedeemCoupon(ctx, RedeemCouponCommand{Code: "twice", UserID: userA.ID, OrderID: "ord-1"})
	must(t, err)
	if first.UsedCount != 1 {
		t.Fatalf("expected usedCount 1, got %d", first.UsedCount)
	}
	replay, err := h.coupons.RedeemCoupon(ctx, RedeemCouponCommand{Code: "TWICE", UserID: userA.ID, OrderID: "ord-1"})
	must(t, err)
	if replay.UsedCount != 1 {
		t.Fatalf("replay must not increment, got %d", replay.UsedCount)
	}
	_, err = h.coupons.RedeemCoupon(ctx, RedeemCouponCommand{Code: "TWICE", UserID: userA.ID, OrderID: "ord-2"})
	expectCode(t, err, ErrCouponAlreadyRedeemed)
	_, err = h.coupons.RedeemCoupon(ctx, RedeemCouponCommand{Code: "TWICE", UserID: userB.ID, OrderID: "ord-3"})
	must(t, err)
	_, err = h.coupons.RedeemCoupon(ctx, RedeemCouponCommand{Code: "TWICE", UserID: "user-c", OrderID: "ord-4"})
	expectCode(t, err, ErrCouponExhausted)
	_, err = h.coupons.RedeemCoupon(ctx, RedeemCouponCommand{Code: "TWICE", UserID: "user-c"})
	expectCode(t, err, ErrCouponInvalidInput)
}

func TestCouponServiceAdministration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coupons.CreateCoupon(ctx, UpsertCouponCommand{Actor: userA, Code: "MINE", DiscountType: domain.DiscountTypeFixed, DiscountValue: mustMoney("5")})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if !h.hasAudit("MINE", domain.AuditUnauthorizedAccess) {
		t.Fatalf("expected unauthorized attempt audited, got %v", h.auditActions(""))
	}

	invalid := []UpsertCouponCommand{
		{Actor: admin, Code: " ", DiscountType: domain.DiscountTypeFixed},
		{Actor: admin, Code: "X", DiscountType: "bogo"},
		{Actor: admin, Code: "X", DiscountType: domain.DiscountTypeFixed, ApplicableTo: domain.CouponScopeSpecific},
		{Actor: admin, Code: "X", DiscountType: domain.DiscountTypeFixed, MaxUses: new(int)},
		{Actor: admin, Code: "X", DiscountType: domain.DiscountTypeFixed, MinPurchaseAmount: mustMoney("-1")},
	}
	for i, cmd := range invalid {
		if _, err := h.coupons.CreateCoupon(ctx, cmd); CodeOf(err) != ErrCouponInvalidInput.Code {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}

	created, err := h.coupons.CreateCoupon(ctx, UpsertCouponCommand{
		Actor:         admin,
		Code:          "eid",
		DiscountType:  domain.DiscountTypeFixed,
		DiscountValue: mustMoney("15.555"),
		IsActive:      true,
	})
	must(t, err)
	if created.Code != "EID" || domain.FormatMoney(created.DiscountValue) != "15.56" || created.ApplicableTo != domain.CouponScopeAll {
		t.Fatalf("unexpected coupon %+v", created)
	}
	_, err = h.coupons.CreateCoupon(ctx, UpsertCouponCommand{Actor: admin, Code: "EID", DiscountType: domain.DiscountTypeFixed, IsActive: true})
	expectCode(t, err, ErrCouponDuplicateCode)

	three := 3
	stale := int64(99)
	_, err = h.coupons.UpdateCoupon(ctx, UpsertCouponCommand{Actor: admin, Code: "EID", DiscountType: domain.DiscountTypeFixed, DiscountValue: decimal.NewFromInt(20), ExpectedVersion: &stale, IsActive: true})
	expectCode(t, err, ErrCouponConflict)
	updated, err := h.coupons.UpdateCoupon(ctx, UpsertCouponCommand{Actor: admin, Code: "EID", DiscountType: domain.DiscountTypeFixed, DiscountValue: decimal.NewFromInt(20), MaxUses: &three, IsActive: true})
	must(t, err)
	if updated.Version != created.Version+1 || *updated.MaxUses != 3 {
		t.Fatalf("unexpected update %+v", updated)
	}

	_, err = h.coupons.RedeemCoupon(ctx, RedeemCouponCommand{Code: "EID", UserID: userA.ID, OrderID: "ord-1"})
	must(t, err)
	_, err = h.coupons.RedeemCoupon(ctx, RedeemCouponCommand{Code: "EID", UserID: userB.ID, OrderID: "ord-2"})
	must(t, err)
	one := 1
	_, err = h.coupons.UpdateCoupon(ctx, UpsertCouponCommand{Actor: admin, Code: "EID", DiscountType: domain.DiscountTypeFixed, DiscountValue: decimal.NewFromInt(20), MaxUses: &one, IsActive: true})
	expectCode(t, err, ErrCouponInvalidInput)

	deactivated, err := h.coupons.DeactivateCoupon(ctx, "eid", admin)
	must(t, err)
	if deactivated.IsActive || deactivated.UsedCount != 2 {
		t.Fatalf("unexpected deactivated coupon %+v", deactivated)
	}
	again, err := h.coupons.DeactivateCoupon(ctx, "EID", admin)
	must(t, err)
	if again.Version != deactivated.Version {
		t.Fatalf("deactivating twice must not write")
	}

	got, err := h.coupons.GetCoupon(ctx, "EID", admin)
	must(t, err)
	if len(got.Redemptions) != 2 {
		t.Fatalf("expected redemptions preserved across updates, got %d", len(got.Redemptions))
	}
	_, err = h.coupons.GetCoupon(ctx, "EID", userA)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	page, err := h.coupons.ListCoupons(ctx, admin, CouponListFilter{})
	must(t, err)
	if len(page.Items) != 1 {
		t.Fatalf("expected one coupon, got %d", len(page.Items))
	}
	for _, action := range []domain.AuditAction{domain.AuditCouponCreated, domain.AuditCouponUpdated, domain.AuditCouponDeactivated} {
		if !h.hasAudit("EID", action) {
			t.Fatalf("expected %s audited", action)
		}
	}
}
