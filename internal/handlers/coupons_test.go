package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/services"
)

func newCouponRouter(h *CouponHandlers) chi.Router {
	router := chi.NewRouter()
	router.Group(h.Routes)
	return router
}

func TestCouponHandlersValidate(t *testing.T) {
	var captured services.CouponValidationRequest
	svc := &stubCouponService{
		validateFn: func(_ context.Context, req services.CouponValidationRequest) (services.CouponValidation, error) {
			captured = req
			return services.CouponValidation{
				Coupon:         services.Coupon{Code: "WELCOME10", DiscountType: domain.DiscountTypePercentage},
				OriginalAmount: decimal.RequireFromString("200"),
				DiscountAmount: decimal.RequireFromString("20"),
				FinalAmount:    decimal.RequireFromString("180"),
			}, nil
		},
	}

	rr := httptest.NewRecorder()
	newCouponRouter(NewCouponHandlers(nil, svc)).ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/coupons:validate",
		`{"code":"welcome10","target_kind":"Consultation","target_id":"off_1","amount":"200"}`, userIdentity("user-1")))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" || captured.Target.Kind != domain.PurchaseKindConsultation {
		t.Fatalf("unexpected request %#v", captured)
	}
	if !captured.Amount.Equal(decimal.RequireFromString("200")) {
		t.Fatalf("unexpected amount %s", captured.Amount)
	}
	var resp couponValidationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Valid || resp.DiscountAmount != "20.00" || resp.FinalAmount != "180.00" {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestCouponHandlersValidateRejectsBadAmount(t *testing.T) {
	rr := httptest.NewRecorder()
	newCouponRouter(NewCouponHandlers(nil, &stubCouponService{})).ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/coupons:validate",
		`{"code":"X","target_kind":"course","target_id":"c","amount":"12.345"}`, userIdentity("user-1")))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCouponHandlersValidateMapsRejection(t *testing.T) {
	svc := &stubCouponService{
		validateFn: func(context.Context, services.CouponValidationRequest) (services.CouponValidation, error) {
			return services.CouponValidation{}, services.ErrCouponExpired
		},
	}

	rr := httptest.NewRecorder()
	newCouponRouter(NewCouponHandlers(nil, svc)).ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/coupons:validate",
		`{"code":"OLD","target_kind":"course","target_id":"c","amount":"10"}`, userIdentity("user-1")))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["error"] != "coupon_expired" {
		t.Fatalf("expected coupon_expired, got %v", payload["error"])
	}
}

func TestCouponHandlersAttemptLimit(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc := &stubCouponService{
		validateFn: func(context.Context, services.CouponValidationRequest) (services.CouponValidation, error) {
			return services.CouponValidation{}, services.ErrCouponNotFound
		},
	}
	router := newCouponRouter(NewCouponHandlers(nil, svc, WithCouponAttemptLimit(2, time.Minute, clock)))
	body := `{"code":"GUESS","target_kind":"course","target_id":"c","amount":"10"}`

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/coupons:validate", body, userIdentity("user-1")))
		statuses = append(statuses, rr.Code)
	}
	if statuses[0] != http.StatusNotFound || statuses[1] != http.StatusNotFound || statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected statuses %v", statuses)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/coupons:validate", body, userIdentity("user-2")))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("other users must not share the window, got %d", rr.Code)
	}

	now = now.Add(time.Minute)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthedRequest(http.MethodPost, "/coupons:validate", body, userIdentity("user-1")))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected window to reset, got %d", rr.Code)
	}
}
