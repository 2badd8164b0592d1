package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/platform/auth"
	"github.com/masar-academy/api/internal/platform/httpx"
	"github.com/masar-academy/api/internal/services"
)

const maxCouponBodySize = 8 * 1024

type validateCouponRequest struct {
	Code       string `json:"code"`
	TargetKind string `json:"target_kind"`
	TargetID   string `json:"target_id"`
	Amount     string `json:"amount"`
}

type couponValidationResponse struct {
	Code           string `json:"code"`
	Valid          bool   `json:"valid"`
	DiscountType   string `json:"discount_type"`
	OriginalAmount string `json:"original_amount"`
	DiscountAmount string `json:"discount_amount"`
	FinalAmount    string `json:"final_amount"`
}

// CouponHandlers exposes coupon validation to authenticated users.
type CouponHandlers struct {
	authn   *auth.Authenticator
	coupons services.CouponService
	limiter attemptLimiter
}

// CouponHandlerOption customises CouponHandlers.
type CouponHandlerOption func(*CouponHandlers)

// WithCouponAttemptLimit caps validation attempts per user within window. Zero disables the cap.
func WithCouponAttemptLimit(limit int, window time.Duration, clock func() time.Time) CouponHandlerOption {
	return func(h *CouponHandlers) {
		h.limiter = newWindowLimiter(limit, window, clock)
	}
}

// WithSharedCouponAttemptLimit keeps the attempt counters in Redis under prefix so every instance
// enforces the same cap.
func WithSharedCouponAttemptLimit(client redis.UniversalClient, prefix string, limit int, window time.Duration) CouponHandlerOption {
	return func(h *CouponHandlers) {
		h.limiter = newRedisLimiter(client, prefix, limit, window)
	}
}

// NewCouponHandlers constructs coupon handlers.
func NewCouponHandlers(authn *auth.Authenticator, coupons services.CouponService, opts ...CouponHandlerOption) *CouponHandlers {
	h := &CouponHandlers{authn: authn, coupons: coupons}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers POST /coupons:validate on the API router.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/coupons:validate", h.validateCoupon)
}

func (h *CouponHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(ctx, identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("too_many_attempts", "too many coupon validation attempts, retry later", http.StatusTooManyRequests))
		return
	}
	var req validateCouponRequest
	if !decodeJSONBody(w, r, maxCouponBodySize, false, &req) {
		return
	}
	amount, err := domain.ParseMoney(req.Amount)
	if err != nil {
		writeInvalid(ctx, w, "amount must be a non-negative decimal with at most 2 places")
		return
	}

	result, err := h.coupons.ValidateCoupon(ctx, services.CouponValidationRequest{
		Code:   req.Code,
		UserID: strings.TrimSpace(identity.UID),
		Target: services.CouponTarget{
			Kind: domain.PurchaseKind(strings.ToLower(strings.TrimSpace(req.TargetKind))),
			ID:   strings.TrimSpace(req.TargetID),
		},
		Amount: amount,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponValidationResponse{
		Code:           result.Coupon.Code,
		Valid:          true,
		DiscountType:   string(result.Coupon.DiscountType),
		OriginalAmount: domain.FormatMoney(result.OriginalAmount),
		DiscountAmount: domain.FormatMoney(result.DiscountAmount),
		FinalAmount:    domain.FormatMoney(result.FinalAmount),
	})
}
