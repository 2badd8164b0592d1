package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/services"
)

type upsertCouponRequest struct {
	Code                   string   `json:"code"`
	Description            string   `json:"description"`
	DiscountType           string   `json:"discount_type"`
	DiscountValue          string   `json:"discount_value"`
	MaxUses                *int     `json:"max_uses"`
	ValidFrom              string   `json:"valid_from"`
	ValidUntil             string   `json:"valid_until"`
	ApplicableTo           string   `json:"applicable_to"`
	AllowedCourseIDs       []string `json:"allowed_course_ids"`
	AllowedConsultationIDs []string `json:"allowed_consultation_ids"`
	MinPurchaseAmount      string   `json:"min_purchase_amount"`
	IsActive               *bool    `json:"is_active"`
	Version                *int64   `json:"version"`
}

type couponResponse struct {
	Coupon couponPayload `json:"coupon"`
}

// command converts the request. Field validation beyond parsing belongs to the coupon service.
func (req upsertCouponRequest) command(actor services.Actor) (services.UpsertCouponCommand, string) {
	cmd := services.UpsertCouponCommand{
		Actor:                  actor,
		Code:                   req.Code,
		Description:            req.Description,
		DiscountType:           domain.DiscountType(strings.ToLower(strings.TrimSpace(req.DiscountType))),
		MaxUses:                req.MaxUses,
		ApplicableTo:           domain.CouponScope(strings.ToLower(strings.TrimSpace(req.ApplicableTo))),
		AllowedCourseIDs:       req.AllowedCourseIDs,
		AllowedConsultationIDs: req.AllowedConsultationIDs,
		IsActive:               req.IsActive == nil || *req.IsActive,
		ExpectedVersion:        req.Version,
	}
	if cmd.ApplicableTo == "" {
		cmd.ApplicableTo = domain.CouponScopeAll
	}

	value, err := decimal.NewFromString(strings.TrimSpace(req.DiscountValue))
	if err != nil {
		return cmd, "discount_value must be a decimal"
	}
	cmd.DiscountValue = value

	if raw := strings.TrimSpace(req.MinPurchaseAmount); raw != "" {
		minimum, err := domain.ParseMoney(raw)
		if err != nil {
			return cmd, "min_purchase_amount must be a non-negative decimal with at most 2 places"
		}
		cmd.MinPurchaseAmount = minimum
	}
	if raw := strings.TrimSpace(req.ValidFrom); raw != "" {
		from, err := parseTimeParam(raw)
		if err != nil {
			return cmd, "valid_from must be an RFC3339 timestamp"
		}
		cmd.ValidFrom = from
	}
	if raw := strings.TrimSpace(req.ValidUntil); raw != "" {
		until, err := parseTimeParam(raw)
		if err != nil {
			return cmd, "valid_until must be an RFC3339 timestamp"
		}
		cmd.ValidUntil = &until
	}
	return cmd, ""
}

func (h *AdminHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	query, err := parseListQuery(r)
	if err != nil {
		writeInvalid(ctx, w, err.Error())
		return
	}
	filter := services.CouponListFilter{Pagination: query.page}
	if raw := strings.TrimSpace(r.URL.Query().Get("active_only")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			writeInvalid(ctx, w, "active_only must be a boolean")
			return
		}
		filter.ActiveOnly = active
	}

	page, err := h.coupons.ListCoupons(ctx, actor, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildList(page, buildCouponPayload))
}

func (h *AdminHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	var req upsertCouponRequest
	if !decodeJSONBody(w, r, maxAdminBodySize, false, &req) {
		return
	}
	cmd, problem := req.command(actor)
	if problem != "" {
		writeInvalid(ctx, w, problem)
		return
	}

	coupon, err := h.coupons.CreateCoupon(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *AdminHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	code, ok := pathID(w, r, "code", "coupon")
	if !ok {
		return
	}
	coupon, err := h.coupons.GetCoupon(ctx, code, actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *AdminHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	code, ok := pathID(w, r, "code", "coupon")
	if !ok {
		return
	}
	var req upsertCouponRequest
	if !decodeJSONBody(w, r, maxAdminBodySize, false, &req) {
		return
	}
	if body := domain.NormalizeCouponCode(req.Code); body != "" && body != domain.NormalizeCouponCode(code) {
		writeInvalid(ctx, w, "code in body does not match path")
		return
	}
	req.Code = code
	cmd, problem := req.command(actor)
	if problem != "" {
		writeInvalid(ctx, w, problem)
		return
	}
	if cmd.ExpectedVersion == nil {
		if raw := strings.Trim(strings.TrimSpace(r.Header.Get("If-Match")), `"`); raw != "" {
			version, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeInvalid(ctx, w, "If-Match must carry the coupon version")
				return
			}
			cmd.ExpectedVersion = &version
		}
	}

	coupon, err := h.coupons.UpdateCoupon(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *AdminHandlers) deactivateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	code, ok := pathID(w, r, "code", "coupon")
	if !ok {
		return
	}
	coupon, err := h.coupons.DeactivateCoupon(ctx, code, actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}
