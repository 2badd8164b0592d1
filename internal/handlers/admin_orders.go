package handlers

import (
	"context"
	"net/http"
	"strings"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/services"
)

type orderReasonRequest struct {
	Reason string `json:"reason"`
}

type verifyTransferRequest struct {
	Notes string `json:"notes"`
}

type transferReviewResponse struct {
	Order   orderPayload    `json:"order"`
	Booking *bookingPayload `json:"booking,omitempty"`
}

type evidenceLinkResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	filter, ok := parseOrderFilter(w, r)
	if !ok {
		return
	}
	values := r.URL.Query()
	filter.UserID = strings.TrimSpace(values.Get("user_id"))
	if raw := strings.ToLower(strings.TrimSpace(values.Get("verification_status"))); raw != "" {
		switch status := domain.VerificationStatus(raw); status {
		case domain.VerificationPending, domain.VerificationVerified, domain.VerificationRejected:
			filter.VerificationStatus = status
		default:
			writeInvalid(ctx, w, "verification_status "+raw+" is not supported")
			return
		}
	}

	page, err := h.orders.ListOrders(ctx, actor, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildList(page, buildOrderPayload))
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID", "order")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID, actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeUnavailable(r.Context(), w, "order")
		return
	}
	h.orderAction(w, r, h.orders.RefundOrder)
}

func (h *AdminHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		writeUnavailable(r.Context(), w, "order")
		return
	}
	h.orderAction(w, r, h.orders.CancelOrder)
}

func (h *AdminHandlers) orderAction(w http.ResponseWriter, r *http.Request, action func(context.Context, services.OrderAdminCommand) (services.Order, error)) {
	ctx := r.Context()
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID", "order")
	if !ok {
		return
	}
	var req orderReasonRequest
	if !decodeJSONBody(w, r, maxAdminBodySize, true, &req) {
		return
	}
	order, err := action(ctx, services.OrderAdminCommand{
		OrderID: orderID,
		Actor:   actor,
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) listPendingTransfers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verification == nil {
		writeUnavailable(ctx, w, "verification")
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
	page, err := h.verification.ListPendingTransfers(ctx, actor, query.page)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildList(page, buildOrderPayload))
}

func (h *AdminHandlers) verifyTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verification == nil {
		writeUnavailable(ctx, w, "verification")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID", "order")
	if !ok {
		return
	}
	var req verifyTransferRequest
	if !decodeJSONBody(w, r, maxAdminBodySize, true, &req) {
		return
	}
	review, err := h.verification.VerifyTransfer(ctx, services.VerifyTransferCommand{
		OrderID: orderID,
		Actor:   actor,
		Notes:   req.Notes,
	})
	writeTransferReview(w, r, review, err)
}

func (h *AdminHandlers) rejectTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verification == nil {
		writeUnavailable(ctx, w, "verification")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID", "order")
	if !ok {
		return
	}
	var req orderReasonRequest
	if !decodeJSONBody(w, r, maxAdminBodySize, false, &req) {
		return
	}
	review, err := h.verification.RejectTransfer(ctx, services.RejectTransferCommand{
		OrderID: orderID,
		Actor:   actor,
		Reason:  req.Reason,
	})
	writeTransferReview(w, r, review, err)
}

func (h *AdminHandlers) evidenceURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verification == nil {
		writeUnavailable(ctx, w, "verification")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID", "order")
	if !ok {
		return
	}
	link, err := h.verification.EvidenceURL(ctx, orderID, actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusOK, evidenceLinkResponse{
		URL:       link.URL,
		ExpiresAt: formatTime(link.ExpiresAt),
	})
}

func writeTransferReview(w http.ResponseWriter, r *http.Request, review services.TransferReview, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	resp := transferReviewResponse{Order: buildOrderPayload(review.Order)}
	if review.Booking != nil {
		booking := buildBookingPayload(*review.Booking, true)
		resp.Booking = &booking
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
