package handlers

import (
	"context"
	"net/http"
	"strings"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/services"
)

type confirmBookingRequest struct {
	ConfirmedDateTime string `json:"confirmed_date_time"`
	Notes             string `json:"notes"`
}

type updateNotesRequest struct {
	Notes string `json:"notes"`
}

func (h *AdminHandlers) listBookings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	filter, ok := parseBookingFilter(w, r)
	if !ok {
		return
	}
	filter.UserID = strings.TrimSpace(r.URL.Query().Get("user_id"))

	page, err := h.bookings.ListBookings(ctx, actor, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildList(page, func(b services.Booking) bookingPayload {
		return buildBookingPayload(b, true)
	}))
}

func (h *AdminHandlers) getBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r, "bookingID", "booking")
	if !ok {
		return
	}
	booking, err := h.bookings.GetBooking(ctx, bookingID, actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Booking: buildBookingPayload(booking, true)})
}

func (h *AdminHandlers) confirmBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r, "bookingID", "booking")
	if !ok {
		return
	}
	var req confirmBookingRequest
	if !decodeJSONBody(w, r, maxAdminBodySize, false, &req) {
		return
	}
	confirmed, err := parseTimeParam(strings.TrimSpace(req.ConfirmedDateTime))
	if err != nil {
		writeInvalid(ctx, w, "confirmed_date_time must be an RFC3339 timestamp")
		return
	}

	booking, err := h.bookings.ConfirmBooking(ctx, services.ConfirmBookingCommand{
		BookingID:         bookingID,
		Actor:             actor,
		ConfirmedDateTime: confirmed,
		Notes:             req.Notes,
	})
	h.writeBooking(w, r, booking, err)
}

func (h *AdminHandlers) rescheduleBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r, "bookingID", "booking")
	if !ok {
		return
	}
	var req rescheduleBookingRequest
	if !decodeJSONBody(w, r, maxAdminBodySize, false, &req) {
		return
	}

	booking, err := h.bookings.RescheduleBooking(ctx, services.RescheduleBookingCommand{
		BookingID:   bookingID,
		Actor:       actor,
		Preferred:   domain.Slot{Date: req.Preferred.Date, Time: req.Preferred.Time},
		Alternative: req.Alternative.slot(),
		Reason:      req.Reason,
	})
	h.writeBooking(w, r, booking, err)
}

func (h *AdminHandlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r, "bookingID", "booking")
	if !ok {
		return
	}
	var req cancelBookingRequest
	if !decodeJSONBody(w, r, maxAdminBodySize, true, &req) {
		return
	}

	booking, err := h.bookings.CancelBooking(ctx, services.CancelBookingCommand{
		BookingID: bookingID,
		Actor:     actor,
		Reason:    req.Reason,
	})
	h.writeBooking(w, r, booking, err)
}

func (h *AdminHandlers) completeBooking(w http.ResponseWriter, r *http.Request) {
	if h.bookings == nil {
		writeUnavailable(r.Context(), w, "booking")
		return
	}
	h.bookingAction(w, r, h.bookings.CompleteBooking)
}

func (h *AdminHandlers) markNoShow(w http.ResponseWriter, r *http.Request) {
	if h.bookings == nil {
		writeUnavailable(r.Context(), w, "booking")
		return
	}
	h.bookingAction(w, r, h.bookings.MarkNoShow)
}

func (h *AdminHandlers) bookingAction(w http.ResponseWriter, r *http.Request, action func(context.Context, services.BookingActionCommand) (services.Booking, error)) {
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r, "bookingID", "booking")
	if !ok {
		return
	}
	booking, err := action(r.Context(), services.BookingActionCommand{BookingID: bookingID, Actor: actor})
	h.writeBooking(w, r, booking, err)
}

func (h *AdminHandlers) updateNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r, "bookingID", "booking")
	if !ok {
		return
	}
	var req updateNotesRequest
	if !decodeJSONBody(w, r, maxAdminBodySize, false, &req) {
		return
	}

	booking, err := h.bookings.UpdateAdminNotes(ctx, services.UpdateBookingNotesCommand{
		BookingID: bookingID,
		Actor:     actor,
		Notes:     req.Notes,
	})
	h.writeBooking(w, r, booking, err)
}

func (h *AdminHandlers) writeBooking(w http.ResponseWriter, r *http.Request, booking services.Booking, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Booking: buildBookingPayload(booking, true)})
}
