package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/platform/auth"
	"github.com/masar-academy/api/internal/services"
)

const (
	maxBookingBodySize = 16 * 1024
	transferDateLayout = "2006-01-02"
)

type bankTransferRequest struct {
	EvidencePath      string `json:"evidence_path"`
	BankName          string `json:"bank_name"`
	AccountHolderName string `json:"account_holder_name"`
	TransferDate      string `json:"transfer_date"`
	ReferenceNumber   string `json:"reference_number"`
}

func (req *bankTransferRequest) submission() (*services.BankTransferSubmission, error) {
	if req == nil {
		return nil, nil
	}
	sub := &services.BankTransferSubmission{
		EvidencePath:      strings.TrimSpace(req.EvidencePath),
		BankName:          req.BankName,
		AccountHolderName: req.AccountHolderName,
		ReferenceNumber:   req.ReferenceNumber,
	}
	if raw := strings.TrimSpace(req.TransferDate); raw != "" {
		date, err := time.Parse(transferDateLayout, raw)
		if err != nil {
			return nil, err
		}
		sub.TransferDate = date
	}
	return sub, nil
}

type paymentSelectionRequest struct {
	Method       string               `json:"method"`
	CouponCode   string               `json:"coupon_code"`
	BankTransfer *bankTransferRequest `json:"bank_transfer"`
}

type createBookingRequest struct {
	OfferingID  string                  `json:"offering_id"`
	Preferred   slotPayload             `json:"preferred"`
	Alternative *slotPayload            `json:"alternative"`
	MeetingMode string                  `json:"meeting_mode"`
	UserDetails userDetailsPayload      `json:"user_details"`
	Payment     paymentSelectionRequest `json:"payment"`
}

type rescheduleBookingRequest struct {
	Preferred   slotPayload  `json:"preferred"`
	Alternative *slotPayload `json:"alternative"`
	Reason      string       `json:"reason"`
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

type feedbackRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type bookingResponse struct {
	Booking bookingPayload `json:"booking"`
}

type bookingCheckoutResponse struct {
	Booking bookingPayload `json:"booking"`
	Order   orderPayload   `json:"order"`
}

// BookingHandlers exposes the consultation booking endpoints for authenticated users.
type BookingHandlers struct {
	authn    *auth.Authenticator
	bookings services.BookingService
}

// NewBookingHandlers constructs booking handlers enforcing Firebase authentication.
func NewBookingHandlers(authn *auth.Authenticator, bookings services.BookingService) *BookingHandlers {
	return &BookingHandlers{
		authn:    authn,
		bookings: bookings,
	}
}

// Routes registers the /bookings endpoints.
func (h *BookingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createBooking)
	r.Get("/", h.listBookings)
	r.Get("/{bookingID}", h.getBooking)
	r.Post("/{bookingID}:cancel", h.cancelBooking)
	r.Post("/{bookingID}:reschedule", h.rescheduleBooking)
	r.Post("/{bookingID}:feedback", h.submitFeedback)
}

// userActor scopes user routes to the caller even when the caller also holds staff roles.
func userActor(identity *auth.Identity) services.Actor {
	return domain.Actor{ID: strings.TrimSpace(identity.UID), Type: domain.ActorTypeUser}
}

func (h *BookingHandlers) createBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createBookingRequest
	if !decodeJSONBody(w, r, maxBookingBodySize, false, &req) {
		return
	}
	transfer, err := req.Payment.BankTransfer.submission()
	if err != nil {
		writeInvalid(ctx, w, "payment.bank_transfer.transfer_date must be YYYY-MM-DD")
		return
	}

	profile := req.UserDetails
	if strings.TrimSpace(profile.Email) == "" {
		profile.Email = identity.Email
	}
	if strings.TrimSpace(profile.Locale) == "" {
		profile.Locale = identity.Locale
	}

	checkout, err := h.bookings.CreateBooking(ctx, services.CreateBookingCommand{
		Actor:       userActor(identity),
		OfferingID:  strings.TrimSpace(req.OfferingID),
		Preferred:   domain.Slot{Date: req.Preferred.Date, Time: req.Preferred.Time},
		Alternative: req.Alternative.slot(),
		MeetingMode: domain.MeetingMode(strings.ToLower(strings.TrimSpace(req.MeetingMode))),
		Profile: services.UserDetails{
			FullName: profile.FullName,
			Email:    profile.Email,
			Phone:    profile.Phone,
			Locale:   profile.Locale,
			Notes:    profile.Notes,
		},
		Payment: services.PaymentSelection{
			Method:       domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Payment.Method))),
			CouponCode:   req.Payment.CouponCode,
			BankTransfer: transfer,
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, bookingCheckoutResponse{
		Booking: buildBookingPayload(checkout.Booking, false),
		Order:   buildOrderPayload(checkout.Order),
	})
}

func (h *BookingHandlers) listBookings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	filter, ok := parseBookingFilter(w, r)
	if !ok {
		return
	}
	filter.UserID = strings.TrimSpace(identity.UID)

	page, err := h.bookings.ListBookings(ctx, userActor(identity), filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildList(page, func(b services.Booking) bookingPayload {
		return buildBookingPayload(b, false)
	}))
}

func (h *BookingHandlers) getBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r, "bookingID", "booking")
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(ctx, bookingID, userActor(identity))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Booking: buildBookingPayload(booking, false)})
}

func (h *BookingHandlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r, "bookingID", "booking")
	if !ok {
		return
	}
	var req cancelBookingRequest
	if !decodeJSONBody(w, r, maxBookingBodySize, true, &req) {
		return
	}

	booking, err := h.bookings.CancelBooking(ctx, services.CancelBookingCommand{
		BookingID: bookingID,
		Actor:     userActor(identity),
		Reason:    req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Booking: buildBookingPayload(booking, false)})
}

func (h *BookingHandlers) rescheduleBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r, "bookingID", "booking")
	if !ok {
		return
	}
	var req rescheduleBookingRequest
	if !decodeJSONBody(w, r, maxBookingBodySize, false, &req) {
		return
	}

	booking, err := h.bookings.RescheduleBooking(ctx, services.RescheduleBookingCommand{
		BookingID:   bookingID,
		Actor:       userActor(identity),
		Preferred:   domain.Slot{Date: req.Preferred.Date, Time: req.Preferred.Time},
		Alternative: req.Alternative.slot(),
		Reason:      req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Booking: buildBookingPayload(booking, false)})
}

func (h *BookingHandlers) submitFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	bookingID, ok := pathID(w, r, "bookingID", "booking")
	if !ok {
		return
	}
	var req feedbackRequest
	if !decodeJSONBody(w, r, maxBookingBodySize, false, &req) {
		return
	}

	booking, err := h.bookings.SubmitFeedback(ctx, services.SubmitFeedbackCommand{
		BookingID: bookingID,
		Actor:     userActor(identity),
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Booking: buildBookingPayload(booking, false)})
}

func parseBookingFilter(w http.ResponseWriter, r *http.Request) (services.BookingListFilter, bool) {
	query, err := parseListQuery(r)
	if err != nil {
		writeInvalid(r.Context(), w, err.Error())
		return services.BookingListFilter{}, false
	}
	filter := services.BookingListFilter{
		OfferingID: strings.TrimSpace(r.URL.Query().Get("offering_id")),
		DateRange:  query.dateRange,
		Pagination: query.page,
	}
	for _, raw := range parseFilterValues(r.URL.Query()["status"]) {
		status := domain.BookingStatus(raw)
		if !status.Valid() {
			writeInvalid(r.Context(), w, "status "+raw+" is not a booking status")
			return services.BookingListFilter{}, false
		}
		filter.Status = append(filter.Status, status)
	}
	return filter, true
}

func pathID(w http.ResponseWriter, r *http.Request, param, resource string) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, param))
	if id == "" {
		writeInvalid(r.Context(), w, resource+" id is required")
		return "", false
	}
	return id, true
}
