package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/masar-academy/api/internal/platform/auth"
	"github.com/masar-academy/api/internal/services"
)

const maxAdminBodySize = 16 * 1024

// AdminHandlers serves the staff console: booking operations, the order ledger, bank-transfer
// review, coupon administration and the audit log.
type AdminHandlers struct {
	authn        *auth.Authenticator
	bookings     services.BookingService
	orders       services.OrderService
	verification services.VerificationService
	coupons      services.CouponService
	audit        services.AuditLogService
}

// AdminOption wires an optional service into AdminHandlers.
type AdminOption func(*AdminHandlers)

// WithAdminBookingService wires booking operations.
func WithAdminBookingService(svc services.BookingService) AdminOption {
	return func(h *AdminHandlers) { h.bookings = svc }
}

// WithAdminOrderService wires the order ledger.
func WithAdminOrderService(svc services.OrderService) AdminOption {
	return func(h *AdminHandlers) { h.orders = svc }
}

// WithAdminVerificationService wires bank-transfer review.
func WithAdminVerificationService(svc services.VerificationService) AdminOption {
	return func(h *AdminHandlers) { h.verification = svc }
}

// WithAdminCouponService wires coupon administration.
func WithAdminCouponService(svc services.CouponService) AdminOption {
	return func(h *AdminHandlers) { h.coupons = svc }
}

// WithAdminAuditLogService wires the audit log reader.
func WithAdminAuditLogService(svc services.AuditLogService) AdminOption {
	return func(h *AdminHandlers) { h.audit = svc }
}

// NewAdminHandlers constructs the admin handlers.
func NewAdminHandlers(authn *auth.Authenticator, opts ...AdminOption) *AdminHandlers {
	h := &AdminHandlers{authn: authn}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin endpoints. Staff and administrators share the console; the audit
// log is restricted to administrators.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
		r.Use(h.authn.RequireRoles(auth.RoleStaff, auth.RoleAdmin))
	}

	r.Route("/bookings", func(rt chi.Router) {
		rt.Get("/", h.listBookings)
		rt.Get("/{bookingID}", h.getBooking)
		rt.Post("/{bookingID}:confirm", h.confirmBooking)
		rt.Post("/{bookingID}:reschedule", h.rescheduleBooking)
		rt.Post("/{bookingID}:cancel", h.cancelBooking)
		rt.Post("/{bookingID}:complete", h.completeBooking)
		rt.Post("/{bookingID}:no-show", h.markNoShow)
		rt.Put("/{bookingID}/notes", h.updateNotes)
	})

	r.Route("/orders", func(rt chi.Router) {
		rt.Get("/", h.listOrders)
		rt.Get("/{orderID}", h.getOrder)
		rt.Post("/{orderID}:refund", h.refundOrder)
		rt.Post("/{orderID}:cancel", h.cancelOrder)
		rt.Post("/{orderID}:verify-transfer", h.verifyTransfer)
		rt.Post("/{orderID}:reject-transfer", h.rejectTransfer)
		rt.Get("/{orderID}/evidence", h.evidenceURL)
	})
	r.Get("/bank-transfers", h.listPendingTransfers)

	r.Route("/coupons", func(rt chi.Router) {
		rt.Get("/", h.listCoupons)
		rt.Post("/", h.createCoupon)
		rt.Get("/{code}", h.getCoupon)
		rt.Put("/{code}", h.updateCoupon)
		rt.Post("/{code}:deactivate", h.deactivateCoupon)
	})

	if h.authn != nil {
		r.With(h.authn.RequireRoles(auth.RoleAdmin)).Get("/audit-logs", h.listAuditLogs)
	} else {
		r.Get("/audit-logs", h.listAuditLogs)
	}
}

func adminActor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return services.Actor{}, false
	}
	return identity.Actor(), true
}
