package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/platform/auth"
	"github.com/masar-academy/api/internal/services"
)

var errNotStubbed = errors.New("not implemented")

type stubBookingService struct {
	createFn     func(context.Context, services.CreateBookingCommand) (services.BookingCheckout, error)
	getFn        func(context.Context, string, services.Actor) (services.Booking, error)
	listFn       func(context.Context, services.Actor, services.BookingListFilter) (domain.CursorPage[services.Booking], error)
	confirmFn    func(context.Context, services.ConfirmBookingCommand) (services.Booking, error)
	rescheduleFn func(context.Context, services.RescheduleBookingCommand) (services.Booking, error)
	cancelFn     func(context.Context, services.CancelBookingCommand) (services.Booking, error)
	completeFn   func(context.Context, services.BookingActionCommand) (services.Booking, error)
	noShowFn     func(context.Context, services.BookingActionCommand) (services.Booking, error)
	feedbackFn   func(context.Context, services.SubmitFeedbackCommand) (services.Booking, error)
	notesFn      func(context.Context, services.UpdateBookingNotesCommand) (services.Booking, error)
	sweepFn      func(context.Context, services.SweepSessionsCommand) (services.SweepSessionsResult, error)
}

func (s *stubBookingService) CreateBooking(ctx context.Context, cmd services.CreateBookingCommand) (services.BookingCheckout, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.BookingCheckout{}, errNotStubbed
}

func (s *stubBookingService) GetBooking(ctx context.Context, id string, actor services.Actor) (services.Booking, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id, actor)
	}
	return services.Booking{}, errNotStubbed
}

func (s *stubBookingService) ListBookings(ctx context.Context, actor services.Actor, filter services.BookingListFilter) (domain.CursorPage[services.Booking], error) {
	if s.listFn != nil {
		return s.listFn(ctx, actor, filter)
	}
	return domain.CursorPage[services.Booking]{}, nil
}

func (s *stubBookingService) ConfirmBooking(ctx context.Context, cmd services.ConfirmBookingCommand) (services.Booking, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, cmd)
	}
	return services.Booking{}, errNotStubbed
}

func (s *stubBookingService) RescheduleBooking(ctx context.Context, cmd services.RescheduleBookingCommand) (services.Booking, error) {
	if s.rescheduleFn != nil {
		return s.rescheduleFn(ctx, cmd)
	}
	return services.Booking{}, errNotStubbed
}

func (s *stubBookingService) CancelBooking(ctx context.Context, cmd services.CancelBookingCommand) (services.Booking, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Booking{}, errNotStubbed
}

func (s *stubBookingService) CompleteBooking(ctx context.Context, cmd services.BookingActionCommand) (services.Booking, error) {
	if s.completeFn != nil {
		return s.completeFn(ctx, cmd)
	}
	return services.Booking{}, errNotStubbed
}

func (s *stubBookingService) MarkNoShow(ctx context.Context, cmd services.BookingActionCommand) (services.Booking, error) {
	if s.noShowFn != nil {
		return s.noShowFn(ctx, cmd)
	}
	return services.Booking{}, errNotStubbed
}

func (s *stubBookingService) SubmitFeedback(ctx context.Context, cmd services.SubmitFeedbackCommand) (services.Booking, error) {
	if s.feedbackFn != nil {
		return s.feedbackFn(ctx, cmd)
	}
	return services.Booking{}, errNotStubbed
}

func (s *stubBookingService) UpdateAdminNotes(ctx context.Context, cmd services.UpdateBookingNotesCommand) (services.Booking, error) {
	if s.notesFn != nil {
		return s.notesFn(ctx, cmd)
	}
	return services.Booking{}, errNotStubbed
}

func (s *stubBookingService) SweepElapsedSessions(ctx context.Context, cmd services.SweepSessionsCommand) (services.SweepSessionsResult, error) {
	if s.sweepFn != nil {
		return s.sweepFn(ctx, cmd)
	}
	return services.SweepSessionsResult{}, errNotStubbed
}

type stubOrderService struct {
	draftFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	createFn    func(context.Context, services.CreateOrderCommand) (services.Order, error)
	startFn     func(context.Context, services.StartPaymentCommand) (services.PaymentSession, error)
	reconcileFn func(context.Context, services.CaptureResult) (services.Order, error)
	refundFn    func(context.Context, services.OrderAdminCommand) (services.Order, error)
	cancelFn    func(context.Context, services.OrderAdminCommand) (services.Order, error)
	getFn       func(context.Context, string, services.Actor) (services.Order, error)
	listFn      func(context.Context, services.Actor, services.OrderListFilter) (domain.CursorPage[services.Order], error)
}

func (s *stubOrderService) DraftOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.draftFn != nil {
		return s.draftFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) StartPayment(ctx context.Context, cmd services.StartPaymentCommand) (services.PaymentSession, error) {
	if s.startFn != nil {
		return s.startFn(ctx, cmd)
	}
	return services.PaymentSession{}, errNotStubbed
}

func (s *stubOrderService) ReconcileCapture(ctx context.Context, result services.CaptureResult) (services.Order, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, result)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) RefundOrder(ctx context.Context, cmd services.OrderAdminCommand) (services.Order, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.OrderAdminCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) GetOrder(ctx context.Context, id string, actor services.Actor) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id, actor)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ListOrders(ctx context.Context, actor services.Actor, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, actor, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

type stubVerificationService struct {
	verifyFn   func(context.Context, services.VerifyTransferCommand) (services.TransferReview, error)
	rejectFn   func(context.Context, services.RejectTransferCommand) (services.TransferReview, error)
	pendingFn  func(context.Context, services.Actor, services.Pagination) (domain.CursorPage[services.Order], error)
	evidenceFn func(context.Context, string, services.Actor) (services.EvidenceLink, error)
}

func (s *stubVerificationService) VerifyTransfer(ctx context.Context, cmd services.VerifyTransferCommand) (services.TransferReview, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return services.TransferReview{}, errNotStubbed
}

func (s *stubVerificationService) RejectTransfer(ctx context.Context, cmd services.RejectTransferCommand) (services.TransferReview, error) {
	if s.rejectFn != nil {
		return s.rejectFn(ctx, cmd)
	}
	return services.TransferReview{}, errNotStubbed
}

func (s *stubVerificationService) ListPendingTransfers(ctx context.Context, actor services.Actor, page services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.pendingFn != nil {
		return s.pendingFn(ctx, actor, page)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubVerificationService) EvidenceURL(ctx context.Context, orderID string, actor services.Actor) (services.EvidenceLink, error) {
	if s.evidenceFn != nil {
		return s.evidenceFn(ctx, orderID, actor)
	}
	return services.EvidenceLink{}, errNotStubbed
}

type stubCouponService struct {
	validateFn   func(context.Context, services.CouponValidationRequest) (services.CouponValidation, error)
	createFn     func(context.Context, services.UpsertCouponCommand) (services.Coupon, error)
	updateFn     func(context.Context, services.UpsertCouponCommand) (services.Coupon, error)
	deactivateFn func(context.Context, string, services.Actor) (services.Coupon, error)
	getFn        func(context.Context, string, services.Actor) (services.Coupon, error)
	listFn       func(context.Context, services.Actor, services.CouponListFilter) (domain.CursorPage[services.Coupon], error)
}

func (s *stubCouponService) ValidateCoupon(ctx context.Context, req services.CouponValidationRequest) (services.CouponValidation, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, req)
	}
	return services.CouponValidation{}, errNotStubbed
}

func (s *stubCouponService) RedeemCoupon(context.Context, services.RedeemCouponCommand) (services.Coupon, error) {
	return services.Coupon{}, errNotStubbed
}

func (s *stubCouponService) CreateCoupon(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Coupon{}, errNotStubbed
}

func (s *stubCouponService) UpdateCoupon(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Coupon{}, errNotStubbed
}

func (s *stubCouponService) DeactivateCoupon(ctx context.Context, code string, actor services.Actor) (services.Coupon, error) {
	if s.deactivateFn != nil {
		return s.deactivateFn(ctx, code, actor)
	}
	return services.Coupon{}, errNotStubbed
}

func (s *stubCouponService) GetCoupon(ctx context.Context, code string, actor services.Actor) (services.Coupon, error) {
	if s.getFn != nil {
		return s.getFn(ctx, code, actor)
	}
	return services.Coupon{}, errNotStubbed
}

func (s *stubCouponService) ListCoupons(ctx context.Context, actor services.Actor, filter services.CouponListFilter) (domain.CursorPage[services.Coupon], error) {
	if s.listFn != nil {
		return s.listFn(ctx, actor, filter)
	}
	return domain.CursorPage[services.Coupon]{}, nil
}

type stubAuditLogService struct {
	records []services.AuditLogRecord
	listFn  func(context.Context, services.Actor, services.AuditLogFilter) (domain.CursorPage[services.AuditLogEntry], error)
}

func (s *stubAuditLogService) Record(_ context.Context, record services.AuditLogRecord) {
	s.records = append(s.records, record)
}

func (s *stubAuditLogService) List(ctx context.Context, actor services.Actor, filter services.AuditLogFilter) (domain.CursorPage[services.AuditLogEntry], error) {
	if s.listFn != nil {
		return s.listFn(ctx, actor, filter)
	}
	return domain.CursorPage[services.AuditLogEntry]{}, nil
}

func newAuthedRequest(method, target, body string, identity *auth.Identity) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	return req
}

func staffIdentity() *auth.Identity {
	return &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}}
}

func userIdentity(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Email: strings.ToLower(uid) + "@example.com", Locale: "ar"}
}
