package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

func courseOrder(actor domain.Actor, coupon string) CreateOrderCommand {
	return CreateOrderCommand{
		Actor:         actor,
		Purchase:      domain.Purchase{Kind: domain.PurchaseKindCourse, CourseID: testCourseID},
		CouponCode:    coupon,
		PaymentMethod: domain.PaymentMethodStripe,
	}
}

func capture(h *harness, orderID, txn string) (domain.Order, error) {
	return h.orders.ReconcileCapture(context.Background(), CaptureResult{
		OrderID:               orderID,
		Method:                domain.PaymentMethodStripe,
		ExternalTransactionID: txn,
		Outcome:               CaptureSucceeded,
	})
}

func TestOrderServiceCourseOrderWithCouponGrantsAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	createCoupon(t, h, UpsertCouponCommand{Code: "ramadan20", DiscountValue: mustMoney("20")})

	order, err := h.orders.CreateOrder(ctx, courseOrder(userA, " Ramadan20 "))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.CouponCode != "RAMADAN20" || domain.FormatMoney(order.DiscountAmount) != "20.00" || domain.FormatMoney(order.Amount) != "79.99" {
		t.Fatalf("unexpected pricing %s - %s = %s", order.OriginalAmount, order.DiscountAmount, order.Amount)
	}

	completed, err := capture(h, order.ID, "pi_1")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("unexpected order %+v", completed)
	}
	if _, ok := h.reg.EnrollmentStore().Find(userA.ID, testCourseID); !ok {
		t.Fatalf("expected course access granted")
	}
	coupon, err := h.reg.Coupons().FindByCode(ctx, "RAMADAN20")
	must(t, err)
	if coupon.UsedCount != 1 {
		t.Fatalf("expected coupon used once, got %d", coupon.UsedCount)
	}
	if _, ok := coupon.RedeemedBy(userA.ID); !ok {
		t.Fatalf("expected redemption recorded")
	}
	for _, eventType := range []string{orderEventCompleted, courseEventAccessGranted, couponEventRedeemed} {
		if h.events.count(eventType) != 1 {
			t.Fatalf("expected one %s event", eventType)
		}
	}
	if !h.hasAudit(testCourseID, domain.AuditCourseAccessGranted) || !h.hasAudit("RAMADAN20", domain.AuditCouponRedeemed) {
		t.Fatalf("expected course and coupon audits, got %v", h.auditActions(""))
	}
}

func TestOrderServiceCaptureReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	order, err := h.orders.CreateOrder(context.Background(), courseOrder(userA, ""))
	must(t, err)

	_, err = capture(h, order.ID, "pi_1")
	must(t, err)
	replayed, err := capture(h, order.ID, "pi_1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.Status != domain.OrderStatusCompleted {
		t.Fatalf("unexpected replay result %+v", replayed)
	}
	if h.events.count(orderEventCompleted) != 1 {
		t.Fatalf("replay must not publish twice")
	}
	_, err = capture(h, order.ID, "pi_other")
	expectCode(t, err, ErrOrderAlreadyCompleted)
}

func TestOrderServiceFailedCaptureAllowsNewOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	checkout, err := h.bookings.CreateBooking(ctx, h.bookingRequest(userA, domain.PaymentMethodStripe))
	must(t, err)

	failed, err := h.orders.ReconcileCapture(ctx, CaptureResult{
		OrderID:       checkout.Order.ID,
		Method:        domain.PaymentMethodStripe,
		Outcome:       CaptureFailed,
		FailureReason: "card declined",
	})
	must(t, err)
	if failed.Status != domain.OrderStatusFailed || failed.FailureReason != "card declined" {
		t.Fatalf("unexpected order %+v", failed)
	}
	if got := h.booking(checkout.Booking.ID); got.Status != domain.BookingStatusPendingPayment {
		t.Fatalf("failure must leave booking pending_payment, got %s", got.Status)
	}

	retry, err := h.orders.CreateOrder(ctx, CreateOrderCommand{
		Actor:         userA,
		Purchase:      domain.Purchase{Kind: domain.PurchaseKindConsultation, BookingID: checkout.Booking.ID},
		PaymentMethod: domain.PaymentMethodStripe,
	})
	if err != nil {
		t.Fatalf("retry order: %v", err)
	}
	if got := h.booking(checkout.Booking.ID); got.ActiveOrderID != retry.ID {
		t.Fatalf("expected booking to track the retry order")
	}
	if _, err := capture(h, retry.ID, "pi_retry"); err != nil {
		t.Fatalf("capture retry: %v", err)
	}
	if got := h.booking(checkout.Booking.ID); got.Status != domain.BookingStatusPendingConfirmation {
		t.Fatalf("expected pending_confirmation, got %s", got.Status)
	}
}

func TestOrderServiceRejectsSecondOpenOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	checkout, err := h.bookings.CreateBooking(ctx, h.bookingRequest(userA, domain.PaymentMethodStripe))
	must(t, err)

	_, err = h.orders.CreateOrder(ctx, CreateOrderCommand{
		Actor:         userA,
		Purchase:      domain.Purchase{Kind: domain.PurchaseKindConsultation, BookingID: checkout.Booking.ID},
		PaymentMethod: domain.PaymentMethodPayPal,
	})
	expectCode(t, err, ErrOrderActiveExists)

	_, err = h.orders.CreateOrder(ctx, CreateOrderCommand{
		Actor:         userB,
		Purchase:      domain.Purchase{Kind: domain.PurchaseKindConsultation, BookingID: checkout.Booking.ID},
		PaymentMethod: domain.PaymentMethodStripe,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for other user's booking, got %v", err)
	}
}

func TestOrderServiceGatewayTimeoutLeavesOrderPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	checkout, err := h.bookings.CreateBooking(ctx, h.bookingRequest(userA, domain.PaymentMethodStripe))
	must(t, err)
	h.gateway.hang = true

	_, err = h.orders.StartPayment(ctx, StartPaymentCommand{OrderID: checkout.Order.ID, Actor: userA})
	expectCode(t, err, ErrOrderGatewayUnavailable)
	if !errors.Is(err, ErrExternal) {
		t.Fatalf("expected external dependency kind, got %s", KindOf(err))
	}
	if got := h.order(checkout.Order.ID); got.Status != domain.OrderStatusPending || got.Version != checkout.Order.Version {
		t.Fatalf("timeout must leave the order untouched, got %+v", got)
	}
	if got := h.booking(checkout.Booking.ID); got.Status != domain.BookingStatusPendingPayment {
		t.Fatalf("timeout must not affect the booking, got %s", got.Status)
	}

	if _, err := capture(h, checkout.Order.ID, "pi_late"); err != nil {
		t.Fatalf("late webhook should complete the order: %v", err)
	}
	if got := h.booking(checkout.Booking.ID); got.Status != domain.BookingStatusPendingConfirmation {
		t.Fatalf("expected pending_confirmation after late capture, got %s", got.Status)
	}
}

func TestOrderServiceStartPaymentStoresIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, err := h.orders.CreateOrder(ctx, courseOrder(userA, ""))
	must(t, err)

	session, err := h.orders.StartPayment(ctx, StartPaymentCommand{OrderID: order.ID, Actor: userA, IdempotencyKey: "idem-1"})
	if err != nil {
		t.Fatalf("start payment: %v", err)
	}
	if session.IntentID != "pi_"+order.ID || session.ClientSecret == "" {
		t.Fatalf("unexpected session %+v", session)
	}
	if got := h.order(order.ID); got.PaymentIntentID != session.IntentID {
		t.Fatalf("expected intent stored, got %q", got.PaymentIntentID)
	}
	if len(h.gateway.started) != 1 || h.gateway.started[0].IdempotencyKey != "idem-1" || h.gateway.started[0].Amount.String() != "99.99" {
		t.Fatalf("unexpected gateway request %+v", h.gateway.started)
	}
	if _, err := h.orders.StartPayment(ctx, StartPaymentCommand{OrderID: order.ID, Actor: userB}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestOrderServiceRefundCascadesToBooking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking := h.confirmedBooking(userA, testNow.Add(3*time.Hour))
	_, err := h.orders.StartPayment(ctx, StartPaymentCommand{OrderID: booking.ActiveOrderID, Actor: userA})
	if err == nil {
		t.Fatalf("completed orders are not payable")
	}

	_, err = h.orders.RefundOrder(ctx, OrderAdminCommand{OrderID: booking.ActiveOrderID, Actor: userA, Reason: "please"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected refund restricted to admins, got %v", err)
	}

	refunded, err := h.orders.RefundOrder(ctx, OrderAdminCommand{OrderID: booking.ActiveOrderID, Actor: admin, Reason: "consultant ill"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != domain.OrderStatusRefunded || refunded.RefundedAt == nil {
		t.Fatalf("unexpected order %+v", refunded)
	}
	got := h.booking(booking.ID)
	if got.Status != domain.BookingStatusCancelled || got.PaymentStatus != domain.BookingPaymentRefunded {
		t.Fatalf("expected cascaded cancellation inside the window, got %s/%s", got.Status, got.PaymentStatus)
	}
	if got.Cancellation.By != domain.CancelledBySystem {
		t.Fatalf("expected system cancellation, got %s", got.Cancellation.By)
	}
	if _, held := h.reg.BookingStore().ActiveGuard(userA.ID, testOfferingID); held {
		t.Fatalf("expected guard released")
	}
	if !h.hasAudit(refunded.ID, domain.AuditOrderRefunded) || !h.hasAudit(booking.ID, domain.AuditBookingCancelled) {
		t.Fatalf("expected refund and cascade audits, got %v", h.auditActions(""))
	}

	_, err = h.orders.RefundOrder(ctx, OrderAdminCommand{OrderID: refunded.ID, Actor: admin})
	expectCode(t, err, ErrOrderInvalidTransition)
}

func TestOrderServiceRefundGatewayFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, err := h.orders.CreateOrder(ctx, courseOrder(userA, ""))
	must(t, err)
	_, err = h.orders.StartPayment(ctx, StartPaymentCommand{OrderID: order.ID, Actor: userA})
	must(t, err)
	_, err = capture(h, order.ID, "pi_1")
	must(t, err)

	h.gateway.refundErr = errors.New("stripe unreachable")
	_, err = h.orders.RefundOrder(ctx, OrderAdminCommand{OrderID: order.ID, Actor: admin, Reason: "duplicate"})
	expectCode(t, err, ErrOrderGatewayUnavailable)
	if got := h.order(order.ID); got.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected order unchanged, got %s", got.Status)
	}
}

func TestOrderServiceCaptureForInactiveBookingIsIntegrityViolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	checkout, err := h.bookings.CreateBooking(ctx, h.bookingRequest(userA, domain.PaymentMethodStripe))
	must(t, err)

	// A booking closed behind the ledger's back, e.g. by a data repair.
	stale := checkout.Booking
	stale.Status = domain.BookingStatusCancelled
	_, err = h.reg.Bookings().Update(ctx, repositories.BookingUpdate{Booking: stale, ExpectedVersion: stale.Version, ReleaseGuard: true})
	must(t, err)

	_, err = capture(h, checkout.Order.ID, "pi_1")
	expectCode(t, err, ErrOrderBookingInactive)
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected integrity kind, got %s", KindOf(err))
	}
	if got := h.order(checkout.Order.ID); got.Status != domain.OrderStatusPending {
		t.Fatalf("aborted capture must not write, got %s", got.Status)
	}
	if !h.logger.has("integrity.violation") || !h.hasAudit(checkout.Order.ID, domain.AuditIntegrityViolation) {
		t.Fatalf("expected integrity violation logged and audited")
	}
}

func TestOrderServiceCouponHeldFromCheckout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	one := 1
	createCoupon(t, h, UpsertCouponCommand{Code: "LAST", DiscountValue: mustMoney("10"), MaxUses: &one})

	first, err := h.orders.CreateOrder(ctx, courseOrder(userA, "LAST"))
	must(t, err)
	_, err = h.orders.CreateOrder(ctx, courseOrder(userB, "LAST"))
	expectCode(t, err, ErrCouponExhausted)

	coupon, err := h.reg.Coupons().FindByCode(ctx, "LAST")
	must(t, err)
	if coupon.UsedCount != 1 || len(coupon.Redemptions) != 1 || coupon.Redemptions[0].OrderID != first.ID {
		t.Fatalf("expected the use held by the first order, got %d %+v", coupon.UsedCount, coupon.Redemptions)
	}

	completed, err := capture(h, first.ID, "pi_a")
	must(t, err)
	if completed.Status != domain.OrderStatusCompleted || domain.FormatMoney(completed.DiscountAmount) != "10.00" {
		t.Fatalf("unexpected order %+v", completed)
	}
	coupon, err = h.reg.Coupons().FindByCode(ctx, "LAST")
	must(t, err)
	if coupon.UsedCount != 1 {
		t.Fatalf("completion must confirm the held use, got %d", coupon.UsedCount)
	}
	if h.events.count(couponEventRedeemed) != 1 {
		t.Fatalf("expected one redemption event")
	}
}

func TestOrderServiceCouponOncePerUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	createCoupon(t, h, UpsertCouponCommand{Code: "WELCOME", DiscountValue: mustMoney("15")})

	order, err := h.orders.CreateOrder(ctx, courseOrder(userA, "WELCOME"))
	must(t, err)
	checkout := h.bookingRequest(userA, domain.PaymentMethodStripe)
	checkout.Payment.CouponCode = "WELCOME"
	_, err = h.bookings.CreateBooking(ctx, checkout)
	expectCode(t, err, ErrCouponAlreadyRedeemed)

	_, err = capture(h, order.ID, "pi_a")
	must(t, err)
	coupon, err := h.reg.Coupons().FindByCode(ctx, "WELCOME")
	must(t, err)
	if coupon.UsedCount != 1 {
		t.Fatalf("expected a single use, got %d", coupon.UsedCount)
	}
}

func TestOrderServiceFailedCaptureReleasesCoupon(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	one := 1
	createCoupon(t, h, UpsertCouponCommand{Code: "LAST", DiscountValue: mustMoney("10"), MaxUses: &one})

	first, err := h.orders.CreateOrder(ctx, courseOrder(userA, "LAST"))
	must(t, err)
	_, err = h.orders.ReconcileCapture(ctx, CaptureResult{
		OrderID:       first.ID,
		Method:        domain.PaymentMethodStripe,
		Outcome:       CaptureFailed,
		FailureReason: "card declined",
	})
	must(t, err)

	coupon, err := h.reg.Coupons().FindByCode(ctx, "LAST")
	must(t, err)
	if coupon.UsedCount != 0 || len(coupon.Redemptions) != 0 {
		t.Fatalf("failed order must give the use back, got %d %+v", coupon.UsedCount, coupon.Redemptions)
	}
	second, err := h.orders.CreateOrder(ctx, courseOrder(userB, "LAST"))
	if err != nil {
		t.Fatalf("released coupon should be usable: %v", err)
	}
	if _, err := capture(h, second.ID, "pi_b"); err != nil {
		t.Fatalf("capture: %v", err)
	}
}

func TestOrderServiceCancelReleasesCouponRefundKeepsIt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	createCoupon(t, h, UpsertCouponCommand{Code: "SPRING", DiscountValue: mustMoney("10")})

	pending, err := h.orders.CreateOrder(ctx, courseOrder(userA, "SPRING"))
	must(t, err)
	_, err = h.orders.CancelOrder(ctx, OrderAdminCommand{OrderID: pending.ID, Actor: admin, Reason: "duplicate"})
	must(t, err)
	coupon, err := h.reg.Coupons().FindByCode(ctx, "SPRING")
	must(t, err)
	if coupon.UsedCount != 0 {
		t.Fatalf("cancelled order must give the use back, got %d", coupon.UsedCount)
	}

	paid, err := h.orders.CreateOrder(ctx, courseOrder(userB, "SPRING"))
	must(t, err)
	_, err = capture(h, paid.ID, "pi_b")
	must(t, err)
	_, err = h.orders.RefundOrder(ctx, OrderAdminCommand{OrderID: paid.ID, Actor: admin, Reason: "changed mind"})
	must(t, err)
	coupon, err = h.reg.Coupons().FindByCode(ctx, "SPRING")
	must(t, err)
	if _, ok := coupon.RedeemedBy(userB.ID); !ok || coupon.UsedCount != 1 {
		t.Fatalf("refund keeps the redemption, got %d %+v", coupon.UsedCount, coupon.Redemptions)
	}
}

func TestOrderServiceLostCouponHoldKeepsOrderPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	one := 1
	createCoupon(t, h, UpsertCouponCommand{Code: "LAST", DiscountValue: mustMoney("10"), MaxUses: &one})

	first, err := h.orders.CreateOrder(ctx, courseOrder(userA, "LAST"))
	must(t, err)
	// The hold disappears, e.g. through a manual data repair, and another buyer takes the use.
	must(t, h.reg.Coupons().Release(ctx, "LAST", userA.ID, first.ID))
	_, err = h.orders.CreateOrder(ctx, courseOrder(userB, "LAST"))
	must(t, err)

	_, err = capture(h, first.ID, "pi_a")
	expectCode(t, err, ErrCouponExhausted)
	if got := h.order(first.ID); got.Status != domain.OrderStatusPending {
		t.Fatalf("refused redemption must not complete the discounted order, got %s", got.Status)
	}
	if _, ok := h.reg.EnrollmentStore().Find(userA.ID, testCourseID); ok {
		t.Fatalf("access must not be granted")
	}
	coupon, err := h.reg.Coupons().FindByCode(ctx, "LAST")
	must(t, err)
	if coupon.UsedCount != 1 {
		t.Fatalf("usedCount must not exceed maxUses, got %d", coupon.UsedCount)
	}
	if !h.logger.has("coupon.redemption.rejected") {
		t.Fatalf("expected high severity log for the refused redemption")
	}
}

func TestOrderServiceBankTransferRequiresEvidence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	withoutEvidence := h.bankTransfer("")
	cmd := courseOrder(userA, "")
	cmd.PaymentMethod = domain.PaymentMethodBankTransfer
	cmd.BankTransfer = withoutEvidence
	_, err := h.orders.CreateOrder(ctx, cmd)
	expectCode(t, err, ErrTransferEvidenceRequired)

	cmd.BankTransfer = nil
	_, err = h.orders.CreateOrder(ctx, cmd)
	expectCode(t, err, ErrTransferEvidenceRequired)

	cmd.BankTransfer = h.bankTransfer("bank-transfers/user-b/receipt.pdf")
	_, err = h.orders.CreateOrder(ctx, cmd)
	expectCode(t, err, ErrTransferEvidenceNotFound)

	cmd.BankTransfer = h.bankTransfer("bank-transfers/user-a/missing.pdf")
	_, err = h.orders.CreateOrder(ctx, cmd)
	expectCode(t, err, ErrTransferEvidenceNotFound)

	incomplete := h.bankTransfer(evidencePathA)
	incomplete.BankName = ""
	cmd.BankTransfer = incomplete
	_, err = h.orders.CreateOrder(ctx, cmd)
	expectCode(t, err, ErrTransferDetailsRequired)

	h.evidence.statErr = errors.New("storage down")
	cmd.BankTransfer = h.bankTransfer(evidencePathA)
	_, err = h.orders.CreateOrder(ctx, cmd)
	expectCode(t, err, ErrOrderEvidenceUnavailable)
	h.evidence.statErr = nil

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		t.Fatalf("create bank transfer order: %v", err)
	}
	if !order.AwaitingVerification() || order.BankTransfer.Evidence.ContentType != "application/pdf" {
		t.Fatalf("unexpected transfer %+v", order.BankTransfer)
	}
	_, err = capture(h, order.ID, "pi_x")
	expectCode(t, err, ErrOrderInvalidInput)
	_, err = h.orders.ReconcileCapture(ctx, CaptureResult{OrderID: order.ID, ExternalTransactionID: "bank", Outcome: CaptureSucceeded})
	expectCode(t, err, ErrOrderAwaitingVerification)
}

func TestOrderServiceCancelPendingOrderCascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	checkout, err := h.bookings.CreateBooking(ctx, h.bookingRequest(userA, domain.PaymentMethodStripe))
	must(t, err)

	cancelled, err := h.orders.CancelOrder(ctx, OrderAdminCommand{OrderID: checkout.Order.ID, Actor: admin, Reason: "fraud check"})
	must(t, err)
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("unexpected order %+v", cancelled)
	}
	got := h.booking(checkout.Booking.ID)
	if got.Status != domain.BookingStatusCancelled || got.Cancellation.Reason != "order cancelled: fraud check" {
		t.Fatalf("expected cascaded booking cancel, got %+v", got.Cancellation)
	}
}

func TestOrderServiceAmountsAlwaysBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	createCoupon(t, h, UpsertCouponCommand{Code: "FIXED500", DiscountType: domain.DiscountTypeFixed, DiscountValue: mustMoney("500")})
	createCoupon(t, h, UpsertCouponCommand{Code: "THIRD", DiscountValue: mustMoney("33.333")})

	_, err := h.orders.CreateOrder(ctx, courseOrder(userA, "FIXED500"))
	must(t, err)
	_, err = h.orders.CreateOrder(ctx, courseOrder(userB, "THIRD"))
	must(t, err)
	checkout, err := h.bookings.CreateBooking(ctx, h.bookingRequest(userA, domain.PaymentMethodStripe))
	must(t, err)
	_, err = capture(h, checkout.Order.ID, "pi_1")
	must(t, err)

	page, err := h.orders.ListOrders(ctx, admin, OrderListFilter{})
	must(t, err)
	if len(page.Items) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(page.Items))
	}
	for _, o := range page.Items {
		if err := o.CheckAmounts(); err != nil {
			t.Fatalf("order %s: %v", o.ID, err)
		}
		if o.Amount.IsNegative() {
			t.Fatalf("order %s has negative amount", o.ID)
		}
	}

	mine, err := h.orders.ListOrders(ctx, userB, OrderListFilter{})
	must(t, err)
	if len(mine.Items) != 1 || mine.Items[0].UserID != userB.ID {
		t.Fatalf("expected user scoped listing, got %+v", mine.Items)
	}
}
