package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories/memory"
)

var testNow = time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []DomainEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu        sync.Mutex
	started   []GatewayPaymentRequest
	refunds   []GatewayRefundRequest
	startErr  error
	refundErr error
	hang      bool
}

func (g *fakeGateway) StartPayment(ctx context.Context, req GatewayPaymentRequest) (GatewayPayment, error) {
	g.mu.Lock()
	g.started = append(g.started, req)
	hang, err := g.hang, g.startErr
	g.mu.Unlock()
	if hang {
		<-ctx.Done()
		return GatewayPayment{}, ctx.Err()
	}
	if err != nil {
		return GatewayPayment{}, err
	}
	return GatewayPayment{
		Provider:     req.Provider,
		IntentID:     "pi_" + req.OrderID,
		ClientSecret: "secret_" + req.OrderID,
	}, nil
}

func (g *fakeGateway) Refund(_ context.Context, req GatewayRefundRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, req)
	return g.refundErr
}

type fakeEvidence struct {
	objects map[string]EvidenceObject
	statErr error
}

func (e *fakeEvidence) Stat(_ context.Context, path string) (EvidenceObject, error) {
	if e.statErr != nil {
		return EvidenceObject{}, e.statErr
	}
	object, ok := e.objects[path]
	if !ok {
		return EvidenceObject{}, ErrEvidenceNotFound
	}
	return object, nil
}

func (e *fakeEvidence) SignedURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	if _, ok := e.objects[path]; !ok {
		return "", ErrEvidenceNotFound
	}
	return fmt.Sprintf("https://storage.test/%s?ttl=%s", path, ttl), nil
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
}

func (o *recordingObserver) ObserveTransition(_ context.Context, aggregate, from, to string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, aggregate+":"+from+"->"+to)
}

type harness struct {
	t        *testing.T
	reg      *memory.Registry
	clock    *testClock
	events   *recordingPublisher
	gateway  *fakeGateway
	evidence *fakeEvidence
	logger   *captureLogger
	observer *recordingObserver

	audit        AuditLogService
	counters     CounterService
	coupons      CouponService
	orders       OrderService
	bookings     BookingService
	verification VerificationService
}

var (
	userA = domain.Actor{ID: "user-a", Type: domain.ActorTypeUser}
	userB = domain.Actor{ID: "user-b", Type: domain.ActorTypeUser}
	admin = domain.Actor{ID: "admin-1", Type: domain.ActorTypeAdmin}
)

const (
	testOfferingID = "consult-1"
	testCourseID   = "course-1"
	evidencePathA  = "bank-transfers/user-a/receipt.pdf"
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		reg:      memory.NewRegistry(),
		clock:    &testClock{now: testNow},
		events:   &recordingPublisher{},
		gateway:  &fakeGateway{},
		evidence: &fakeEvidence{objects: map[string]EvidenceObject{evidencePathA: {Path: evidencePathA, ContentType: "application/pdf", Size: 2048}}},
		logger:   &captureLogger{},
		observer: &recordingObserver{},
	}
	var seq atomic.Int64
	ids := func() string {
		return fmt.Sprintf("000TEST%04d", seq.Add(1))
	}

	h.reg.CatalogStore().PutConsultation(domain.ConsultationOffering{
		ID:              testOfferingID,
		Title:           "Career consultation",
		Price:           decimal.RequireFromString("250.00"),
		Currency:        "SAR",
		DurationMinutes: 60,
		MeetingModes:    []domain.MeetingMode{domain.MeetingModeOnline, domain.MeetingModePhoneCall},
		IsActive:        true,
	})
	h.reg.CatalogStore().PutCourse(domain.Course{
		ID:       testCourseID,
		Title:    "Arabic calligraphy",
		Price:    decimal.RequireFromString("99.99"),
		Currency: "SAR",
		IsActive: true,
	})

	var err error
	h.audit, err = NewAuditLogService(AuditLogServiceDeps{
		Repository:  h.reg.AuditLogs(),
		Clock:       h.clock.Now,
		IDGenerator: ids,
		Logger:      h.logger.log,
	})
	must(t, err)
	h.counters, err = NewCounterService(CounterServiceDeps{Repository: h.reg.Counters(), Clock: h.clock.Now})
	must(t, err)
	h.coupons, err = NewCouponService(CouponServiceDeps{
		Coupons:     h.reg.Coupons(),
		Clock:       h.clock.Now,
		IDGenerator: ids,
		Audit:       h.audit,
		Logger:      h.logger.log,
	})
	must(t, err)
	h.orders, err = NewOrderService(OrderServiceDeps{
		Orders:         h.reg.Orders(),
		Bookings:       h.reg.Bookings(),
		Coupons:        h.reg.Coupons(),
		Catalog:        h.reg.Catalog(),
		Enrollments:    h.reg.Enrollments(),
		CouponEngine:   h.coupons,
		Counters:       h.counters,
		Gateway:        h.gateway,
		Evidence:       h.evidence,
		GatewayTimeout: 50 * time.Millisecond,
		UnitOfWork:     h.reg,
		Clock:          h.clock.Now,
		IDGenerator:    ids,
		Events:         h.events,
		Audit:          h.audit,
		Observer:       h.observer,
		Logger:         h.logger.log,
	})
	must(t, err)
	h.bookings, err = NewBookingService(BookingServiceDeps{
		Bookings:    h.reg.Bookings(),
		Orders:      h.reg.Orders(),
		Coupons:     h.reg.Coupons(),
		Catalog:     h.reg.Catalog(),
		Ledger:      h.orders,
		Counters:    h.counters,
		UnitOfWork:  h.reg,
		Clock:       h.clock.Now,
		IDGenerator: ids,
		Events:      h.events,
		Audit:       h.audit,
		Observer:    h.observer,
		Logger:      h.logger.log,
	})
	must(t, err)
	h.verification, err = NewVerificationService(VerificationServiceDeps{
		Orders:      h.reg.Orders(),
		Bookings:    h.reg.Bookings(),
		Coupons:     h.reg.Coupons(),
		Enrollments: h.reg.Enrollments(),
		Evidence:    h.evidence,
		UnitOfWork:  h.reg,
		Clock:       h.clock.Now,
		Events:      h.events,
		Audit:       h.audit,
		Observer:    h.observer,
		Logger:      h.logger.log,
	})
	must(t, err)
	return h
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func (h *harness) bookingRequest(actor domain.Actor, method domain.PaymentMethod) CreateBookingCommand {
	return CreateBookingCommand{
		Actor:       actor,
		OfferingID:  testOfferingID,
		Preferred:   domain.Slot{Date: "2025-05-10", Time: "10:00"},
		MeetingMode: domain.MeetingModeOnline,
		Profile: domain.UserDetails{
			FullName: "Layla Haddad",
			Email:    "Layla@Example.com",
			Locale:   "ar-sa",
		},
		Payment: PaymentSelection{Method: method},
	}
}

func (h *harness) bankTransfer(path string) *BankTransferSubmission {
	return &BankTransferSubmission{
		EvidencePath:      path,
		BankName:          "Al Rajhi",
		AccountHolderName: "Layla Haddad",
		TransferDate:      testNow.Add(-2 * time.Hour),
		ReferenceNumber:   "TRX-1",
	}
}

// paidBooking creates a stripe booking for actor and captures it.
func (h *harness) paidBooking(actor domain.Actor) BookingCheckout {
	h.t.Helper()
	checkout, err := h.bookings.CreateBooking(context.Background(), h.bookingRequest(actor, domain.PaymentMethodStripe))
	must(h.t, err)
	_, err = h.orders.ReconcileCapture(context.Background(), CaptureResult{
		OrderID:               checkout.Order.ID,
		Method:                domain.PaymentMethodStripe,
		ExternalTransactionID: "txn-" + checkout.Order.ID,
		Outcome:               CaptureSucceeded,
	})
	must(h.t, err)
	checkout.Booking = h.booking(checkout.Booking.ID)
	checkout.Order = h.order(checkout.Order.ID)
	return checkout
}

// confirmedBooking returns a paid booking confirmed for confirmedAt.
func (h *harness) confirmedBooking(actor domain.Actor, confirmedAt time.Time) domain.Booking {
	h.t.Helper()
	checkout := h.paidBooking(actor)
	booking, err := h.bookings.ConfirmBooking(context.Background(), ConfirmBookingCommand{
		BookingID:         checkout.Booking.ID,
		Actor:             admin,
		ConfirmedDateTime: confirmedAt,
	})
	must(h.t, err)
	return booking
}

func (h *harness) booking(id string) domain.Booking {
	h.t.Helper()
	b, err := h.reg.Bookings().FindByID(context.Background(), id)
	must(h.t, err)
	return b
}

func (h *harness) order(id string) domain.Order {
	h.t.Helper()
	o, err := h.reg.Orders().FindByID(context.Background(), id)
	must(h.t, err)
	return o
}

func (h *harness) auditActions(targetID string) []domain.AuditAction {
	var out []domain.AuditAction
	for _, entry := range h.reg.AuditStore().Entries() {
		if targetID == "" || entry.TargetID == targetID {
			out = append(out, entry.Action)
		}
	}
	return out
}

func (h *harness) hasAudit(targetID string, action domain.AuditAction) bool {
	for _, a := range h.auditActions(targetID) {
		if a == action {
			return true
		}
	}
	return false
}

func expectCode(t *testing.T, err error, want *Error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", want.Code)
	}
	if CodeOf(err) != want.Code {
		t.Fatalf("expected %s, got %s (%v)", want.Code, CodeOf(err), err)
	}
}

func createCoupon(t *testing.T, h *harness, cmd UpsertCouponCommand) domain.Coupon {
	t.Helper()
	if cmd.Actor.Type == "" {
		cmd.Actor = admin
	}
	cmd.IsActive = true
	if strings.TrimSpace(string(cmd.DiscountType)) == "" {
		cmd.DiscountType = domain.DiscountTypePercentage
	}
	coupon, err := h.coupons.CreateCoupon(context.Background(), cmd)
	must(t, err)
	return coupon
}

func mustMoney(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}
