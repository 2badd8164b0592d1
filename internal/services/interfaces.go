package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	Actor                = domain.Actor
	Booking              = domain.Booking
	BookingStatus        = domain.BookingStatus
	Slot                 = domain.Slot
	UserDetails          = domain.UserDetails
	Order                = domain.Order
	OrderStatus          = domain.OrderStatus
	Coupon               = domain.Coupon
	AuditLogEntry        = domain.AuditLogEntry
	BookingListFilter    = repositories.BookingListFilter
	OrderListFilter      = repositories.OrderListFilter
	CouponListFilter     = repositories.CouponListFilter
	AuditLogFilter       = repositories.AuditLogFilter
	ConsultationOffering = domain.ConsultationOffering
)

// BookingService owns the consultation booking lifecycle.
type BookingService interface {
	CreateBooking(ctx context.Context, cmd CreateBookingCommand) (BookingCheckout, error)
	GetBooking(ctx context.Context, bookingID string, actor Actor) (Booking, error)
	ListBookings(ctx context.Context, actor Actor, filter BookingListFilter) (domain.CursorPage[Booking], error)
	ConfirmBooking(ctx context.Context, cmd ConfirmBookingCommand) (Booking, error)
	RescheduleBooking(ctx context.Context, cmd RescheduleBookingCommand) (Booking, error)
	CancelBooking(ctx context.Context, cmd CancelBookingCommand) (Booking, error)
	CompleteBooking(ctx context.Context, cmd BookingActionCommand) (Booking, error)
	MarkNoShow(ctx context.Context, cmd BookingActionCommand) (Booking, error)
	SubmitFeedback(ctx context.Context, cmd SubmitFeedbackCommand) (Booking, error)
	UpdateAdminNotes(ctx context.Context, cmd UpdateBookingNotesCommand) (Booking, error)
	SweepElapsedSessions(ctx context.Context, cmd SweepSessionsCommand) (SweepSessionsResult, error)
}

// OrderService is the order ledger and payment reconciliation entry point.
type OrderService interface {
	// DraftOrder prices and validates an order without persisting it.
	DraftOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	StartPayment(ctx context.Context, cmd StartPaymentCommand) (PaymentSession, error)
	ReconcileCapture(ctx context.Context, result CaptureResult) (Order, error)
	RefundOrder(ctx context.Context, cmd OrderAdminCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd OrderAdminCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error)
}

// VerificationService is the admin review of bank-transfer evidence.
type VerificationService interface {
	VerifyTransfer(ctx context.Context, cmd VerifyTransferCommand) (TransferReview, error)
	RejectTransfer(ctx context.Context, cmd RejectTransferCommand) (TransferReview, error)
	ListPendingTransfers(ctx context.Context, actor Actor, page Pagination) (domain.CursorPage[Order], error)
	EvidenceURL(ctx context.Context, orderID string, actor Actor) (EvidenceLink, error)
}

// CouponService validates, redeems and administers promotional codes.
type CouponService interface {
	ValidateCoupon(ctx context.Context, req CouponValidationRequest) (CouponValidation, error)
	RedeemCoupon(ctx context.Context, cmd RedeemCouponCommand) (Coupon, error)
	CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	DeactivateCoupon(ctx context.Context, code string, actor Actor) (Coupon, error)
	GetCoupon(ctx context.Context, code string, actor Actor) (Coupon, error)
	ListCoupons(ctx context.Context, actor Actor, filter CouponListFilter) (domain.CursorPage[Coupon], error)
}

// AuditLogService exposes audit log write/read helpers for administrative tooling.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, actor Actor, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// CounterService issues the human readable references printed on bookings and orders.
type CounterService interface {
	NextBookingReference(ctx context.Context, now time.Time) (string, error)
	NextOrderNumber(ctx context.Context, now time.Time) (string, error)
}

// DomainEventPublisher delivers lifecycle events to downstream consumers such as notifications.
type DomainEventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// PaymentGateway is the subset of the PSP manager the ledger depends on.
type PaymentGateway interface {
	StartPayment(ctx context.Context, req GatewayPaymentRequest) (GatewayPayment, error)
	Refund(ctx context.Context, req GatewayRefundRequest) error
}

// EvidenceStore resolves uploaded bank-transfer receipts.
type EvidenceStore interface {
	Stat(ctx context.Context, objectPath string) (EvidenceObject, error)
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error)
}

// TextSanitizer strips markup from free text supplied by users and administrators.
type TextSanitizer interface {
	Sanitize(input string) string
}

// Commands and results ---------------------------------------------------------

// PaymentSelection is the payment part of a booking request.
type PaymentSelection struct {
	Method       domain.PaymentMethod
	CouponCode   string
	BankTransfer *BankTransferSubmission
}

// BankTransferSubmission carries the evidence reference and declared transfer details.
type BankTransferSubmission struct {
	EvidencePath      string
	BankName          string
	AccountHolderName string
	TransferDate      time.Time
	ReferenceNumber   string
}

// CreateBookingCommand is the user request for a consultation session.
type CreateBookingCommand struct {
	Actor       Actor
	OfferingID  string
	Preferred   Slot
	Alternative *Slot
	MeetingMode domain.MeetingMode
	Profile     UserDetails
	Payment     PaymentSelection
}

// BookingCheckout is returned when a booking and its order are created together.
type BookingCheckout struct {
	Booking Booking
	Order   Order
}

// ConfirmBookingCommand assigns a session time.
type ConfirmBookingCommand struct {
	BookingID         string
	Actor             Actor
	ConfirmedDateTime time.Time
	Notes             string
}

// RescheduleBookingCommand requests a new schedule.
type RescheduleBookingCommand struct {
	BookingID   string
	Actor       Actor
	Preferred   Slot
	Alternative *Slot
	Reason      string
}

// CancelBookingCommand cancels a booking.
type CancelBookingCommand struct {
	BookingID string
	Actor     Actor
	Reason    string
}

// BookingActionCommand covers admin transitions without extra input.
type BookingActionCommand struct {
	BookingID string
	Actor     Actor
}

// SubmitFeedbackCommand records the post-session rating.
type SubmitFeedbackCommand struct {
	BookingID string
	Actor     Actor
	Rating    int
	Comment   string
}

// UpdateBookingNotesCommand replaces the admin notes on a booking.
type UpdateBookingNotesCommand struct {
	BookingID string
	Actor     Actor
	Notes     string
}

// SweepSessionsCommand completes confirmed sessions that ended before Now minus the grace period.
type SweepSessionsCommand struct {
	Actor Actor
	Now   time.Time
	Limit int
}

// SweepSessionsResult summarises a sweep.
type SweepSessionsResult struct {
	Completed []string
	Skipped   map[string]string
}

// CreateOrderCommand creates a pending order for a booking or a course.
type CreateOrderCommand struct {
	Actor         Actor
	Purchase      domain.Purchase
	CouponCode    string
	PaymentMethod domain.PaymentMethod
	BankTransfer  *BankTransferSubmission
	// Booking is supplied when the order is drafted for a booking that is not persisted yet.
	Booking *Booking
}

// StartPaymentCommand asks the gateway for a payment session on a pending order.
type StartPaymentCommand struct {
	OrderID        string
	Actor          Actor
	IdempotencyKey string
}

// PaymentSession is what the client needs to complete a gateway payment.
type PaymentSession struct {
	OrderID      string
	Provider     string
	IntentID     string
	ClientSecret string
	RedirectURL  string
}

// CaptureOutcome is the gateway's verdict on a capture.
type CaptureOutcome string

const (
	CaptureSucceeded CaptureOutcome = "succeeded"
	CaptureFailed    CaptureOutcome = "failed"
)

// CaptureResult is the reconciliation contract shared by every payment method.
type CaptureResult struct {
	OrderID               string
	Method                domain.PaymentMethod
	ExternalTransactionID string
	Outcome               CaptureOutcome
	FailureReason         string
	Actor                 Actor
}

// OrderAdminCommand refunds or cancels an order.
type OrderAdminCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// VerifyTransferCommand approves bank-transfer evidence.
type VerifyTransferCommand struct {
	OrderID string
	Actor   Actor
	Notes   string
}

// RejectTransferCommand rejects bank-transfer evidence. Reason is shown to the user.
type RejectTransferCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// TransferReview is the outcome of a verification decision including the cascaded booking.
type TransferReview struct {
	Order   Order
	Booking *Booking
}

// EvidenceLink is a short lived URL to a receipt.
type EvidenceLink struct {
	URL       string
	ExpiresAt time.Time
}

// EvidenceObject describes a stored receipt.
type EvidenceObject struct {
	Path        string
	ContentType string
	Size        int64
}

// CouponTarget identifies what the coupon is applied to.
type CouponTarget struct {
	Kind domain.PurchaseKind
	ID   string
}

// CouponValidationRequest validates a code for a purchase.
type CouponValidationRequest struct {
	Code   string
	UserID string
	Target CouponTarget
	Amount decimal.Decimal
	// ReplacingOrderID names an open order of UserID this purchase supersedes. The coupon use it
	// holds counts as available.
	ReplacingOrderID string
}

// CouponValidation is the discount breakdown for a valid code.
type CouponValidation struct {
	Coupon         Coupon
	OriginalAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
}

// RedeemCouponCommand records a redemption for a completed order.
type RedeemCouponCommand struct {
	Code    string
	UserID  string
	OrderID string
}

// UpsertCouponCommand creates or updates a coupon.
type UpsertCouponCommand struct {
	Actor                  Actor
	Code                   string
	Description            string
	DiscountType           domain.DiscountType
	DiscountValue          decimal.Decimal
	MaxUses                *int
	ValidFrom              time.Time
	ValidUntil             *time.Time
	ApplicableTo           domain.CouponScope
	AllowedCourseIDs       []string
	AllowedConsultationIDs []string
	MinPurchaseAmount      decimal.Decimal
	IsActive               bool
	ExpectedVersion        *int64
}

// AuditLogRecord defines the payload accepted by the audit writer service.
type AuditLogRecord struct {
	Actor      string
	ActorType  domain.ActorType
	Action     domain.AuditAction
	TargetType string
	TargetID   string
	Details    map[string]any
	IPAddress  string
	UserAgent  string
	RequestID  string
	OccurredAt time.Time
}

// DomainEvent is the envelope published for lifecycle changes.
type DomainEvent struct {
	ID            string
	Type          string
	AggregateType string
	AggregateID   string
	UserID        string
	OccurredAt    time.Time
	Payload       map[string]any
}

// GatewayPaymentRequest asks a PSP to start collecting an order amount.
type GatewayPaymentRequest struct {
	Provider       string
	OrderID        string
	OrderNumber    string
	Amount         decimal.Decimal
	Currency       string
	CustomerEmail  string
	IdempotencyKey string
	Metadata       map[string]string
}

// GatewayPayment is the PSP session created for an order.
type GatewayPayment struct {
	Provider     string
	IntentID     string
	ClientSecret string
	RedirectURL  string
}

// GatewayRefundRequest refunds a captured payment.
type GatewayRefundRequest struct {
	Provider       string
	IntentID       string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
	IdempotencyKey string
}

