package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	defaultGatewayTimeout = 10 * time.Second
	defaultOrderPageSize  = 20
	maxOrderPageSize      = 100
	evidencePathPrefix    = "bank-transfers/"
)

var (
	ErrOrderInvalidInput         = newError(KindValidation, "order_invalid_input", "order: invalid input")
	ErrOrderInvalidAmount        = newError(KindValidation, "order_invalid_amount", "order: amount must equal original amount minus discount and be non-negative")
	ErrOrderNotFound             = newError(KindNotFound, "order_not_found", "order: not found")
	ErrOrderForbidden            = newError(KindAuthorization, "order_forbidden", "order: actor may not access this order")
	ErrOrderConflict             = newError(KindStateConflict, "order_conflict", "order: concurrent update detected")
	ErrOrderInvalidTransition    = newError(KindStateConflict, "order_invalid_transition", "order: transition not allowed from current status")
	ErrOrderAlreadyCompleted     = newError(KindStateConflict, "order_already_completed", "order: already completed with a different transaction")
	ErrOrderActiveExists         = newError(KindStateConflict, "order_active_exists", "order: booking already has an open order")
	ErrOrderAwaitingVerification = newError(KindStateConflict, "order_awaiting_verification", "order: bank transfers complete through verification")
	ErrOrderNotPayable           = newError(KindStateConflict, "order_not_payable", "order: order cannot be paid")
	ErrOrderBookingNotPayable    = newError(KindStateConflict, "order_booking_not_payable", "order: booking is not awaiting payment")
	ErrOrderPurchaseUnavailable  = newError(KindValidation, "order_purchase_unavailable", "order: purchased item is not available")
	ErrOrderBookingInactive      = newError(KindIntegrity, "order_booking_inactive", "order: paired booking is no longer awaiting payment")
	ErrOrderGatewayUnavailable   = newError(KindExternal, "payment_gateway_unavailable", "order: payment gateway unavailable")
	ErrOrderEvidenceUnavailable  = newError(KindExternal, "evidence_store_unavailable", "order: evidence store unavailable")

	ErrTransferEvidenceRequired = newError(KindValidation, "bank_transfer_evidence_required", "bank transfer: evidence is required")
	ErrTransferDetailsRequired  = newError(KindValidation, "bank_transfer_details_required", "bank transfer: bank name, account holder and transfer date are required")
	ErrTransferEvidenceNotFound = newError(KindValidation, "bank_transfer_evidence_not_found", "bank transfer: evidence file not found")
	ErrTransferAlreadyReviewed  = newError(KindStateConflict, "bank_transfer_already_reviewed", "bank transfer: already reviewed")
	ErrTransferReasonRequired   = newError(KindValidation, "bank_transfer_reason_required", "bank transfer: rejection reason is required")
	ErrTransferNotBankTransfer  = newError(KindValidation, "bank_transfer_wrong_method", "bank transfer: order is not paid by bank transfer")
)

// ErrEvidenceNotFound is returned by EvidenceStore implementations for missing objects.
var ErrEvidenceNotFound = errors.New("evidence: object not found")

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders         repositories.OrderRepository
	Bookings       repositories.BookingRepository
	Coupons        repositories.CouponRepository
	Catalog        repositories.CatalogRepository
	Enrollments    repositories.EnrollmentRepository
	CouponEngine   CouponService
	Counters       CounterService
	Gateway        PaymentGateway
	Evidence       EvidenceStore
	Policy         BookingPolicy
	GatewayTimeout time.Duration
	UnitOfWork     repositories.UnitOfWork
	Clock          func() time.Time
	IDGenerator    func() string
	Events         DomainEventPublisher
	Audit          AuditLogService
	Sanitizer      TextSanitizer
	Observer       TransitionObserver
	Logger         Logger
}

type orderService struct {
	ledgerCore
	catalog        repositories.CatalogRepository
	couponEngine   CouponService
	counters       CounterService
	gateway        PaymentGateway
	evidence       EvidenceStore
	gatewayTimeout time.Duration
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Bookings == nil {
		return nil, errors.New("order service: booking repository is required")
	}
	if deps.Coupons == nil || deps.CouponEngine == nil {
		return nil, errors.New("order service: coupon repository and engine are required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}
	timeout := deps.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &orderService{
		ledgerCore: ledgerCore{
			serviceRuntime: newServiceRuntime(runtimeDeps{
				UnitOfWork:  deps.UnitOfWork,
				Clock:       deps.Clock,
				IDGenerator: deps.IDGenerator,
				Events:      deps.Events,
				Audit:       deps.Audit,
				Sanitizer:   deps.Sanitizer,
				Observer:    deps.Observer,
				Logger:      deps.Logger,
			}),
			orders:      deps.Orders,
			bookings:    deps.Bookings,
			coupons:     couponHolds{repo: deps.Coupons},
			enrollments: deps.Enrollments,
			policy:      deps.Policy.normalized(),
		},
		catalog:        deps.Catalog,
		couponEngine:   deps.CouponEngine,
		counters:       deps.Counters,
		gateway:        deps.Gateway,
		evidence:       deps.Evidence,
		gatewayTimeout: timeout,
	}, nil
}

// DraftOrder prices the purchase, validates the coupon and the bank-transfer submission and
// returns a pending order with its id assigned. Nothing is persisted; the order number is issued
// in the unit of work that stores the order.
func (s *orderService) DraftOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.Actor.ID)
	if userID == "" {
		return Order{}, withDetail(ErrOrderInvalidInput, "user id is required")
	}
	if !cmd.PaymentMethod.Valid() {
		return Order{}, withDetail(ErrOrderInvalidInput, "unsupported payment method %q", cmd.PaymentMethod)
	}
	if cmd.PaymentMethod != domain.PaymentMethodBankTransfer && cmd.BankTransfer != nil {
		return Order{}, withDetail(ErrOrderInvalidInput, "bank transfer details supplied for %s payment", cmd.PaymentMethod)
	}

	now := s.now()
	order := domain.Order{
		ID:            orderIDPrefix + s.newID(),
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		PaymentMethod: cmd.PaymentMethod,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var (
		target    CouponTarget
		replacing string
	)
	switch cmd.Purchase.Kind {
	case domain.PurchaseKindConsultation:
		booking, err := s.bookingForOrder(ctx, cmd)
		if err != nil {
			return Order{}, err
		}
		order.Purchase = domain.Purchase{
			Kind:      domain.PurchaseKindConsultation,
			BookingID: booking.ID,
			TargetID:  booking.Offering.OfferingID,
		}
		order.OriginalAmount = booking.Offering.Price
		order.Currency = booking.Offering.Currency
		target = CouponTarget{Kind: domain.PurchaseKindConsultation, ID: booking.Offering.OfferingID}
		replacing = booking.ActiveOrderID
	case domain.PurchaseKindCourse:
		courseID := strings.TrimSpace(cmd.Purchase.CourseID)
		if courseID == "" {
			return Order{}, withDetail(ErrOrderInvalidInput, "course id is required")
		}
		course, err := s.catalog.FindCourse(ctx, courseID)
		if err != nil {
			return Order{}, repositoryFailure(err, withDetail(ErrOrderPurchaseUnavailable, "course %s not found", courseID), ErrOrderConflict)
		}
		if !course.IsActive {
			return Order{}, withDetail(ErrOrderPurchaseUnavailable, "course %s is inactive", courseID)
		}
		order.Purchase = domain.Purchase{Kind: domain.PurchaseKindCourse, CourseID: course.ID, TargetID: course.ID}
		order.OriginalAmount = course.Price
		order.Currency = course.Currency
		target = CouponTarget{Kind: domain.PurchaseKindCourse, ID: course.ID}
	default:
		return Order{}, withDetail(ErrOrderInvalidInput, "unknown purchase kind %q", cmd.Purchase.Kind)
	}

	if err := domain.CheckMoney(order.OriginalAmount); err != nil {
		return Order{}, withCause(ErrOrderInvalidAmount, err)
	}
	order.DiscountAmount = decimal.Zero
	order.Amount = order.OriginalAmount

	if code := domain.NormalizeCouponCode(cmd.CouponCode); code != "" {
		validation, err := s.couponEngine.ValidateCoupon(ctx, CouponValidationRequest{
			Code:             code,
			UserID:           userID,
			Target:           target,
			Amount:           order.OriginalAmount,
			ReplacingOrderID: replacing,
		})
		if err != nil {
			return Order{}, err
		}
		order.CouponCode = validation.Coupon.Code
		order.DiscountAmount = validation.DiscountAmount
		order.Amount = validation.FinalAmount
	}

	if order.PaymentMethod == domain.PaymentMethodBankTransfer {
		transfer, err := s.bankTransfer(ctx, userID, cmd.BankTransfer)
		if err != nil {
			return Order{}, err
		}
		order.BankTransfer = &transfer
	}

	if err := order.CheckAmounts(); err != nil {
		return Order{}, withCause(ErrOrderInvalidAmount, err)
	}
	return order, nil
}

func (s *orderService) bookingForOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Booking, error) {
	if cmd.Booking != nil {
		return *cmd.Booking, nil
	}
	bookingID := strings.TrimSpace(cmd.Purchase.BookingID)
	if bookingID == "" {
		return domain.Booking{}, withDetail(ErrOrderInvalidInput, "booking id is required")
	}
	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, repositoryFailure(err, ErrBookingNotFound, ErrBookingConflict)
	}
	if err := s.requireOwner(ctx, cmd.Actor, booking.UserID, "order.create", "booking", booking.ID, ErrOrderForbidden); err != nil {
		return domain.Booking{}, err
	}
	if booking.Status != domain.BookingStatusPendingPayment {
		return domain.Booking{}, withDetail(ErrOrderBookingNotPayable, "booking %s is %s", booking.ID, booking.Status)
	}
	return booking, nil
}

// bankTransfer validates the submission before any write. Missing evidence is reported first.
func (s *orderService) bankTransfer(ctx context.Context, userID string, sub *BankTransferSubmission) (domain.BankTransfer, error) {
	if sub == nil {
		return domain.BankTransfer{}, ErrTransferEvidenceRequired
	}
	transfer, err := domain.NewBankTransfer(
		domain.TransferEvidence{ObjectPath: sub.EvidencePath},
		domain.TransferDetails{
			BankName:          s.clean(sub.BankName),
			AccountHolderName: s.clean(sub.AccountHolderName),
			TransferDate:      sub.TransferDate.UTC(),
			ReferenceNumber:   s.clean(sub.ReferenceNumber),
		},
	)
	switch {
	case errors.Is(err, domain.ErrTransferEvidenceMissing):
		return domain.BankTransfer{}, ErrTransferEvidenceRequired
	case errors.Is(err, domain.ErrTransferDetailsIncomplete):
		return domain.BankTransfer{}, ErrTransferDetailsRequired
	case err != nil:
		return domain.BankTransfer{}, withCause(ErrOrderInvalidInput, err)
	}

	path := strings.TrimPrefix(transfer.Evidence.ObjectPath, "/")
	if !strings.HasPrefix(path, EvidencePrefix(userID)) || strings.Contains(path, "..") {
		return domain.BankTransfer{}, withDetail(ErrTransferEvidenceNotFound, "evidence must be uploaded under %s", EvidencePrefix(userID))
	}
	transfer.Evidence.ObjectPath = path
	if transfer.Details.TransferDate.After(s.now()) {
		return domain.BankTransfer{}, withDetail(ErrTransferDetailsRequired, "transfer date is in the future")
	}

	if s.evidence != nil {
		object, err := s.evidence.Stat(ctx, path)
		switch {
		case errors.Is(err, ErrEvidenceNotFound):
			return domain.BankTransfer{}, withDetail(ErrTransferEvidenceNotFound, "%s", path)
		case err != nil:
			return domain.BankTransfer{}, withCause(ErrOrderEvidenceUnavailable, err)
		}
		transfer.Evidence.ContentType = object.ContentType
		transfer.Evidence.Size = object.Size
	}
	return transfer, nil
}

// EvidencePrefix is the object prefix a user's bank-transfer receipts are uploaded under.
func EvidencePrefix(userID string) string {
	return evidencePathPrefix + strings.TrimSpace(userID) + "/"
}

// CreateOrder stores the order, reserves its coupon use and pairs it with the booking in one unit
// of work. A booking whose open order had its transfer rejected gets that order superseded, and
// the superseded order's coupon use is given back first.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	cmd.Booking = nil
	draft, err := s.DraftOrder(ctx, cmd)
	if err != nil {
		return Order{}, err
	}

	var (
		order      domain.Order
		superseded *domain.Order
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		order = draft
		superseded = nil
		now := s.now()

		var booking domain.Booking
		if order.Purchase.Kind == domain.PurchaseKindConsultation {
			found, err := s.bookings.FindByID(txCtx, order.Purchase.BookingID)
			if err != nil {
				return repositoryFailure(err, ErrBookingNotFound, ErrBookingConflict)
			}
			booking = found
			if booking.Status != domain.BookingStatusPendingPayment {
				return withDetail(ErrOrderBookingNotPayable, "booking %s is %s", booking.ID, booking.Status)
			}
			if booking.ActiveOrderID != "" {
				previous, err := s.orders.FindByID(txCtx, booking.ActiveOrderID)
				if err != nil && !isRepositoryNotFound(err) {
					return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
				}
				if err == nil && !previous.Status.Terminal() {
					if !previous.TransferRejected() {
						return withDetail(ErrOrderActiveExists, "order %s is %s", previous.ID, previous.Status)
					}
					prior := previous
					superseded = &prior
				}
			}
		}

		number, err := s.counters.NextOrderNumber(txCtx, now)
		if err != nil {
			return err
		}
		order.OrderNumber = number
		if err := s.orders.Insert(txCtx, order); err != nil {
			return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if superseded != nil {
			if err := s.coupons.release(txCtx, *superseded); err != nil {
				return err
			}
		}
		if _, err := s.coupons.reserve(txCtx, order, now); err != nil {
			return err
		}
		if order.Purchase.Kind != domain.PurchaseKindConsultation {
			return nil
		}

		if superseded != nil {
			closed := *superseded
			closed.Status = domain.OrderStatusCancelled
			closed.CancelReason = supersededReason
			closed.SupersededBy = order.ID
			closed.CancelledAt = valuePtr(now)
			closed.UpdatedAt = now
			stored, err := s.orders.Update(txCtx, closed, superseded.Version)
			if err != nil {
				return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
			}
			superseded = &stored
		}
		next := cloneBooking(booking)
		next.ActiveOrderID = order.ID
		next.PaymentStatus = domain.BookingPaymentPending
		next.UpdatedAt = now
		if _, err := s.bookings.Update(txCtx, repositories.BookingUpdate{Booking: next, ExpectedVersion: booking.Version}); err != nil {
			return mapBookingRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.announceOrderCreated(ctx, cmd.Actor, order)
	if superseded != nil {
		s.record(ctx, domain.SystemActor(""), domain.AuditOrderCancelled, "order", superseded.ID, map[string]any{
			"orderNumber":  superseded.OrderNumber,
			"reason":       supersededReason,
			"supersededBy": order.ID,
		})
		s.observe(ctx, aggregateOrder, string(domain.OrderStatusPending), string(domain.OrderStatusCancelled))
		s.publish(ctx, DomainEvent{
			Type:          orderEventCancelled,
			AggregateType: aggregateOrder,
			AggregateID:   superseded.ID,
			UserID:        superseded.UserID,
			Payload:       map[string]any{"reason": supersededReason, "supersededBy": order.ID},
		})
	}
	return order, nil
}

func (s *orderService) announceOrderCreated(ctx context.Context, actor domain.Actor, order domain.Order) {
	details := map[string]any{
		"orderNumber":    order.OrderNumber,
		"purchaseKind":   string(order.Purchase.Kind),
		"paymentMethod":  string(order.PaymentMethod),
		"originalAmount": domain.FormatMoney(order.OriginalAmount),
		"discountAmount": domain.FormatMoney(order.DiscountAmount),
		"amount":         domain.FormatMoney(order.Amount),
		"currency":       order.Currency,
	}
	if order.CouponCode != "" {
		details["couponCode"] = order.CouponCode
	}
	if order.Purchase.BookingID != "" {
		details["bookingId"] = order.Purchase.BookingID
	}
	s.record(ctx, actor, domain.AuditOrderCreated, "order", order.ID, details)
	s.publish(ctx, DomainEvent{
		Type:          orderEventCreated,
		AggregateType: aggregateOrder,
		AggregateID:   order.ID,
		UserID:        order.UserID,
		Payload:       details,
	})
}

// StartPayment asks the gateway for a payment session. A timeout or outage leaves the order
// pending so a later webhook can still complete it.
func (s *orderService) StartPayment(ctx context.Context, cmd StartPaymentCommand) (PaymentSession, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return PaymentSession{}, err
	}
	if err := s.requireOwner(ctx, cmd.Actor, order.UserID, "order.pay", "order", order.ID, ErrOrderForbidden); err != nil {
		return PaymentSession{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return PaymentSession{}, withDetail(ErrOrderNotPayable, "order is %s", order.Status)
	}
	if !slices.Contains([]domain.PaymentMethod{domain.PaymentMethodStripe, domain.PaymentMethodPayPal}, order.PaymentMethod) {
		return PaymentSession{}, withDetail(ErrOrderNotPayable, "%s orders are not paid through a gateway", order.PaymentMethod)
	}
	if s.gateway == nil {
		return PaymentSession{}, withDetail(ErrOrderGatewayUnavailable, "no gateway configured")
	}

	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		key = fmt.Sprintf("order-%s-v%d", order.ID, order.Version)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	payment, err := s.gateway.StartPayment(callCtx, GatewayPaymentRequest{
		Provider:       string(order.PaymentMethod),
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Amount:         order.Amount,
		Currency:       order.Currency,
		IdempotencyKey: key,
		Metadata: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
			"userId":      order.UserID,
		},
	})
	if err != nil {
		s.logger(ctx, "order.payment.start.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return PaymentSession{}, withCause(ErrOrderGatewayUnavailable, err)
	}

	if payment.IntentID != "" && payment.IntentID != order.PaymentIntentID {
		next := order
		next.PaymentIntentID = payment.IntentID
		next.UpdatedAt = s.now()
		if _, err := s.orders.Update(ctx, next, order.Version); err != nil {
			return PaymentSession{}, repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
		}
	}

	return PaymentSession{
		OrderID:      order.ID,
		Provider:     payment.Provider,
		IntentID:     payment.IntentID,
		ClientSecret: payment.ClientSecret,
		RedirectURL:  payment.RedirectURL,
	}, nil
}

// ReconcileCapture applies a gateway capture outcome. Replaying a success with the same external
// transaction id is a no-op.
func (s *orderService) ReconcileCapture(ctx context.Context, result CaptureResult) (Order, error) {
	actor := result.Actor
	if actor.Type == "" {
		actor = domain.SystemActor("payments")
	}
	switch result.Outcome {
	case CaptureSucceeded:
		if strings.TrimSpace(result.ExternalTransactionID) == "" {
			return Order{}, withDetail(ErrOrderInvalidInput, "external transaction id is required")
		}
		completed, err := s.complete(ctx, completionRequest{
			OrderID:               result.OrderID,
			Method:                result.Method,
			ExternalTransactionID: result.ExternalTransactionID,
			Actor:                 actor,
		})
		if err != nil {
			return Order{}, err
		}
		return completed.Order, nil
	case CaptureFailed:
		return s.fail(ctx, result, actor)
	default:
		return Order{}, withDetail(ErrOrderInvalidInput, "unknown capture outcome %q", result.Outcome)
	}
}

func (s *orderService) fail(ctx context.Context, result CaptureResult, actor domain.Actor) (Order, error) {
	orderID := strings.TrimSpace(result.OrderID)
	if orderID == "" {
		return Order{}, withDetail(ErrOrderInvalidInput, "order id is required")
	}
	reason := s.clean(result.FailureReason)
	if reason == "" {
		reason = "payment failed"
	}
	now := s.now()

	var (
		updated  domain.Order
		replayed bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		replayed = false
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if order.Status == domain.OrderStatusFailed && order.ExternalTransactionID == strings.TrimSpace(result.ExternalTransactionID) {
			updated = order
			replayed = true
			return nil
		}
		if order.Status != domain.OrderStatusPending {
			return withDetail(ErrOrderInvalidTransition, "%s -> %s", order.Status, domain.OrderStatusFailed)
		}
		if order.PaymentMethod == domain.PaymentMethodBankTransfer {
			return withDetail(ErrOrderAwaitingVerification, "reject the transfer instead")
		}
		if result.Method != "" && result.Method != order.PaymentMethod {
			return withDetail(ErrOrderInvalidInput, "capture method %s does not match order method %s", result.Method, order.PaymentMethod)
		}
		if err := s.coupons.release(txCtx, order); err != nil {
			return err
		}
		order.Status = domain.OrderStatusFailed
		order.FailureReason = reason
		order.FailedAt = valuePtr(now)
		order.ExternalTransactionID = strings.TrimSpace(result.ExternalTransactionID)
		order.UpdatedAt = now
		stored, err := s.orders.Update(txCtx, order, order.Version)
		if err != nil {
			return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
		}
		updated = stored
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if replayed {
		return updated, nil
	}

	s.record(ctx, actor, domain.AuditOrderFailed, "order", updated.ID, map[string]any{
		"orderNumber": updated.OrderNumber,
		"reason":      reason,
	})
	s.observe(ctx, aggregateOrder, string(domain.OrderStatusPending), string(domain.OrderStatusFailed))
	s.publish(ctx, DomainEvent{
		Type:          orderEventFailed,
		AggregateType: aggregateOrder,
		AggregateID:   updated.ID,
		UserID:        updated.UserID,
		Payload:       map[string]any{"orderNumber": updated.OrderNumber, "reason": reason},
	})
	return updated, nil
}

func (s *orderService) RefundOrder(ctx context.Context, cmd OrderAdminCommand) (Order, error) {
	if err := s.requireAdmin(ctx, cmd.Actor, "order.refund", "order", cmd.OrderID, ErrOrderForbidden); err != nil {
		return Order{}, err
	}
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusCompleted {
		return Order{}, withDetail(ErrOrderInvalidTransition, "%s -> %s", order.Status, domain.OrderStatusRefunded)
	}
	reason := s.clean(cmd.Reason)

	if order.PaymentIntentID != "" && s.gateway != nil {
		callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
		err := s.gateway.Refund(callCtx, GatewayRefundRequest{
			Provider:       string(order.PaymentMethod),
			IntentID:       order.PaymentIntentID,
			Amount:         order.Amount,
			Currency:       order.Currency,
			Reason:         reason,
			IdempotencyKey: "refund-" + order.ID,
		})
		cancel()
		if err != nil {
			s.logger(ctx, "order.refund.gateway.failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			return Order{}, withCause(ErrOrderGatewayUnavailable, err)
		}
	}

	result, err := s.closeOrder(ctx, order.ID, order, domain.OrderStatusRefunded, cmd.Actor, reason)
	if err != nil {
		return Order{}, err
	}
	return result.Order, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd OrderAdminCommand) (Order, error) {
	if err := s.requireAdmin(ctx, cmd.Actor, "order.cancel", "order", cmd.OrderID, ErrOrderForbidden); err != nil {
		return Order{}, err
	}
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return Order{}, withDetail(ErrOrderInvalidTransition, "%s -> %s", order.Status, domain.OrderStatusCancelled)
	}
	result, err := s.closeOrder(ctx, order.ID, order, domain.OrderStatusCancelled, cmd.Actor, s.clean(cmd.Reason))
	if err != nil {
		return Order{}, err
	}
	return result.Order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := s.requireOwner(ctx, actor, order.UserID, "order.get", "order", order.ID, ErrOrderForbidden); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (domain.CursorPage[Order], error) {
	switch actor.Type {
	case domain.ActorTypeAdmin:
	case domain.ActorTypeUser:
		if strings.TrimSpace(actor.ID) == "" {
			return domain.CursorPage[Order]{}, withDetail(ErrOrderForbidden, "anonymous actor")
		}
		filter.UserID = actor.ID
	default:
		return domain.CursorPage[Order]{}, withDetail(ErrOrderForbidden, "actor type %q", actor.Type)
	}
	for _, status := range filter.Status {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, withDetail(ErrOrderInvalidInput, "unknown status %q", status)
		}
	}
	if filter.PaymentMethod != "" && !filter.PaymentMethod.Valid() {
		return domain.CursorPage[Order]{}, withDetail(ErrOrderInvalidInput, "unknown payment method %q", filter.PaymentMethod)
	}
	filter.Pagination.PageSize = clampPageSize(filter.Pagination.PageSize, defaultOrderPageSize, maxOrderPageSize)
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return page, nil
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, withDetail(ErrOrderInvalidInput, "order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return order, nil
}
