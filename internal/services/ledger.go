package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

const (
	bookingEventCreated           = "booking.created"
	bookingEventPaymentCompleted  = "booking.payment_completed"
	bookingEventConfirmed         = "booking.confirmed"
	bookingEventRescheduled       = "booking.rescheduled"
	bookingEventCancelled         = "booking.cancelled"
	bookingEventCompleted         = "booking.completed"
	bookingEventNoShow            = "booking.no_show"
	bookingEventFeedbackSubmitted = "booking.feedback_submitted"

	orderEventCreated          = "order.created"
	orderEventCompleted        = "order.completed"
	orderEventFailed           = "order.failed"
	orderEventRefunded         = "order.refunded"
	orderEventCancelled        = "order.cancelled"
	orderEventTransferVerified = "order.transfer_verified"
	orderEventTransferRejected = "order.transfer_rejected"

	courseEventAccessGranted = "course.access_granted"

	aggregateBooking = "booking"
	aggregateOrder   = "order"

	supersededReason = "superseded"
)

// ledgerCore holds the capture success path shared by gateway reconciliation and bank-transfer
// verification, plus the order to booking cascade used by refunds and cancellations.
type ledgerCore struct {
	serviceRuntime
	orders      repositories.OrderRepository
	bookings    repositories.BookingRepository
	coupons     couponHolds
	enrollments repositories.EnrollmentRepository
	policy      BookingPolicy
}

type transferStamp struct {
	AdminID string
	Notes   string
}

type completionRequest struct {
	OrderID               string
	Method                domain.PaymentMethod
	ExternalTransactionID string
	Actor                 domain.Actor
	// Review is set when an administrator verified bank-transfer evidence.
	Review *transferStamp
}

type completionResult struct {
	Order          domain.Order
	Booking        *domain.Booking
	PreviousStatus domain.BookingStatus
	Enrollment     *domain.CourseEnrollment
	CouponRedeemed bool
	Replayed       bool
}

// complete moves a pending order to completed, confirms the coupon use reserved at checkout, advances
// the paired booking to pending_confirmation or grants course access, all in one unit of work. A booking that is no
// longer awaiting payment aborts the whole mutation as an integrity violation.
func (l *ledgerCore) complete(ctx context.Context, req completionRequest) (completionResult, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return completionResult{}, withDetail(ErrOrderInvalidInput, "order id is required")
	}

	now := l.now()
	var (
		result         completionResult
		integrity      map[string]any
		couponRejected error
	)
	err := l.runInTx(ctx, func(txCtx context.Context) error {
		result = completionResult{}
		integrity = nil
		couponRejected = nil

		order, err := l.orders.FindByID(txCtx, orderID)
		if err != nil {
			return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
		}

		if req.Review != nil && order.BankTransfer != nil && order.BankTransfer.VerificationStatus != domain.VerificationPending {
			return withDetail(ErrTransferAlreadyReviewed, "verification status %s", order.BankTransfer.VerificationStatus)
		}
		if order.Status == domain.OrderStatusCompleted && req.Review == nil {
			if order.ExternalTransactionID != "" && order.ExternalTransactionID == req.ExternalTransactionID {
				result.Order = order
				result.Replayed = true
				return nil
			}
			return withDetail(ErrOrderAlreadyCompleted, "order %s", order.ID)
		}
		if order.Status != domain.OrderStatusPending {
			return withDetail(ErrOrderInvalidTransition, "%s -> %s", order.Status, domain.OrderStatusCompleted)
		}
		if req.Method != "" && req.Method != order.PaymentMethod {
			return withDetail(ErrOrderInvalidInput, "capture method %s does not match order method %s", req.Method, order.PaymentMethod)
		}

		if order.PaymentMethod == domain.PaymentMethodBankTransfer {
			if req.Review == nil {
				return withDetail(ErrOrderAwaitingVerification, "order %s", order.ID)
			}
			if order.BankTransfer == nil {
				return withDetail(ErrOrderInvalidInput, "order %s has no bank transfer record", order.ID)
			}
			if order.BankTransfer.VerificationStatus != domain.VerificationPending {
				return withDetail(ErrTransferAlreadyReviewed, "verification status %s", order.BankTransfer.VerificationStatus)
			}
		} else if req.Review != nil {
			return withDetail(ErrOrderInvalidInput, "order %s is not a bank transfer", order.ID)
		}

		var nextBooking *domain.Booking
		var bookingVersion int64
		switch order.Purchase.Kind {
		case domain.PurchaseKindConsultation:
			booking, err := l.bookings.FindByID(txCtx, order.Purchase.BookingID)
			if err != nil {
				return repositoryFailure(err, ErrBookingNotFound, ErrBookingConflict)
			}
			if booking.Status != domain.BookingStatusPendingPayment || booking.ActiveOrderID != order.ID {
				integrity = map[string]any{
					"orderId":       order.ID,
					"bookingId":     booking.ID,
					"bookingStatus": string(booking.Status),
					"activeOrderId": booking.ActiveOrderID,
				}
				return withDetail(ErrOrderBookingInactive, "booking %s is %s", booking.ID, booking.Status)
			}
			next, err := l.policy.MarkPaymentCompleted(booking, now)
			if err != nil {
				return err
			}
			result.PreviousStatus = booking.Status
			bookingVersion = booking.Version
			nextBooking = &next
		case domain.PurchaseKindCourse:
			result.Enrollment = &domain.CourseEnrollment{
				UserID:    order.UserID,
				CourseID:  order.Purchase.CourseID,
				OrderID:   order.ID,
				GrantedAt: now,
			}
		}

		// The use was reserved when the order was stored; a missing reservation is taken now and
		// a refused one keeps the order pending instead of completing at the discounted price.
		if _, err := l.coupons.reserve(txCtx, order, now); err != nil {
			if errors.Is(err, ErrCouponExhausted) || errors.Is(err, ErrCouponAlreadyRedeemed) || errors.Is(err, ErrCouponInactive) {
				couponRejected = err
			}
			return err
		}
		result.CouponRedeemed = order.CouponCode != ""

		order.Status = domain.OrderStatusCompleted
		order.CompletedAt = valuePtr(now)
		order.ExternalTransactionID = strings.TrimSpace(req.ExternalTransactionID)
		order.FailureReason = ""
		if req.Review != nil {
			transfer := *order.BankTransfer
			transfer.VerificationStatus = domain.VerificationVerified
			transfer.ReviewedBy = req.Review.AdminID
			transfer.ReviewedAt = valuePtr(now)
			order.BankTransfer = &transfer
			if order.ExternalTransactionID == "" {
				order.ExternalTransactionID = "bank:" + order.OrderNumber
			}
		}
		order.UpdatedAt = now
		if err := order.CheckAmounts(); err != nil {
			return withCause(ErrOrderInvalidAmount, err)
		}

		updated, err := l.orders.Update(txCtx, order, order.Version)
		if err != nil {
			return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
		}
		result.Order = updated

		if nextBooking != nil {
			stored, err := l.bookings.Update(txCtx, repositories.BookingUpdate{
				Booking:         *nextBooking,
				ExpectedVersion: bookingVersion,
			})
			if err != nil {
				return mapBookingRepositoryError(err)
			}
			result.Booking = &stored
		}
		if result.Enrollment != nil && l.enrollments != nil {
			if err := l.enrollments.Grant(txCtx, *result.Enrollment); err != nil {
				return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
			}
		}
		return nil
	})
	if err != nil {
		if integrity != nil && errors.Is(err, ErrIntegrity) {
			l.reportIntegrity(ctx, req.Actor, "order", orderID, integrity)
		}
		if couponRejected != nil {
			l.logger(ctx, "coupon.redemption.rejected", map[string]any{
				"severity": string(domain.SeverityHigh),
				"orderId":  orderID,
				"error":    couponRejected.Error(),
			})
		}
		return completionResult{}, err
	}

	if !result.Replayed {
		l.afterCompletion(ctx, req, result)
	}
	return result, nil
}

func (l *ledgerCore) afterCompletion(ctx context.Context, req completionRequest, result completionResult) {
	order := result.Order
	details := map[string]any{
		"orderNumber":           order.OrderNumber,
		"paymentMethod":         string(order.PaymentMethod),
		"amount":                domain.FormatMoney(order.Amount),
		"currency":              order.Currency,
		"externalTransactionId": order.ExternalTransactionID,
	}
	if req.Review != nil {
		reviewDetails := map[string]any{"orderNumber": order.OrderNumber}
		if notes := l.clean(req.Review.Notes); notes != "" {
			reviewDetails["notes"] = notes
		}
		l.record(ctx, req.Actor, domain.AuditBankTransferVerified, "order", order.ID, reviewDetails)
		l.publish(ctx, DomainEvent{
			Type:          orderEventTransferVerified,
			AggregateType: aggregateOrder,
			AggregateID:   order.ID,
			UserID:        order.UserID,
			Payload:       map[string]any{"orderNumber": order.OrderNumber, "reviewedBy": req.Review.AdminID},
		})
	}
	l.record(ctx, req.Actor, domain.AuditOrderCompleted, "order", order.ID, details)
	l.observe(ctx, aggregateOrder, string(domain.OrderStatusPending), string(domain.OrderStatusCompleted))
	l.publish(ctx, DomainEvent{
		Type:          orderEventCompleted,
		AggregateType: aggregateOrder,
		AggregateID:   order.ID,
		UserID:        order.UserID,
		Payload:       details,
	})

	if result.CouponRedeemed {
		l.record(ctx, domain.Actor{ID: order.UserID, Type: domain.ActorTypeUser}, domain.AuditCouponRedeemed, "coupon", order.CouponCode, map[string]any{
			"orderId":  order.ID,
			"discount": domain.FormatMoney(order.DiscountAmount),
		})
		l.publish(ctx, DomainEvent{
			Type:          couponEventRedeemed,
			AggregateType: "coupon",
			AggregateID:   order.CouponCode,
			UserID:        order.UserID,
			Payload:       map[string]any{"orderId": order.ID},
		})
	}

	if result.Booking != nil {
		l.observe(ctx, aggregateBooking, string(result.PreviousStatus), string(result.Booking.Status))
		l.publish(ctx, DomainEvent{
			Type:          bookingEventPaymentCompleted,
			AggregateType: aggregateBooking,
			AggregateID:   result.Booking.ID,
			UserID:        result.Booking.UserID,
			Payload: map[string]any{
				"reference": result.Booking.Reference,
				"orderId":   order.ID,
				"status":    string(result.Booking.Status),
			},
		})
	}
	if result.Enrollment != nil {
		l.record(ctx, req.Actor, domain.AuditCourseAccessGranted, "course", result.Enrollment.CourseID, map[string]any{
			"userId":  result.Enrollment.UserID,
			"orderId": result.Enrollment.OrderID,
		})
		l.publish(ctx, DomainEvent{
			Type:          courseEventAccessGranted,
			AggregateType: "course",
			AggregateID:   result.Enrollment.CourseID,
			UserID:        result.Enrollment.UserID,
			Payload:       map[string]any{"orderId": result.Enrollment.OrderID},
		})
	}
}

type cascadeResult struct {
	Order          domain.Order
	Booking        *domain.Booking
	PreviousStatus domain.BookingStatus
}

// closeOrder refunds a completed order or cancels a pending one, cancelling the paired booking in
// the same unit of work when it is still active.
func (l *ledgerCore) closeOrder(ctx context.Context, orderID string, expected domain.Order, target domain.OrderStatus, actor domain.Actor, reason string) (cascadeResult, error) {
	now := l.now()
	var result cascadeResult
	err := l.runInTx(ctx, func(txCtx context.Context) error {
		result = cascadeResult{}
		order, err := l.orders.FindByID(txCtx, orderID)
		if err != nil {
			return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if order.Version != expected.Version || order.Status != expected.Status {
			return withDetail(ErrOrderConflict, "order %s changed concurrently", order.ID)
		}

		var (
			nextBooking    *domain.Booking
			bookingVersion int64
			releaseGuard   bool
		)
		if order.Purchase.Kind == domain.PurchaseKindConsultation && order.Purchase.BookingID != "" {
			booking, err := l.bookings.FindByID(txCtx, order.Purchase.BookingID)
			if err != nil && !isRepositoryNotFound(err) {
				return repositoryFailure(err, ErrBookingNotFound, ErrBookingConflict)
			}
			if err == nil {
				next := cloneBooking(booking)
				if booking.Status.Active() {
					next, err = l.policy.Cancel(booking, CancelInput{
						Actor:   domain.SystemActor(""),
						Reason:  cascadeReason(target, reason),
						Cascade: true,
					}, now)
					if err != nil {
						return err
					}
					releaseGuard = true
				}
				if target == domain.OrderStatusRefunded {
					next.PaymentStatus = domain.BookingPaymentRefunded
					next.UpdatedAt = now
				}
				if next.Status != booking.Status || next.PaymentStatus != booking.PaymentStatus {
					result.PreviousStatus = booking.Status
					bookingVersion = booking.Version
					nextBooking = &next
				}
			}
		}

		// A refunded order keeps its redemption; a cancelled one gives the use back.
		if target == domain.OrderStatusCancelled {
			if err := l.coupons.release(txCtx, order); err != nil {
				return err
			}
		}

		switch target {
		case domain.OrderStatusRefunded:
			order.RefundedAt = valuePtr(now)
		case domain.OrderStatusCancelled:
			order.CancelledAt = valuePtr(now)
		}
		order.Status = target
		order.CancelReason = reason
		order.UpdatedAt = now

		updated, err := l.orders.Update(txCtx, order, order.Version)
		if err != nil {
			return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
		}
		result.Order = updated

		if nextBooking != nil {
			stored, err := l.bookings.Update(txCtx, repositories.BookingUpdate{
				Booking:         *nextBooking,
				ExpectedVersion: bookingVersion,
				ReleaseGuard:    releaseGuard,
			})
			if err != nil {
				return mapBookingRepositoryError(err)
			}
			result.Booking = &stored
		}
		return nil
	})
	if err != nil {
		return cascadeResult{}, err
	}

	action, event := domain.AuditOrderCancelled, orderEventCancelled
	if target == domain.OrderStatusRefunded {
		action, event = domain.AuditOrderRefunded, orderEventRefunded
	}
	order := result.Order
	l.record(ctx, actor, action, "order", order.ID, map[string]any{
		"orderNumber": order.OrderNumber,
		"reason":      reason,
		"amount":      domain.FormatMoney(order.Amount),
	})
	l.observe(ctx, aggregateOrder, string(expected.Status), string(target))
	l.publish(ctx, DomainEvent{
		Type:          event,
		AggregateType: aggregateOrder,
		AggregateID:   order.ID,
		UserID:        order.UserID,
		Payload:       map[string]any{"orderNumber": order.OrderNumber, "reason": reason},
	})
	if b := result.Booking; b != nil && b.Status == domain.BookingStatusCancelled && result.PreviousStatus != domain.BookingStatusCancelled {
		l.record(ctx, domain.SystemActor(""), domain.AuditBookingCancelled, "booking", b.ID, map[string]any{
			"reference":   b.Reference,
			"cancelledBy": string(domain.CancelledBySystem),
			"orderId":     order.ID,
			"reason":      b.Cancellation.Reason,
		})
		l.observe(ctx, aggregateBooking, string(result.PreviousStatus), string(b.Status))
		l.publish(ctx, DomainEvent{
			Type:          bookingEventCancelled,
			AggregateType: aggregateBooking,
			AggregateID:   b.ID,
			UserID:        b.UserID,
			Payload:       map[string]any{"reference": b.Reference, "cancelledBy": string(domain.CancelledBySystem)},
		})
	}
	return result, nil
}

func cascadeReason(target domain.OrderStatus, reason string) string {
	prefix := "order cancelled"
	if target == domain.OrderStatusRefunded {
		prefix = "order refunded"
	}
	if reason == "" {
		return prefix
	}
	return prefix + ": " + reason
}

func mapBookingRepositoryError(err error) error {
	var bookingErr *repositories.BookingError
	if errors.As(err, &bookingErr) {
		switch bookingErr.Code {
		case repositories.BookingErrorDuplicateActive:
			return withCause(ErrBookingDuplicateActive, err)
		case repositories.BookingErrorVersionMismatch:
			return withCause(ErrBookingConflict, err)
		}
	}
	return repositoryFailure(err, ErrBookingNotFound, ErrBookingConflict)
}
