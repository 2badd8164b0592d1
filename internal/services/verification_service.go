package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

const defaultEvidenceURLTTL = 10 * time.Minute

// VerificationServiceDeps bundles collaborators for the bank-transfer review workflow.
type VerificationServiceDeps struct {
	Orders      repositories.OrderRepository
	Bookings    repositories.BookingRepository
	Coupons     repositories.CouponRepository
	Enrollments repositories.EnrollmentRepository
	Evidence    EvidenceStore
	Policy      BookingPolicy
	URLTTL      time.Duration
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	Events      DomainEventPublisher
	Audit       AuditLogService
	Sanitizer   TextSanitizer
	Observer    TransitionObserver
	Logger      Logger
}

type verificationService struct {
	ledgerCore
	evidence EvidenceStore
	urlTTL   time.Duration
}

// NewVerificationService constructs the administrator review workflow for bank transfers.
func NewVerificationService(deps VerificationServiceDeps) (VerificationService, error) {
	if deps.Orders == nil || deps.Bookings == nil || deps.Coupons == nil {
		return nil, errors.New("verification service: order, booking and coupon repositories are required")
	}
	ttl := deps.URLTTL
	if ttl <= 0 {
		ttl = defaultEvidenceURLTTL
	}
	return &verificationService{
		ledgerCore: ledgerCore{
			serviceRuntime: newServiceRuntime(runtimeDeps{
				UnitOfWork: deps.UnitOfWork,
				Clock:      deps.Clock,
				Events:     deps.Events,
				Audit:      deps.Audit,
				Sanitizer:  deps.Sanitizer,
				Observer:   deps.Observer,
				Logger:     deps.Logger,
			}),
			orders:      deps.Orders,
			bookings:    deps.Bookings,
			coupons:     couponHolds{repo: deps.Coupons},
			enrollments: deps.Enrollments,
			policy:      deps.Policy.normalized(),
		},
		evidence: deps.Evidence,
		urlTTL:   ttl,
	}, nil
}

// VerifyTransfer approves the evidence and runs the same success path as a gateway capture.
func (s *verificationService) VerifyTransfer(ctx context.Context, cmd VerifyTransferCommand) (TransferReview, error) {
	if err := s.requireAdmin(ctx, cmd.Actor, "bank_transfer.verify", "order", cmd.OrderID, ErrOrderForbidden); err != nil {
		return TransferReview{}, err
	}
	result, err := s.complete(ctx, completionRequest{
		OrderID: cmd.OrderID,
		Method:  domain.PaymentMethodBankTransfer,
		Actor:   cmd.Actor,
		Review: &transferStamp{
			AdminID: cmd.Actor.ID,
			Notes:   cmd.Notes,
		},
	})
	if err != nil {
		return TransferReview{}, err
	}
	return TransferReview{Order: result.Order, Booking: result.Booking}, nil
}

// RejectTransfer records the rejection. The order stays pending and is no longer payable; the
// booking stays pending_payment until a new order supersedes this one.
func (s *verificationService) RejectTransfer(ctx context.Context, cmd RejectTransferCommand) (TransferReview, error) {
	if err := s.requireAdmin(ctx, cmd.Actor, "bank_transfer.reject", "order", cmd.OrderID, ErrOrderForbidden); err != nil {
		return TransferReview{}, err
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return TransferReview{}, withDetail(ErrOrderInvalidInput, "order id is required")
	}
	reason := s.clean(cmd.Reason)
	if reason == "" {
		return TransferReview{}, ErrTransferReasonRequired
	}

	now := s.now()
	var updated domain.Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if order.PaymentMethod != domain.PaymentMethodBankTransfer || order.BankTransfer == nil {
			return withDetail(ErrTransferNotBankTransfer, "order %s is %s", order.ID, order.PaymentMethod)
		}
		if order.BankTransfer.VerificationStatus != domain.VerificationPending {
			return withDetail(ErrTransferAlreadyReviewed, "verification status %s", order.BankTransfer.VerificationStatus)
		}
		if order.Status != domain.OrderStatusPending {
			return withDetail(ErrOrderInvalidTransition, "order is %s", order.Status)
		}
		transfer := *order.BankTransfer
		transfer.VerificationStatus = domain.VerificationRejected
		transfer.RejectionReason = reason
		transfer.ReviewedBy = cmd.Actor.ID
		transfer.ReviewedAt = valuePtr(now)
		order.BankTransfer = &transfer
		order.UpdatedAt = now
		stored, err := s.orders.Update(txCtx, order, order.Version)
		if err != nil {
			return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
		}
		updated = stored
		return nil
	})
	if err != nil {
		return TransferReview{}, err
	}

	s.record(ctx, cmd.Actor, domain.AuditBankTransferRejected, "order", updated.ID, map[string]any{
		"orderNumber": updated.OrderNumber,
		"reason":      reason,
	})
	s.publish(ctx, DomainEvent{
		Type:          orderEventTransferRejected,
		AggregateType: aggregateOrder,
		AggregateID:   updated.ID,
		UserID:        updated.UserID,
		Payload:       map[string]any{"orderNumber": updated.OrderNumber, "reason": reason},
	})

	review := TransferReview{Order: updated}
	if updated.Purchase.BookingID != "" {
		if booking, err := s.bookings.FindByID(ctx, updated.Purchase.BookingID); err == nil {
			review.Booking = &booking
		}
	}
	return review, nil
}

func (s *verificationService) ListPendingTransfers(ctx context.Context, actor Actor, page Pagination) (domain.CursorPage[Order], error) {
	if err := s.requireAdmin(ctx, actor, "bank_transfer.list", "order", "", ErrOrderForbidden); err != nil {
		return domain.CursorPage[Order]{}, err
	}
	page.PageSize = clampPageSize(page.PageSize, defaultOrderPageSize, maxOrderPageSize)
	result, err := s.orders.List(ctx, OrderListFilter{
		Status:             []domain.OrderStatus{domain.OrderStatusPending},
		PaymentMethod:      domain.PaymentMethodBankTransfer,
		VerificationStatus: domain.VerificationPending,
		Pagination:         page,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return result, nil
}

// EvidenceURL returns a short lived signed URL for the receipt attached to a bank-transfer order.
func (s *verificationService) EvidenceURL(ctx context.Context, orderID string, actor Actor) (EvidenceLink, error) {
	if err := s.requireAdmin(ctx, actor, "bank_transfer.evidence", "order", orderID, ErrOrderForbidden); err != nil {
		return EvidenceLink{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return EvidenceLink{}, withDetail(ErrOrderInvalidInput, "order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return EvidenceLink{}, repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if order.BankTransfer == nil || order.BankTransfer.Evidence.ObjectPath == "" {
		return EvidenceLink{}, withDetail(ErrTransferNotBankTransfer, "order %s has no evidence", order.ID)
	}
	if s.evidence == nil {
		return EvidenceLink{}, withDetail(ErrOrderEvidenceUnavailable, "no evidence store configured")
	}
	url, err := s.evidence.SignedURL(ctx, order.BankTransfer.Evidence.ObjectPath, s.urlTTL)
	if err != nil {
		if errors.Is(err, ErrEvidenceNotFound) {
			return EvidenceLink{}, withDetail(ErrTransferEvidenceNotFound, "%s", order.BankTransfer.Evidence.ObjectPath)
		}
		return EvidenceLink{}, withCause(ErrOrderEvidenceUnavailable, err)
	}
	return EvidenceLink{URL: url, ExpiresAt: s.now().Add(s.urlTTL)}, nil
}
