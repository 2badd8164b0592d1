package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/text/language"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

const (
	bookingIDPrefix = "bkg_"

	defaultCompletionGrace  = 2 * time.Hour
	defaultSweepLimit       = 100
	defaultBookingPageSize  = 20
	maxBookingPageSize      = 100
	bookingCancelledByOrder = "booking cancelled"
)

// BookingServiceDeps bundles collaborators required to construct the booking service.
type BookingServiceDeps struct {
	Bookings        repositories.BookingRepository
	Orders          repositories.OrderRepository
	Coupons         repositories.CouponRepository
	Catalog         repositories.CatalogRepository
	Ledger          OrderService
	Counters        CounterService
	Policy          BookingPolicy
	CompletionGrace time.Duration
	UnitOfWork      repositories.UnitOfWork
	Clock           func() time.Time
	IDGenerator     func() string
	Events          DomainEventPublisher
	Audit           AuditLogService
	Sanitizer       TextSanitizer
	Observer        TransitionObserver
	Logger          Logger
}

// orderAnnouncer is satisfied by the order service; drafted orders are announced by the caller
// that persisted them.
type orderAnnouncer interface {
	announceOrderCreated(ctx context.Context, actor domain.Actor, order domain.Order)
}

type bookingService struct {
	serviceRuntime
	bookings repositories.BookingRepository
	orders   repositories.OrderRepository
	coupons  couponHolds
	catalog  repositories.CatalogRepository
	ledger   OrderService
	counters CounterService
	policy   BookingPolicy
	grace    time.Duration
}

// NewBookingService wires dependencies into the consultation booking service.
func NewBookingService(deps BookingServiceDeps) (BookingService, error) {
	if deps.Bookings == nil {
		return nil, errors.New("booking service: booking repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("booking service: order repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("booking service: coupon repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("booking service: catalog repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("booking service: order service is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("booking service: counter service is required")
	}
	grace := deps.CompletionGrace
	if grace <= 0 {
		grace = defaultCompletionGrace
	}
	return &bookingService{
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
		bookings: deps.Bookings,
		orders:   deps.Orders,
		coupons:  couponHolds{repo: deps.Coupons},
		catalog:  deps.Catalog,
		ledger:   deps.Ledger,
		counters: deps.Counters,
		policy:   deps.Policy.normalized(),
		grace:    grace,
	}, nil
}

// CreateBooking stores a pending_payment booking and its pending order in one unit of work. The
// active-booking guard for (user, offering), the booking reference, the order number and the
// coupon use are all claimed by the same unit of work, so a rejected booking consumes none of them.
func (s *bookingService) CreateBooking(ctx context.Context, cmd CreateBookingCommand) (BookingCheckout, error) {
	actor := cmd.Actor
	if actor.Type != domain.ActorTypeUser || strings.TrimSpace(actor.ID) == "" {
		s.denied(ctx, actor, "booking.create", "consultation", cmd.OfferingID)
		return BookingCheckout{}, withDetail(ErrBookingForbidden, "bookings are created by signed-in users")
	}
	offeringID := strings.TrimSpace(cmd.OfferingID)
	if offeringID == "" {
		return BookingCheckout{}, withDetail(ErrBookingInvalidInput, "offering id is required")
	}
	if !cmd.MeetingMode.Valid() {
		return BookingCheckout{}, withDetail(ErrBookingInvalidInput, "unknown meeting mode %q", cmd.MeetingMode)
	}
	if cmd.Preferred.IsZero() {
		return BookingCheckout{}, withDetail(ErrBookingInvalidInput, "preferred date and time are required")
	}
	profile, err := s.normalizeProfile(cmd.Profile)
	if err != nil {
		return BookingCheckout{}, err
	}

	offering, err := s.catalog.FindConsultation(ctx, offeringID)
	if err != nil {
		return BookingCheckout{}, repositoryFailure(err, ErrBookingOfferingNotFound, ErrBookingConflict)
	}
	if !offering.IsActive {
		return BookingCheckout{}, withDetail(ErrBookingOfferingUnavailable, "offering %s is inactive", offering.ID)
	}
	if !offering.SupportsMode(cmd.MeetingMode) {
		return BookingCheckout{}, withDetail(ErrBookingModeUnsupported, "%s", cmd.MeetingMode)
	}

	now := s.now()
	if err := s.checkSlot(offering, cmd.Preferred, now); err != nil {
		return BookingCheckout{}, err
	}
	if cmd.Alternative != nil && !cmd.Alternative.IsZero() {
		if err := s.checkSlot(offering, *cmd.Alternative, now); err != nil {
			return BookingCheckout{}, err
		}
	}

	booking := domain.Booking{
		ID:            bookingIDPrefix + s.newID(),
		UserID:        actor.ID,
		Offering:      offering.Snapshot(),
		MeetingMode:   cmd.MeetingMode,
		Preferred:     trimSlot(cmd.Preferred),
		Alternative:   nonZeroSlot(cmd.Alternative),
		Status:        domain.BookingStatusPendingPayment,
		PaymentStatus: domain.BookingPaymentPending,
		UserDetails:   profile,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	draft, err := s.ledger.DraftOrder(ctx, CreateOrderCommand{
		Actor: actor,
		Purchase: domain.Purchase{
			Kind:      domain.PurchaseKindConsultation,
			BookingID: booking.ID,
			TargetID:  offering.ID,
		},
		CouponCode:    cmd.Payment.CouponCode,
		PaymentMethod: cmd.Payment.Method,
		BankTransfer:  cmd.Payment.BankTransfer,
		Booking:       &booking,
	})
	if err != nil {
		return BookingCheckout{}, err
	}
	draftBooking := booking
	draftBooking.ActiveOrderID = draft.ID

	var order domain.Order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		booking, order = draftBooking, draft
		reference, err := s.counters.NextBookingReference(txCtx, now)
		if err != nil {
			return err
		}
		number, err := s.counters.NextOrderNumber(txCtx, now)
		if err != nil {
			return err
		}
		booking.Reference = reference
		order.OrderNumber = number

		if err := s.bookings.Insert(txCtx, booking); err != nil {
			return mapBookingRepositoryError(err)
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if _, err := s.coupons.reserve(txCtx, order, now); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBookingDuplicateActive) {
			s.logger(ctx, "booking.duplicate.rejected", map[string]any{
				"userId":     actor.ID,
				"offeringId": offering.ID,
			})
		}
		return BookingCheckout{}, err
	}

	s.record(ctx, actor, domain.AuditBookingCreated, "booking", booking.ID, map[string]any{
		"reference":   booking.Reference,
		"offeringId":  offering.ID,
		"meetingMode": string(booking.MeetingMode),
		"orderId":     order.ID,
	})
	s.observe(ctx, aggregateBooking, "", string(booking.Status))
	s.publish(ctx, DomainEvent{
		Type:          bookingEventCreated,
		AggregateType: aggregateBooking,
		AggregateID:   booking.ID,
		UserID:        booking.UserID,
		Payload: map[string]any{
			"reference":  booking.Reference,
			"offeringId": offering.ID,
			"orderId":    order.ID,
		},
	})
	if announcer, ok := s.ledger.(orderAnnouncer); ok {
		announcer.announceOrderCreated(ctx, actor, order)
	}
	return BookingCheckout{Booking: booking, Order: order}, nil
}

func (s *bookingService) GetBooking(ctx context.Context, bookingID string, actor Actor) (Booking, error) {
	booking, err := s.load(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if err := s.requireOwner(ctx, actor, booking.UserID, "booking.get", "booking", booking.ID, ErrBookingForbidden); err != nil {
		return Booking{}, err
	}
	return booking, nil
}

func (s *bookingService) ListBookings(ctx context.Context, actor Actor, filter BookingListFilter) (domain.CursorPage[Booking], error) {
	switch actor.Type {
	case domain.ActorTypeAdmin:
	case domain.ActorTypeUser:
		if strings.TrimSpace(actor.ID) == "" {
			return domain.CursorPage[Booking]{}, withDetail(ErrBookingForbidden, "anonymous actor")
		}
		filter.UserID = actor.ID
	default:
		return domain.CursorPage[Booking]{}, withDetail(ErrBookingForbidden, "actor type %q", actor.Type)
	}
	for _, status := range filter.Status {
		if !status.Valid() {
			return domain.CursorPage[Booking]{}, withDetail(ErrBookingInvalidInput, "unknown status %q", status)
		}
	}
	filter.Pagination.PageSize = clampPageSize(filter.Pagination.PageSize, defaultBookingPageSize, maxBookingPageSize)
	page, err := s.bookings.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Booking]{}, repositoryFailure(err, ErrBookingNotFound, ErrBookingConflict)
	}
	return page, nil
}

func (s *bookingService) ConfirmBooking(ctx context.Context, cmd ConfirmBookingCommand) (Booking, error) {
	if err := s.requireAdmin(ctx, cmd.Actor, "booking.confirm", "booking", cmd.BookingID, ErrBookingForbidden); err != nil {
		return Booking{}, err
	}
	notes := s.clean(cmd.Notes)
	before, after, err := s.mutate(ctx, cmd.BookingID, func(b domain.Booking, now time.Time) (domain.Booking, error) {
		return s.policy.Confirm(b, ConfirmInput{
			AdminID:           cmd.Actor.ID,
			ConfirmedDateTime: cmd.ConfirmedDateTime,
			Notes:             notes,
		}, now)
	})
	if err != nil {
		return Booking{}, s.rejected(ctx, "confirm", cmd.BookingID, err)
	}
	s.announce(ctx, cmd.Actor, before, after, domain.AuditBookingConfirmed, bookingEventConfirmed, map[string]any{
		"confirmedDateTime": after.ConfirmedDateTime.UTC().Format(time.RFC3339),
	})
	return after, nil
}

func (s *bookingService) RescheduleBooking(ctx context.Context, cmd RescheduleBookingCommand) (Booking, error) {
	current, err := s.load(ctx, cmd.BookingID)
	if err != nil {
		return Booking{}, err
	}
	if err := s.requireOwner(ctx, cmd.Actor, current.UserID, "booking.reschedule", "booking", current.ID, ErrBookingForbidden); err != nil {
		return Booking{}, err
	}
	if cmd.Preferred.IsZero() {
		return Booking{}, withDetail(ErrBookingInvalidInput, "new preferred date and time are required")
	}

	offering, offeringErr := s.catalog.FindConsultation(ctx, current.Offering.OfferingID)
	if offeringErr != nil && !isRepositoryNotFound(offeringErr) {
		return Booking{}, repositoryFailure(offeringErr, ErrBookingOfferingNotFound, ErrBookingConflict)
	}
	if offeringErr != nil {
		// Offerings removed from the catalog keep the snapshot timezone and accept any window.
		offering = domain.ConsultationOffering{
			ID:              current.Offering.OfferingID,
			DurationMinutes: current.Offering.DurationMinutes,
			Timezone:        current.Offering.Timezone,
		}
	}
	now := s.now()
	if err := s.checkSlot(offering, cmd.Preferred, now); err != nil {
		return Booking{}, err
	}
	if cmd.Alternative != nil && !cmd.Alternative.IsZero() {
		if err := s.checkSlot(offering, *cmd.Alternative, now); err != nil {
			return Booking{}, err
		}
	}

	reason := s.clean(cmd.Reason)
	before, after, err := s.mutate(ctx, cmd.BookingID, func(b domain.Booking, now time.Time) (domain.Booking, error) {
		return s.policy.Reschedule(b, RescheduleInput{
			Actor:       cmd.Actor,
			Preferred:   trimSlot(cmd.Preferred),
			Alternative: nonZeroSlot(cmd.Alternative),
			Reason:      reason,
		}, now)
	})
	if err != nil {
		return Booking{}, s.rejected(ctx, "reschedule", cmd.BookingID, err)
	}
	s.announce(ctx, cmd.Actor, before, after, domain.AuditBookingRescheduled, bookingEventRescheduled, map[string]any{
		"rescheduledCount": after.RescheduledCount,
		"preferredDate":    after.Preferred.Date,
		"preferredTime":    after.Preferred.Time,
		"reason":           reason,
	})
	return after, nil
}

// CancelBooking cancels the booking and, in the same unit of work, any pending order paired with
// it so a late capture cannot complete against a cancelled booking.
func (s *bookingService) CancelBooking(ctx context.Context, cmd CancelBookingCommand) (Booking, error) {
	current, err := s.load(ctx, cmd.BookingID)
	if err != nil {
		return Booking{}, err
	}
	if err := s.requireOwner(ctx, cmd.Actor, current.UserID, "booking.cancel", "booking", current.ID, ErrBookingForbidden); err != nil {
		return Booking{}, err
	}
	reason := s.clean(cmd.Reason)

	var (
		before, after  domain.Booking
		cancelledOrder *domain.Order
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		cancelledOrder = nil
		now := s.now()
		b, err := s.bookings.FindByID(txCtx, current.ID)
		if err != nil {
			return repositoryFailure(err, ErrBookingNotFound, ErrBookingConflict)
		}
		var pending *domain.Order
		if b.ActiveOrderID != "" {
			order, err := s.orders.FindByID(txCtx, b.ActiveOrderID)
			if err != nil && !isRepositoryNotFound(err) {
				return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
			}
			if err == nil && order.Status == domain.OrderStatusPending {
				pending = &order
			}
		}
		next, err := s.policy.Cancel(b, CancelInput{Actor: cmd.Actor, Reason: reason}, now)
		if err != nil {
			return err
		}
		stored, err := s.bookings.Update(txCtx, repositories.BookingUpdate{
			Booking:         next,
			ExpectedVersion: b.Version,
			ReleaseGuard:    true,
		})
		if err != nil {
			return mapBookingRepositoryError(err)
		}
		if pending != nil {
			if err := s.coupons.release(txCtx, *pending); err != nil {
				return err
			}
			closed := *pending
			closed.Status = domain.OrderStatusCancelled
			closed.CancelReason = bookingCancelledByOrder
			closed.CancelledAt = valuePtr(now)
			closed.UpdatedAt = now
			storedOrder, err := s.orders.Update(txCtx, closed, pending.Version)
			if err != nil {
				return repositoryFailure(err, ErrOrderNotFound, ErrOrderConflict)
			}
			cancelledOrder = &storedOrder
		}
		before, after = b, stored
		return nil
	})
	if err != nil {
		return Booking{}, s.rejected(ctx, "cancel", cmd.BookingID, err)
	}

	s.announce(ctx, cmd.Actor, before, after, domain.AuditBookingCancelled, bookingEventCancelled, map[string]any{
		"cancelledBy": string(after.Cancellation.By),
		"reason":      reason,
	})
	if cancelledOrder != nil {
		s.record(ctx, domain.SystemActor(""), domain.AuditOrderCancelled, "order", cancelledOrder.ID, map[string]any{
			"orderNumber": cancelledOrder.OrderNumber,
			"reason":      bookingCancelledByOrder,
			"bookingId":   after.ID,
		})
		s.observe(ctx, aggregateOrder, string(domain.OrderStatusPending), string(domain.OrderStatusCancelled))
		s.publish(ctx, DomainEvent{
			Type:          orderEventCancelled,
			AggregateType: aggregateOrder,
			AggregateID:   cancelledOrder.ID,
			UserID:        cancelledOrder.UserID,
			Payload:       map[string]any{"reason": bookingCancelledByOrder, "bookingId": after.ID},
		})
	}
	return after, nil
}

func (s *bookingService) CompleteBooking(ctx context.Context, cmd BookingActionCommand) (Booking, error) {
	if err := s.requireAdminOrSystem(ctx, cmd.Actor, "booking.complete", "booking", cmd.BookingID, ErrBookingForbidden); err != nil {
		return Booking{}, err
	}
	before, after, err := s.mutate(ctx, cmd.BookingID, func(b domain.Booking, now time.Time) (domain.Booking, error) {
		return s.policy.Complete(b, now)
	})
	if err != nil {
		return Booking{}, s.rejected(ctx, "complete", cmd.BookingID, err)
	}
	s.announce(ctx, cmd.Actor, before, after, domain.AuditBookingCompleted, bookingEventCompleted, nil)
	return after, nil
}

func (s *bookingService) MarkNoShow(ctx context.Context, cmd BookingActionCommand) (Booking, error) {
	if err := s.requireAdmin(ctx, cmd.Actor, "booking.no_show", "booking", cmd.BookingID, ErrBookingForbidden); err != nil {
		return Booking{}, err
	}
	before, after, err := s.mutate(ctx, cmd.BookingID, func(b domain.Booking, now time.Time) (domain.Booking, error) {
		return s.policy.MarkNoShow(b, now)
	})
	if err != nil {
		return Booking{}, s.rejected(ctx, "no_show", cmd.BookingID, err)
	}
	s.announce(ctx, cmd.Actor, before, after, domain.AuditBookingNoShow, bookingEventNoShow, nil)
	return after, nil
}

func (s *bookingService) SubmitFeedback(ctx context.Context, cmd SubmitFeedbackCommand) (Booking, error) {
	current, err := s.load(ctx, cmd.BookingID)
	if err != nil {
		return Booking{}, err
	}
	if cmd.Actor.Type != domain.ActorTypeUser || cmd.Actor.ID != current.UserID {
		s.denied(ctx, cmd.Actor, "booking.feedback", "booking", current.ID)
		return Booking{}, withDetail(ErrBookingForbidden, "feedback is submitted by the booking owner")
	}
	comment := s.clean(cmd.Comment)
	before, after, err := s.mutate(ctx, current.ID, func(b domain.Booking, now time.Time) (domain.Booking, error) {
		return s.policy.SubmitFeedback(b, FeedbackInput{Rating: cmd.Rating, Comment: comment}, now)
	})
	if err != nil {
		return Booking{}, s.rejected(ctx, "feedback", cmd.BookingID, err)
	}
	s.announce(ctx, cmd.Actor, before, after, domain.AuditBookingFeedbackSubmitted, bookingEventFeedbackSubmitted, map[string]any{
		"rating": cmd.Rating,
	})
	return after, nil
}

func (s *bookingService) UpdateAdminNotes(ctx context.Context, cmd UpdateBookingNotesCommand) (Booking, error) {
	if err := s.requireAdmin(ctx, cmd.Actor, "booking.notes", "booking", cmd.BookingID, ErrBookingForbidden); err != nil {
		return Booking{}, err
	}
	notes := s.clean(cmd.Notes)
	_, after, err := s.mutate(ctx, cmd.BookingID, func(b domain.Booking, now time.Time) (domain.Booking, error) {
		next := cloneBooking(b)
		next.AdminNotes = notes
		next.UpdatedAt = now
		return next, nil
	})
	if err != nil {
		return Booking{}, err
	}
	s.record(ctx, cmd.Actor, domain.AuditBookingNotesUpdated, "booking", after.ID, map[string]any{
		"reference": after.Reference,
	})
	return after, nil
}

// SweepElapsedSessions completes confirmed bookings whose session ended more than the grace
// period ago. Each booking is completed in its own unit of work; failures are reported per id.
func (s *bookingService) SweepElapsedSessions(ctx context.Context, cmd SweepSessionsCommand) (SweepSessionsResult, error) {
	if err := s.requireAdminOrSystem(ctx, cmd.Actor, "booking.sweep", "booking", "", ErrBookingForbidden); err != nil {
		return SweepSessionsResult{}, err
	}
	now := cmd.Now
	if now.IsZero() {
		now = s.now()
	}
	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	cutoff := now.Add(-s.grace)
	candidates, err := s.bookings.ListSessionsEndedBefore(ctx, cutoff, limit)
	if err != nil {
		return SweepSessionsResult{}, repositoryFailure(err, ErrBookingNotFound, ErrBookingConflict)
	}

	result := SweepSessionsResult{Completed: []string{}, Skipped: map[string]string{}}
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if end, ok := candidate.SessionEnd(); !ok || end.After(cutoff) {
			continue
		}
		completed, err := s.CompleteBooking(ctx, BookingActionCommand{BookingID: candidate.ID, Actor: cmd.Actor})
		if err != nil {
			result.Skipped[candidate.ID] = CodeOf(err)
			continue
		}
		result.Completed = append(result.Completed, completed.ID)
	}
	s.logger(ctx, "booking.sweep.finished", map[string]any{
		"completed": len(result.Completed),
		"skipped":   len(result.Skipped),
		"cutoff":    cutoff.Format(time.RFC3339),
	})
	return result, nil
}

// mutate reads the booking, applies fn and writes the result with a version check in one unit of
// work. The guard is released when the booking enters a terminal state.
func (s *bookingService) mutate(ctx context.Context, bookingID string, fn func(domain.Booking, time.Time) (domain.Booking, error)) (domain.Booking, domain.Booking, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return domain.Booking{}, domain.Booking{}, withDetail(ErrBookingInvalidInput, "booking id is required")
	}
	var before, after domain.Booking
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		b, err := s.bookings.FindByID(txCtx, bookingID)
		if err != nil {
			return repositoryFailure(err, ErrBookingNotFound, ErrBookingConflict)
		}
		next, err := fn(b, s.now())
		if err != nil {
			return err
		}
		stored, err := s.bookings.Update(txCtx, repositories.BookingUpdate{
			Booking:         next,
			ExpectedVersion: b.Version,
			ReleaseGuard:    !b.Status.Terminal() && next.Status.Terminal(),
		})
		if err != nil {
			return mapBookingRepositoryError(err)
		}
		before, after = b, stored
		return nil
	})
	if err != nil {
		return domain.Booking{}, domain.Booking{}, err
	}
	return before, after, nil
}

func (s *bookingService) announce(ctx context.Context, actor domain.Actor, before, after domain.Booking, action domain.AuditAction, eventType string, details map[string]any) {
	audit := map[string]any{
		"reference": after.Reference,
		"from":      string(before.Status),
		"to":        string(after.Status),
	}
	for key, value := range details {
		audit[key] = value
	}
	s.record(ctx, actor, action, "booking", after.ID, audit)
	s.observe(ctx, aggregateBooking, string(before.Status), string(after.Status))
	s.publish(ctx, DomainEvent{
		Type:          eventType,
		AggregateType: aggregateBooking,
		AggregateID:   after.ID,
		UserID:        after.UserID,
		Payload:       audit,
	})
}

// rejected logs a refused transition so it stays observable even when the caller discards it.
func (s *bookingService) rejected(ctx context.Context, op, bookingID string, err error) error {
	if kind := KindOf(err); kind == KindStateConflict || kind == KindValidation {
		s.logger(ctx, "booking.transition.rejected", map[string]any{
			"operation": op,
			"bookingId": bookingID,
			"code":      CodeOf(err),
		})
	}
	return err
}

func (s *bookingService) load(ctx context.Context, bookingID string) (domain.Booking, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return domain.Booking{}, withDetail(ErrBookingInvalidInput, "booking id is required")
	}
	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, repositoryFailure(err, ErrBookingNotFound, ErrBookingConflict)
	}
	return booking, nil
}

func (s *bookingService) checkSlot(offering domain.ConsultationOffering, slot domain.Slot, now time.Time) error {
	start, err := slot.Start(offering.Location())
	if err != nil {
		return withCause(withDetail(ErrBookingInvalidInput, "slot %s %s", slot.Date, slot.Time), err)
	}
	if !start.After(now) {
		return withDetail(ErrBookingSlotUnavailable, "%s %s is in the past", slot.Date, slot.Time)
	}
	if !offering.Accepts(start) {
		return withDetail(ErrBookingSlotUnavailable, "%s %s", slot.Date, slot.Time)
	}
	return nil
}

func (s *bookingService) normalizeProfile(in domain.UserDetails) (domain.UserDetails, error) {
	out := domain.UserDetails{
		FullName: s.clean(in.FullName),
		Email:    strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:    strings.TrimSpace(in.Phone),
		Notes:    s.clean(in.Notes),
	}
	if out.FullName == "" {
		return domain.UserDetails{}, withDetail(ErrBookingInvalidInput, "full name is required")
	}
	if out.Email == "" {
		return domain.UserDetails{}, withDetail(ErrBookingInvalidInput, "email is required")
	}
	if _, err := mail.ParseAddress(out.Email); err != nil {
		return domain.UserDetails{}, withDetail(ErrBookingInvalidInput, "email is invalid")
	}
	if tag := strings.TrimSpace(in.Locale); tag != "" {
		parsed, err := language.Parse(tag)
		if err != nil {
			return domain.UserDetails{}, withDetail(ErrBookingInvalidInput, "locale %q is invalid", tag)
		}
		out.Locale = parsed.String()
	}
	return out, nil
}

func trimSlot(slot domain.Slot) domain.Slot {
	return domain.Slot{Date: strings.TrimSpace(slot.Date), Time: strings.TrimSpace(slot.Time)}
}

func nonZeroSlot(slot *domain.Slot) *domain.Slot {
	if slot == nil || slot.IsZero() {
		return nil
	}
	trimmed := trimSlot(*slot)
	return &trimmed
}
