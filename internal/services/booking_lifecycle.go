package services

import (
	"slices"
	"strings"
	"time"

	domain "github.com/masar-academy/api/internal/domain"
)

const (
	// DefaultCancellationWindow is the minimum lead time before a confirmed session for cancelling it.
	DefaultCancellationWindow = 24 * time.Hour
	// DefaultRescheduleCap is the maximum number of reschedules per booking.
	DefaultRescheduleCap = 2
)

var (
	ErrBookingInvalidInput        = newError(KindValidation, "booking_invalid_input", "booking: invalid input")
	ErrBookingNotFound            = newError(KindNotFound, "booking_not_found", "booking: not found")
	ErrBookingForbidden           = newError(KindAuthorization, "booking_forbidden", "booking: actor may not modify this booking")
	ErrBookingInvalidTransition   = newError(KindStateConflict, "booking_invalid_transition", "booking: transition not allowed from current status")
	ErrBookingAlreadyCancelled    = newError(KindStateConflict, "booking_already_cancelled", "booking: already cancelled")
	ErrBookingAlreadyCompleted    = newError(KindStateConflict, "booking_already_completed", "booking: already completed")
	ErrBookingCancellationWindow  = newError(KindStateConflict, "booking_cancellation_window", "booking: confirmed session starts in less than the cancellation window")
	ErrBookingRescheduleCap       = newError(KindStateConflict, "booking_reschedule_cap", "booking: reschedule limit reached")
	ErrBookingSessionNotStarted   = newError(KindStateConflict, "booking_session_not_started", "booking: session has not started yet")
	ErrBookingFeedbackNotAllowed  = newError(KindStateConflict, "booking_feedback_not_allowed", "booking: feedback requires a completed booking")
	ErrBookingFeedbackSubmitted   = newError(KindStateConflict, "booking_feedback_already_submitted", "booking: feedback already submitted")
	ErrBookingDuplicateActive     = newError(KindStateConflict, "booking_duplicate_active", "booking: an active booking already exists for this offering")
	ErrBookingConflict            = newError(KindStateConflict, "booking_conflict", "booking: concurrent update detected")
	ErrBookingOfferingNotFound    = newError(KindNotFound, "booking_offering_not_found", "booking: offering not found")
	ErrBookingOfferingUnavailable = newError(KindValidation, "booking_offering_unavailable", "booking: offering is not available")
	ErrBookingModeUnsupported     = newError(KindValidation, "booking_mode_unsupported", "booking: meeting mode not offered")
	ErrBookingSlotUnavailable     = newError(KindValidation, "booking_slot_unavailable", "booking: requested time is outside the offering availability")
)

var bookingStateTransitions = map[domain.BookingStatus][]domain.BookingStatus{
	domain.BookingStatusPendingPayment:      {domain.BookingStatusPendingConfirmation, domain.BookingStatusCancelled},
	domain.BookingStatusPendingConfirmation: {domain.BookingStatusConfirmed, domain.BookingStatusRescheduled, domain.BookingStatusCancelled},
	domain.BookingStatusConfirmed:           {domain.BookingStatusRescheduled, domain.BookingStatusCompleted, domain.BookingStatusNoShow, domain.BookingStatusCancelled},
	domain.BookingStatusRescheduled:         {domain.BookingStatusPendingConfirmation},
}

func canTransitionBooking(current, target domain.BookingStatus) bool {
	return slices.Contains(bookingStateTransitions[current], target)
}

// BookingPolicy holds the time-window rules applied by the booking transitions.
type BookingPolicy struct {
	CancellationWindow time.Duration
	RescheduleCap      int
}

// DefaultBookingPolicy returns the 24 hour cancellation window and a cap of two reschedules.
func DefaultBookingPolicy() BookingPolicy {
	return BookingPolicy{
		CancellationWindow: DefaultCancellationWindow,
		RescheduleCap:      DefaultRescheduleCap,
	}
}

func (p BookingPolicy) normalized() BookingPolicy {
	if p.CancellationWindow <= 0 {
		p.CancellationWindow = DefaultCancellationWindow
	}
	if p.RescheduleCap <= 0 {
		p.RescheduleCap = DefaultRescheduleCap
	}
	return p
}

// Transition inputs -----------------------------------------------------------

// CancelInput describes a cancellation request.
type CancelInput struct {
	Actor  domain.Actor
	Reason string
	// Cascade marks cancellations driven by an order refund or cancellation. Cascades skip the
	// cancellation window but never revive terminal bookings.
	Cascade bool
}

// RescheduleInput describes a reschedule request.
type RescheduleInput struct {
	Actor       domain.Actor
	Preferred   domain.Slot
	Alternative *domain.Slot
	Reason      string
}

// ConfirmInput describes an admin scheduling confirmation.
type ConfirmInput struct {
	AdminID           string
	ConfirmedDateTime time.Time
	Notes             string
}

// FeedbackInput carries a post-completion rating.
type FeedbackInput struct {
	Rating  int
	Comment string
}

// Transition functions ---------------------------------------------------------
//
// Each function returns a modified copy of the booking or a typed error. The input booking is
// never mutated, so a rejected transition leaves it unchanged.

// MarkPaymentCompleted moves pending_payment to pending_confirmation once the paired order completes.
func (p BookingPolicy) MarkPaymentCompleted(b domain.Booking, now time.Time) (domain.Booking, error) {
	if b.Status != domain.BookingStatusPendingPayment {
		return b, withDetail(ErrBookingInvalidTransition, "%s -> %s", b.Status, domain.BookingStatusPendingConfirmation)
	}
	next := cloneBooking(b)
	next.Status = domain.BookingStatusPendingConfirmation
	next.PaymentStatus = domain.BookingPaymentCompleted
	next.PaymentCompletedAt = valuePtr(now)
	next.UpdatedAt = now
	return next, nil
}

// Confirm assigns the session time chosen by an administrator.
func (p BookingPolicy) Confirm(b domain.Booking, in ConfirmInput, now time.Time) (domain.Booking, error) {
	if in.ConfirmedDateTime.IsZero() {
		return b, withDetail(ErrBookingInvalidInput, "confirmed date time is required")
	}
	if !in.ConfirmedDateTime.After(now) {
		return b, withDetail(ErrBookingInvalidInput, "confirmed date time must be in the future")
	}
	if b.Status != domain.BookingStatusPendingConfirmation {
		return b, withDetail(ErrBookingInvalidTransition, "%s -> %s", b.Status, domain.BookingStatusConfirmed)
	}
	next := cloneBooking(b)
	next.Status = domain.BookingStatusConfirmed
	next.ConfirmedDateTime = valuePtr(in.ConfirmedDateTime.UTC())
	next.ConfirmedAt = valuePtr(now)
	next.ConfirmedBy = strings.TrimSpace(in.AdminID)
	if notes := strings.TrimSpace(in.Notes); notes != "" {
		next.AdminNotes = notes
	}
	next.UpdatedAt = now
	return next, nil
}

// Reschedule archives the current schedule and routes the booking back to pending_confirmation.
func (p BookingPolicy) Reschedule(b domain.Booking, in RescheduleInput, now time.Time) (domain.Booking, error) {
	p = p.normalized()
	switch b.Status {
	case domain.BookingStatusCancelled:
		return b, ErrBookingAlreadyCancelled
	case domain.BookingStatusCompleted:
		return b, ErrBookingAlreadyCompleted
	}
	if b.RescheduledCount >= p.RescheduleCap {
		return b, withDetail(ErrBookingRescheduleCap, "%d of %d used", b.RescheduledCount, p.RescheduleCap)
	}
	if !canTransitionBooking(b.Status, domain.BookingStatusRescheduled) {
		return b, withDetail(ErrBookingInvalidTransition, "%s -> %s", b.Status, domain.BookingStatusRescheduled)
	}
	if in.Preferred.IsZero() {
		return b, withDetail(ErrBookingInvalidInput, "new preferred date and time are required")
	}

	next := cloneBooking(b)
	next.RescheduledFrom = append(next.RescheduledFrom, domain.RescheduleRecord{
		Preferred:         b.Preferred,
		Alternative:       cloneSlot(b.Alternative),
		ConfirmedDateTime: cloneTime(b.ConfirmedDateTime),
		Reason:            strings.TrimSpace(in.Reason),
		RequestedBy:       in.Actor,
		RescheduledAt:     now,
	})
	next.RescheduledCount++
	next.Status = domain.BookingStatusRescheduled
	next.Preferred = in.Preferred
	next.Alternative = cloneSlot(in.Alternative)
	next.ConfirmedDateTime = nil
	next.ConfirmedAt = nil
	next.ConfirmedBy = ""

	// rescheduled is transient and always lands back on pending_confirmation.
	next.Status = domain.BookingStatusPendingConfirmation
	next.UpdatedAt = now
	return next, nil
}

// Cancel moves any non-terminal booking to cancelled, honouring the cancellation window.
func (p BookingPolicy) Cancel(b domain.Booking, in CancelInput, now time.Time) (domain.Booking, error) {
	p = p.normalized()
	switch b.Status {
	case domain.BookingStatusCancelled:
		return b, ErrBookingAlreadyCancelled
	case domain.BookingStatusCompleted:
		return b, ErrBookingAlreadyCompleted
	}
	if !canTransitionBooking(b.Status, domain.BookingStatusCancelled) {
		return b, withDetail(ErrBookingInvalidTransition, "%s -> %s", b.Status, domain.BookingStatusCancelled)
	}
	if !in.Cascade && b.ConfirmedDateTime != nil && b.ConfirmedDateTime.Sub(now) < p.CancellationWindow {
		return b, withDetail(ErrBookingCancellationWindow, "session at %s", b.ConfirmedDateTime.UTC().Format(time.RFC3339))
	}

	next := cloneBooking(b)
	next.Status = domain.BookingStatusCancelled
	next.Cancellation = &domain.Cancellation{
		By:          domain.CancelledByFromActor(in.Actor.Type),
		ActorID:     in.Actor.ID,
		Reason:      strings.TrimSpace(in.Reason),
		CancelledAt: now,
	}
	next.UpdatedAt = now
	return next, nil
}

// Complete marks a confirmed session as held.
func (p BookingPolicy) Complete(b domain.Booking, now time.Time) (domain.Booking, error) {
	if b.Status != domain.BookingStatusConfirmed {
		return b, withDetail(ErrBookingInvalidTransition, "%s -> %s", b.Status, domain.BookingStatusCompleted)
	}
	if b.ConfirmedDateTime == nil || now.Before(*b.ConfirmedDateTime) {
		return b, ErrBookingSessionNotStarted
	}
	next := cloneBooking(b)
	next.Status = domain.BookingStatusCompleted
	next.CompletedAt = valuePtr(now)
	next.UpdatedAt = now
	return next, nil
}

// MarkNoShow records that the session time passed without the user attending.
func (p BookingPolicy) MarkNoShow(b domain.Booking, now time.Time) (domain.Booking, error) {
	if b.Status != domain.BookingStatusConfirmed {
		return b, withDetail(ErrBookingInvalidTransition, "%s -> %s", b.Status, domain.BookingStatusNoShow)
	}
	if b.ConfirmedDateTime == nil || now.Before(*b.ConfirmedDateTime) {
		return b, ErrBookingSessionNotStarted
	}
	next := cloneBooking(b)
	next.Status = domain.BookingStatusNoShow
	next.NoShowAt = valuePtr(now)
	next.UpdatedAt = now
	return next, nil
}

// SubmitFeedback attaches the single allowed rating to a completed booking.
func (p BookingPolicy) SubmitFeedback(b domain.Booking, in FeedbackInput, now time.Time) (domain.Booking, error) {
	if b.Status != domain.BookingStatusCompleted {
		return b, ErrBookingFeedbackNotAllowed
	}
	if b.Feedback != nil {
		return b, ErrBookingFeedbackSubmitted
	}
	if in.Rating < 1 || in.Rating > 5 {
		return b, withDetail(ErrBookingInvalidInput, "rating must be between 1 and 5")
	}
	next := cloneBooking(b)
	next.Feedback = &domain.Feedback{
		Rating:      in.Rating,
		Comment:     strings.TrimSpace(in.Comment),
		SubmittedAt: now,
	}
	next.UpdatedAt = now
	return next, nil
}

func cloneBooking(b domain.Booking) domain.Booking {
	next := b
	next.Alternative = cloneSlot(b.Alternative)
	next.ConfirmedDateTime = cloneTime(b.ConfirmedDateTime)
	next.RescheduledFrom = slices.Clone(b.RescheduledFrom)
	if b.Cancellation != nil {
		c := *b.Cancellation
		next.Cancellation = &c
	}
	if b.Feedback != nil {
		f := *b.Feedback
		next.Feedback = &f
	}
	return next
}

func cloneSlot(s *domain.Slot) *domain.Slot {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func valuePtr[T any](v T) *T {
	return &v
}
