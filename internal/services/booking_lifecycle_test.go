package services

import (
	"errors"
	"testing"
	"time"

	domain "github.com/masar-academy/api/internal/domain"
)

func confirmedAt(session time.Time) domain.Booking {
	return domain.Booking{
		ID:                "bkg-1",
		UserID:            "user-a",
		Status:            domain.BookingStatusConfirmed,
		ConfirmedDateTime: &session,
		Preferred:         domain.Slot{Date: "2025-05-10", Time: "10:00"},
		Version:           3,
	}
}

func TestBookingPolicyCancelWindowBoundary(t *testing.T) {
	policy := DefaultBookingPolicy()
	user := domain.Actor{ID: "user-a", Type: domain.ActorTypeUser}

	exactly := confirmedAt(testNow.Add(24 * time.Hour))
	next, err := policy.Cancel(exactly, CancelInput{Actor: user, Reason: "travel"}, testNow)
	if err != nil {
		t.Fatalf("expected cancellation at exactly 24h, got %v", err)
	}
	if next.Status != domain.BookingStatusCancelled || next.Cancellation.By != domain.CancelledByUser {
		t.Fatalf("unexpected booking %+v", next)
	}

	justUnder := confirmedAt(testNow.Add(23*time.Hour + 59*time.Minute))
	_, err = policy.Cancel(justUnder, CancelInput{Actor: user}, testNow)
	if !errors.Is(err, ErrBookingCancellationWindow) {
		t.Fatalf("expected cancellation window error, got %v", err)
	}
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected state conflict kind, got %v", KindOf(err))
	}
}

func TestBookingPolicyCascadeCancelSkipsWindow(t *testing.T) {
	policy := DefaultBookingPolicy()
	b := confirmedAt(testNow.Add(time.Hour))

	next, err := policy.Cancel(b, CancelInput{Actor: domain.SystemActor(""), Reason: "order refunded", Cascade: true}, testNow)
	if err != nil {
		t.Fatalf("expected cascade cancel, got %v", err)
	}
	if next.Cancellation.By != domain.CancelledBySystem {
		t.Fatalf("expected system cancellation, got %s", next.Cancellation.By)
	}
}

func TestBookingPolicyCancelTerminalStates(t *testing.T) {
	policy := DefaultBookingPolicy()
	cases := []struct {
		status domain.BookingStatus
		want   *Error
	}{
		{domain.BookingStatusCancelled, ErrBookingAlreadyCancelled},
		{domain.BookingStatusCompleted, ErrBookingAlreadyCompleted},
		{domain.BookingStatusNoShow, ErrBookingInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			_, err := policy.Cancel(domain.Booking{Status: tc.status}, CancelInput{}, testNow)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %s, got %v", tc.want.Code, err)
			}
		})
	}
}

func TestBookingPolicyRescheduleCap(t *testing.T) {
	policy := DefaultBookingPolicy()
	user := domain.Actor{ID: "user-a", Type: domain.ActorTypeUser}
	b := confirmedAt(testNow.Add(30 * time.Hour))

	for n := 1; n <= 3; n++ {
		next, err := policy.Reschedule(b, RescheduleInput{
			Actor:     user,
			Preferred: domain.Slot{Date: "2025-05-2" + string(rune('0'+n)), Time: "11:00"},
			Reason:    "conflict",
		}, testNow)
		if n <= DefaultRescheduleCap {
			if err != nil {
				t.Fatalf("attempt %d: %v", n, err)
			}
			if next.RescheduledCount != n {
				t.Fatalf("attempt %d: expected count %d, got %d", n, n, next.RescheduledCount)
			}
			if next.Status != domain.BookingStatusPendingConfirmation || next.ConfirmedDateTime != nil {
				t.Fatalf("attempt %d: expected pending_confirmation without session, got %+v", n, next)
			}
			if len(next.RescheduledFrom) != n {
				t.Fatalf("attempt %d: expected %d history entries", n, n)
			}
			b = next
			continue
		}
		if !errors.Is(err, ErrBookingRescheduleCap) {
			t.Fatalf("attempt %d: expected cap error, got %v", n, err)
		}
		if b.RescheduledCount != DefaultRescheduleCap {
			t.Fatalf("booking mutated on rejection: %+v", b)
		}
	}
}

func TestBookingPolicyRescheduleKeepsHistory(t *testing.T) {
	policy := DefaultBookingPolicy()
	session := testNow.Add(48 * time.Hour)
	b := confirmedAt(session)

	next, err := policy.Reschedule(b, RescheduleInput{
		Actor:     domain.Actor{ID: "user-a", Type: domain.ActorTypeUser},
		Preferred: domain.Slot{Date: "2025-05-20", Time: "09:00"},
		Reason:    "sick",
	}, testNow)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	record := next.RescheduledFrom[0]
	if record.ConfirmedDateTime == nil || !record.ConfirmedDateTime.Equal(session) {
		t.Fatalf("expected archived session, got %+v", record)
	}
	if record.Preferred.Date != "2025-05-10" || record.Reason != "sick" {
		t.Fatalf("unexpected archive %+v", record)
	}
	if b.ConfirmedDateTime == nil || b.RescheduledCount != 0 {
		t.Fatalf("input booking mutated: %+v", b)
	}
}

func TestBookingPolicyConfirmRequiresPendingConfirmation(t *testing.T) {
	policy := DefaultBookingPolicy()
	b := domain.Booking{Status: domain.BookingStatusPendingPayment}

	_, err := policy.Confirm(b, ConfirmInput{AdminID: "admin-1", ConfirmedDateTime: testNow.Add(time.Hour)}, testNow)
	if !errors.Is(err, ErrBookingInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	b.Status = domain.BookingStatusPendingConfirmation
	_, err = policy.Confirm(b, ConfirmInput{AdminID: "admin-1", ConfirmedDateTime: testNow.Add(-time.Minute)}, testNow)
	if !errors.Is(err, ErrBookingInvalidInput) {
		t.Fatalf("expected past date rejection, got %v", err)
	}

	next, err := policy.Confirm(b, ConfirmInput{AdminID: "admin-1", ConfirmedDateTime: testNow.Add(time.Hour), Notes: "bring CV"}, testNow)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if next.Status != domain.BookingStatusConfirmed || next.ConfirmedBy != "admin-1" || next.AdminNotes != "bring CV" {
		t.Fatalf("unexpected booking %+v", next)
	}
}

func TestBookingPolicyCompleteAndNoShowRequireStartedSession(t *testing.T) {
	policy := DefaultBookingPolicy()
	b := confirmedAt(testNow.Add(time.Minute))

	if _, err := policy.Complete(b, testNow); !errors.Is(err, ErrBookingSessionNotStarted) {
		t.Fatalf("expected session not started, got %v", err)
	}
	if _, err := policy.MarkNoShow(b, testNow); !errors.Is(err, ErrBookingSessionNotStarted) {
		t.Fatalf("expected session not started, got %v", err)
	}

	later := testNow.Add(time.Minute)
	completed, err := policy.Complete(b, later)
	if err != nil || completed.Status != domain.BookingStatusCompleted {
		t.Fatalf("expected completion at session start, got %v", err)
	}
	noShow, err := policy.MarkNoShow(b, later)
	if err != nil || noShow.Status != domain.BookingStatusNoShow {
		t.Fatalf("expected no-show at session start, got %v", err)
	}
}

func TestBookingPolicyFeedbackOnceAfterCompletion(t *testing.T) {
	policy := DefaultBookingPolicy()
	b := confirmedAt(testNow.Add(-2 * time.Hour))

	if _, err := policy.SubmitFeedback(b, FeedbackInput{Rating: 5}, testNow); !errors.Is(err, ErrBookingFeedbackNotAllowed) {
		t.Fatalf("expected feedback not allowed, got %v", err)
	}

	completed, err := policy.Complete(b, testNow)
	must(t, err)

	for _, rating := range []int{0, 6} {
		if _, err := policy.SubmitFeedback(completed, FeedbackInput{Rating: rating}, testNow); !errors.Is(err, ErrBookingInvalidInput) {
			t.Fatalf("rating %d: expected invalid input, got %v", rating, err)
		}
	}

	rated, err := policy.SubmitFeedback(completed, FeedbackInput{Rating: 4, Comment: " helpful "}, testNow)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if rated.Feedback.Rating != 4 || rated.Feedback.Comment != "helpful" {
		t.Fatalf("unexpected feedback %+v", rated.Feedback)
	}
	if _, err := policy.SubmitFeedback(rated, FeedbackInput{Rating: 3}, testNow); !errors.Is(err, ErrBookingFeedbackSubmitted) {
		t.Fatalf("expected second feedback rejected, got %v", err)
	}
}

func TestBookingPolicyMarkPaymentCompleted(t *testing.T) {
	policy := DefaultBookingPolicy()
	b := domain.Booking{Status: domain.BookingStatusPendingPayment, PaymentStatus: domain.BookingPaymentPending}

	next, err := policy.MarkPaymentCompleted(b, testNow)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if next.Status != domain.BookingStatusPendingConfirmation || next.PaymentStatus != domain.BookingPaymentCompleted {
		t.Fatalf("unexpected booking %+v", next)
	}
	if _, err := policy.MarkPaymentCompleted(next, testNow); !errors.Is(err, ErrBookingInvalidTransition) {
		t.Fatalf("expected invalid transition on replay, got %v", err)
	}
}
