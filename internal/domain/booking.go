package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus enumerates the consultation booking lifecycle states.
type BookingStatus string

const (
	// BookingStatusPendingPayment is the initial state until the paired order completes.
	BookingStatusPendingPayment BookingStatus = "pending_payment"
	// BookingStatusPendingConfirmation waits for an administrator to assign a session time.
	BookingStatusPendingConfirmation BookingStatus = "pending_confirmation"
	// BookingStatusConfirmed has a concrete confirmed date and time.
	BookingStatusConfirmed BookingStatus = "confirmed"
	// BookingStatusRescheduled is transient and always routes back to pending_confirmation.
	BookingStatusRescheduled BookingStatus = "rescheduled"
	// BookingStatusCompleted is terminal; the session took place.
	BookingStatusCompleted BookingStatus = "completed"
	// BookingStatusCancelled is terminal.
	BookingStatusCancelled BookingStatus = "cancelled"
	// BookingStatusNoShow is terminal; the session time passed without the user attending.
	BookingStatusNoShow BookingStatus = "no_show"
)

// Valid reports whether the status is a known booking state.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPendingPayment, BookingStatusPendingConfirmation, BookingStatusConfirmed,
		BookingStatusRescheduled, BookingStatusCompleted, BookingStatusCancelled, BookingStatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusNoShow:
		return true
	case BookingStatusPendingPayment, BookingStatusPendingConfirmation, BookingStatusConfirmed, BookingStatusRescheduled:
		return false
	}
	return false
}

// Active reports whether the booking still counts against the one-active-booking-per-offering rule.
func (s BookingStatus) Active() bool {
	return s.Valid() && !s.Terminal()
}

// BookingPaymentStatus mirrors the payment progress of the paired order.
type BookingPaymentStatus string

const (
	BookingPaymentPending   BookingPaymentStatus = "pending"
	BookingPaymentCompleted BookingPaymentStatus = "completed"
	BookingPaymentFailed    BookingPaymentStatus = "failed"
	BookingPaymentRefunded  BookingPaymentStatus = "refunded"
)

// MeetingMode is how the consultation is held.
type MeetingMode string

const (
	MeetingModeOnline    MeetingMode = "online"
	MeetingModeInPerson  MeetingMode = "in_person"
	MeetingModePhoneCall MeetingMode = "phone"
)

// Valid reports whether the meeting mode is known.
func (m MeetingMode) Valid() bool {
	switch m {
	case MeetingModeOnline, MeetingModeInPerson, MeetingModePhoneCall:
		return true
	}
	return false
}

// CancelledBy records which side cancelled a booking.
type CancelledBy string

const (
	CancelledByUser   CancelledBy = "user"
	CancelledByAdmin  CancelledBy = "admin"
	CancelledBySystem CancelledBy = "system"
)

// CancelledByFromActor maps an actor type onto the cancellation source.
func CancelledByFromActor(actor ActorType) CancelledBy {
	switch actor {
	case ActorTypeAdmin:
		return CancelledByAdmin
	case ActorTypeSystem:
		return CancelledBySystem
	default:
		return CancelledByUser
	}
}

var (
	// ErrInvalidSlot is returned when a date or time string cannot be parsed.
	ErrInvalidSlot = errors.New("slot: invalid date or time")
)

const (
	slotDateLayout = "2006-01-02"
	slotTimeLayout = "15:04"
)

// Slot is a user-supplied calendar date and wall-clock time in the offering's timezone.
type Slot struct {
	Date string
	Time string
}

// IsZero reports whether the slot carries no value.
func (s Slot) IsZero() bool {
	return strings.TrimSpace(s.Date) == "" && strings.TrimSpace(s.Time) == ""
}

// Start resolves the slot to an instant in loc.
func (s Slot) Start(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	value := strings.TrimSpace(s.Date) + " " + strings.TrimSpace(s.Time)
	ts, err := time.ParseInLocation(slotDateLayout+" "+slotTimeLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidSlot, value)
	}
	return ts, nil
}

// UserDetails is the contact snapshot supplied with a booking request.
type UserDetails struct {
	FullName string
	Email    string
	Phone    string
	Locale   string
	Notes    string
}

// Feedback is the single post-completion rating a user may leave.
type Feedback struct {
	Rating      int
	Comment     string
	SubmittedAt time.Time
}

// RescheduleRecord archives a schedule that was replaced by a reschedule.
type RescheduleRecord struct {
	Preferred         Slot
	Alternative       *Slot
	ConfirmedDateTime *time.Time
	Reason            string
	RequestedBy       Actor
	RescheduledAt     time.Time
}

// Cancellation captures who cancelled a booking and why.
type Cancellation struct {
	By          CancelledBy
	ActorID     string
	Reason      string
	CancelledAt time.Time
}

// OfferingSnapshot freezes the catalog values a booking was created with.
type OfferingSnapshot struct {
	OfferingID      string
	Title           string
	Price           decimal.Decimal
	Currency        string
	DurationMinutes int
	Timezone        string
}

// Booking is a user's request for a scheduled consultation session.
type Booking struct {
	ID                 string
	Reference          string
	UserID             string
	Offering           OfferingSnapshot
	MeetingMode        MeetingMode
	Preferred          Slot
	Alternative        *Slot
	ConfirmedDateTime  *time.Time
	Status             BookingStatus
	PaymentStatus      BookingPaymentStatus
	ActiveOrderID      string
	RescheduledCount   int
	RescheduledFrom    []RescheduleRecord
	Cancellation       *Cancellation
	AdminNotes         string
	UserDetails        UserDetails
	Feedback           *Feedback
	PaymentCompletedAt *time.Time
	ConfirmedAt        *time.Time
	ConfirmedBy        string
	CompletedAt        *time.Time
	NoShowAt           *time.Time
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// GuardKey identifies the active-booking guard for the user and offering pair.
func (b Booking) GuardKey() string {
	return ActiveBookingGuardKey(b.UserID, b.Offering.OfferingID)
}

// ActiveBookingGuardKey builds the identifier of the uniqueness guard for (user, offering).
func ActiveBookingGuardKey(userID, offeringID string) string {
	return strings.TrimSpace(userID) + "_" + strings.TrimSpace(offeringID)
}

// SessionEnd returns the end of the confirmed session when one is scheduled.
func (b Booking) SessionEnd() (time.Time, bool) {
	if b.ConfirmedDateTime == nil {
		return time.Time{}, false
	}
	return b.ConfirmedDateTime.Add(time.Duration(b.Offering.DurationMinutes) * time.Minute), true
}

// AvailabilityWindow is a weekly recurring window in which sessions may start and end.
type AvailabilityWindow struct {
	Weekday time.Weekday
	Start   string
	End     string
}

// ConsultationOffering is the read-only catalog entry a booking is made against.
type ConsultationOffering struct {
	ID              string
	Title           string
	Price           decimal.Decimal
	Currency        string
	DurationMinutes int
	MeetingModes    []MeetingMode
	Availability    []AvailabilityWindow
	Timezone        string
	IsActive        bool
}

// Location resolves the offering timezone, defaulting to UTC.
func (o ConsultationOffering) Location() *time.Location {
	if tz := strings.TrimSpace(o.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.UTC
}

// SupportsMode reports whether the offering can be held with the given meeting mode.
func (o ConsultationOffering) SupportsMode(mode MeetingMode) bool {
	for _, candidate := range o.MeetingModes {
		if candidate == mode {
			return true
		}
	}
	return false
}

// Accepts reports whether a session starting at start fits one of the availability windows.
// Offerings without windows accept any start time.
func (o ConsultationOffering) Accepts(start time.Time) bool {
	if len(o.Availability) == 0 {
		return true
	}
	local := start.In(o.Location())
	end := local.Add(time.Duration(o.DurationMinutes) * time.Minute)
	for _, window := range o.Availability {
		if local.Weekday() != window.Weekday {
			continue
		}
		from, err := clockOn(local, window.Start)
		if err != nil {
			continue
		}
		to, err := clockOn(local, window.End)
		if err != nil {
			continue
		}
		if !local.Before(from) && !end.After(to) {
			return true
		}
	}
	return false
}

// Snapshot copies the values a booking must keep even if the catalog changes later.
func (o ConsultationOffering) Snapshot() OfferingSnapshot {
	return OfferingSnapshot{
		OfferingID:      o.ID,
		Title:           o.Title,
		Price:           o.Price,
		Currency:        o.Currency,
		DurationMinutes: o.DurationMinutes,
		Timezone:        o.Timezone,
	}
}

func clockOn(day time.Time, clock string) (time.Time, error) {
	parsed, err := time.Parse(slotTimeLayout, strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), parsed.Hour(), parsed.Minute(), 0, 0, day.Location()), nil
}

// Course is the read-only catalog view needed to price a course order.
type Course struct {
	ID       string
	Title    string
	Price    decimal.Decimal
	Currency string
	IsActive bool
}
