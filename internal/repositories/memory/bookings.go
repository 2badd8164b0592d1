package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

// BookingRepository keeps bookings and the active-booking guard index.
type BookingRepository struct {
	store *Store
}

var _ repositories.BookingRepository = (*BookingRepository)(nil)

func (r *BookingRepository) Insert(ctx context.Context, booking domain.Booking) error {
	defer r.store.lock(ctx)()
	key := booking.GuardKey()
	if holder, ok := r.store.data.guards[key]; ok {
		return repositories.NewBookingError(repositories.BookingErrorDuplicateActive, "booking "+holder+" is still active", nil)
	}
	if _, exists := r.store.data.bookings[booking.ID]; exists {
		return repositories.ConflictError("bookings.insert", "booking %s already exists", booking.ID)
	}
	if booking.Status.Active() {
		r.store.data.guards[key] = booking.ID
	}
	r.store.data.bookings[booking.ID] = booking
	return nil
}

func (r *BookingRepository) Update(ctx context.Context, update repositories.BookingUpdate) (domain.Booking, error) {
	defer r.store.lock(ctx)()
	next := update.Booking
	current, ok := r.store.data.bookings[next.ID]
	if !ok {
		return domain.Booking{}, repositories.NotFoundError("bookings.update", "booking %s not found", next.ID)
	}
	if current.Version != update.ExpectedVersion {
		return domain.Booking{}, repositories.NewBookingError(repositories.BookingErrorVersionMismatch, "booking "+next.ID+" changed concurrently", nil)
	}
	next.Version = update.ExpectedVersion + 1
	if update.ReleaseGuard {
		key := current.GuardKey()
		if r.store.data.guards[key] == current.ID {
			delete(r.store.data.guards, key)
		}
	}
	r.store.data.bookings[next.ID] = next
	return next, nil
}

func (r *BookingRepository) FindByID(ctx context.Context, bookingID string) (domain.Booking, error) {
	defer r.store.lock(ctx)()
	booking, ok := r.store.data.bookings[strings.TrimSpace(bookingID)]
	if !ok {
		return domain.Booking{}, repositories.NotFoundError("bookings.get", "booking %s not found", bookingID)
	}
	return booking, nil
}

func (r *BookingRepository) List(ctx context.Context, filter repositories.BookingListFilter) (domain.CursorPage[domain.Booking], error) {
	defer r.store.lock(ctx)()
	var items []domain.Booking
	for _, b := range r.store.data.bookings {
		if filter.UserID != "" && b.UserID != filter.UserID {
			continue
		}
		if filter.OfferingID != "" && b.Offering.OfferingID != filter.OfferingID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, b.Status) {
			continue
		}
		if !filter.DateRange.Contains(b.CreatedAt, domain.TimeBefore) {
			continue
		}
		items = append(items, b)
	}
	slices.SortFunc(items, func(a, b domain.Booking) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return page(items, filter.Pagination, func(b domain.Booking) string { return b.ID })
}

func (r *BookingRepository) ListSessionsEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Booking, error) {
	defer r.store.lock(ctx)()
	var items []domain.Booking
	for _, b := range r.store.data.bookings {
		if b.Status != domain.BookingStatusConfirmed {
			continue
		}
		if end, ok := b.SessionEnd(); ok && !end.After(cutoff) {
			items = append(items, b)
		}
	}
	slices.SortFunc(items, func(a, b domain.Booking) int {
		return a.ConfirmedDateTime.Compare(*b.ConfirmedDateTime)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// ActiveGuard reports which booking currently holds the (user, offering) guard.
func (r *BookingRepository) ActiveGuard(userID, offeringID string) (string, bool) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	id, ok := r.store.data.guards[domain.ActiveBookingGuardKey(userID, offeringID)]
	return id, ok
}
