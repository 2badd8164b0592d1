package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/masar-academy/api/internal/domain"
	pfirestore "github.com/masar-academy/api/internal/platform/firestore"
	"github.com/masar-academy/api/internal/repositories"
)

// BookingRepository stores bookings in the bookings collection. The active-booking guard is a
// separate document keyed by user and offering, claimed and released in the same transaction as
// the booking write.
type BookingRepository struct {
	provider *pfirestore.Provider
	bookings *pfirestore.Collection[bookingDocument]
	guards   *pfirestore.Collection[bookingGuardDocument]
}

var _ repositories.BookingRepository = (*BookingRepository)(nil)

// NewBookingRepository constructs a Firestore-backed booking repository.
func NewBookingRepository(provider *pfirestore.Provider) (*BookingRepository, error) {
	if provider == nil {
		return nil, errors.New("booking repository requires firestore provider")
	}
	return &BookingRepository{
		provider: provider,
		bookings: pfirestore.NewCollection[bookingDocument](provider, bookingsCollection),
		guards:   pfirestore.NewCollection[bookingGuardDocument](provider, bookingGuardsCollection),
	}, nil
}

func (r *BookingRepository) Insert(ctx context.Context, booking domain.Booking) error {
	if strings.TrimSpace(booking.ID) == "" {
		return repositories.ConflictError("bookings.insert", "booking id is required")
	}
	err := r.provider.InTx(ctx, func(ctx context.Context, tx *pfirestore.Tx) error {
		guardRef, err := r.guards.Ref(ctx, booking.GuardKey())
		if err != nil {
			return err
		}
		snap, err := tx.Get(guardRef)
		switch {
		case err == nil:
			var guard bookingGuardDocument
			if err := snap.DataTo(&guard); err != nil {
				return fmt.Errorf("decode guard %s: %w", guardRef.ID, err)
			}
			return repositories.NewBookingError(repositories.BookingErrorDuplicateActive, "booking "+guard.BookingID+" is still active", nil)
		case !isNotFound(err):
			return err
		}

		ref, err := r.bookings.Ref(ctx, booking.ID)
		if err != nil {
			return err
		}
		if booking.Status.Active() {
			if err := tx.Create(guardRef, bookingGuardDocument{
				BookingID:  booking.ID,
				UserID:     booking.UserID,
				OfferingID: booking.Offering.OfferingID,
				CreatedAt:  booking.CreatedAt.UTC(),
			}); err != nil {
				return err
			}
		}
		return tx.Create(ref, encodeBooking(booking))
	})
	return wrap("bookings.insert", err)
}

func (r *BookingRepository) Update(ctx context.Context, update repositories.BookingUpdate) (domain.Booking, error) {
	next := update.Booking
	err := r.provider.InTx(ctx, func(ctx context.Context, tx *pfirestore.Tx) error {
		ref, err := r.bookings.Ref(ctx, next.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return repositories.NotFoundError("bookings.update", "booking %s not found", next.ID)
			}
			return err
		}
		var current bookingDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode booking %s: %w", next.ID, err)
		}
		if current.Version != update.ExpectedVersion {
			return repositories.NewBookingError(repositories.BookingErrorVersionMismatch, "booking "+next.ID+" changed concurrently", nil)
		}
		next.Version = update.ExpectedVersion + 1
		if update.ReleaseGuard {
			// Only the active booking of a pair can release, so the guard is always its own.
			guardRef, err := r.guards.Ref(ctx, domain.ActiveBookingGuardKey(current.UserID, current.OfferingID))
			if err != nil {
				return err
			}
			if err := tx.Delete(guardRef); err != nil {
				return err
			}
		}
		return tx.Set(ref, encodeBooking(next))
	})
	if err != nil {
		return domain.Booking{}, wrap("bookings.update", err)
	}
	return next, nil
}

func (r *BookingRepository) FindByID(ctx context.Context, bookingID string) (domain.Booking, error) {
	id := strings.TrimSpace(bookingID)
	doc, err := r.bookings.Get(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	return decodeBooking(doc.ID, doc.Data)
}

func (r *BookingRepository) List(ctx context.Context, filter repositories.BookingListFilter) (domain.CursorPage[domain.Booking], error) {
	cursor, err := parseCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Booking]{}, fmt.Errorf("booking repository: invalid page token: %w", err)
	}
	limit := pageLimit(filter.Pagination.PageSize)
	statuses := make([]string, 0, len(filter.Status))
	for _, s := range filter.Status {
		statuses = append(statuses, string(s))
	}
	if len(statuses) > maxInFilter {
		statuses = statuses[:maxInFilter]
	}

	docs, err := r.bookings.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if offeringID := strings.TrimSpace(filter.OfferingID); offeringID != "" {
			q = q.Where("offeringId", "==", offeringID)
		}
		switch len(statuses) {
		case 0:
		case 1:
			q = q.Where("status", "==", statuses[0])
		default:
			q = q.Where("status", "in", statuses)
		}
		if from := filter.DateRange.From; from != nil {
			q = q.Where("createdAt", ">=", from.UTC())
		}
		if to := filter.DateRange.To; to != nil {
			q = q.Where("createdAt", "<=", to.UTC())
		}
		return createdAtPage(q, cursor, limit)
	})
	if err != nil {
		return domain.CursorPage[domain.Booking]{}, err
	}
	docs, next := trimPage(docs, limit, func(d bookingDocument) time.Time { return d.CreatedAt })
	items := make([]domain.Booking, 0, len(docs))
	for _, doc := range docs {
		b, err := decodeBooking(doc.ID, doc.Data)
		if err != nil {
			return domain.CursorPage[domain.Booking]{}, err
		}
		items = append(items, b)
	}
	return domain.CursorPage[domain.Booking]{Items: items, NextPageToken: next}, nil
}

func (r *BookingRepository) ListSessionsEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Booking, error) {
	docs, err := r.bookings.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.BookingStatusConfirmed)).
			Where("sessionEndsAt", "<=", cutoff.UTC()).
			OrderBy("sessionEndsAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	items := make([]domain.Booking, 0, len(docs))
	for _, doc := range docs {
		b, err := decodeBooking(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, nil
}
