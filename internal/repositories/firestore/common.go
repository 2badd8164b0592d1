package firestore

import (
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/masar-academy/api/internal/platform/firestore"
	"github.com/masar-academy/api/internal/platform/pagination"
	"github.com/masar-academy/api/internal/repositories"
)

const (
	defaultListLimit = 20
	maxInFilter      = 10
)

// wrap classifies err for services. Errors that already carry domain meaning are returned unwrapped.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var bookingErr *repositories.BookingError
	if errors.As(err, &bookingErr) {
		return bookingErr
	}
	var couponErr *repositories.CouponError
	if errors.As(err, &couponErr) {
		return couponErr
	}
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		return counterErr
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		return storeErr
	}
	return pfirestore.WrapError(op, err)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func isDone(err error) bool {
	return errors.Is(err, iterator.Done)
}

func pageLimit(size int) int {
	if size <= 0 {
		return defaultListLimit
	}
	return size
}

func parseCursor(token string) (pagination.Cursor, error) {
	cursor, err := pagination.ParseToken(token)
	if err != nil {
		return pagination.Cursor{}, err
	}
	return cursor, cursor.RequireCreated()
}

// createdAtPage applies the newest-first ordering, the cursor and the look-ahead limit shared by
// every listing.
func createdAtPage(q firestore.Query, cursor pagination.Cursor, limit int) firestore.Query {
	q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if !cursor.IsZero() {
		q = q.StartAfter(cursor.CreatedAt, cursor.After)
	}
	return q.Limit(limit + 1)
}

// trimPage drops the look-ahead document and returns the token for the next page.
func trimPage[T any](docs []pfirestore.Document[T], limit int, createdAt func(T) time.Time) ([]pfirestore.Document[T], string) {
	if len(docs) <= limit {
		return docs, ""
	}
	docs = docs[:limit]
	last := docs[len(docs)-1]
	return docs, pagination.AfterCreated(createdAt(last.Data), last.ID).Token()
}
