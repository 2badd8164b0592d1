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

// OrderRepository stores orders with optimistic versioning.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return wrap("orders.insert", r.orders.Create(ctx, order.ID, encodeOrder(order)))
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	err := r.provider.InTx(ctx, func(ctx context.Context, tx *pfirestore.Tx) error {
		ref, err := r.orders.Ref(ctx, order.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return repositories.NotFoundError("orders.update", "order %s not found", order.ID)
			}
			return err
		}
		var current orderDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode order %s: %w", order.ID, err)
		}
		if current.Version != expectedVersion {
			return repositories.ConflictError("orders.update", "order %s is at version %d, expected %d", order.ID, current.Version, expectedVersion)
		}
		order.Version = expectedVersion + 1
		return tx.Set(ref, encodeOrder(order))
	})
	if err != nil {
		return domain.Order{}, wrap("orders.update", err)
	}
	return order, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	doc, err := r.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data)
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := parseCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
	}
	limit := pageLimit(filter.Pagination.PageSize)
	statuses := make([]string, 0, len(filter.Status))
	for _, s := range filter.Status {
		statuses = append(statuses, string(s))
	}
	if len(statuses) > maxInFilter {
		statuses = statuses[:maxInFilter]
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if bookingID := strings.TrimSpace(filter.BookingID); bookingID != "" {
			q = q.Where("bookingId", "==", bookingID)
		}
		switch len(statuses) {
		case 0:
		case 1:
			q = q.Where("status", "==", statuses[0])
		default:
			q = q.Where("status", "in", statuses)
		}
		if filter.PaymentMethod != "" {
			q = q.Where("paymentMethod", "==", string(filter.PaymentMethod))
		}
		if filter.VerificationStatus != "" {
			q = q.Where("verificationStatus", "==", string(filter.VerificationStatus))
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
		return domain.CursorPage[domain.Order]{}, err
	}
	docs, next := trimPage(docs, limit, func(d orderDocument) time.Time { return d.CreatedAt })
	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		o, err := decodeOrder(doc.ID, doc.Data)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		items = append(items, o)
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: next}, nil
}
