package memory

import (
	"context"
	"slices"
	"strings"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

// OrderRepository keeps orders keyed by id.
type OrderRepository struct {
	store *Store
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	defer r.store.lock(ctx)()
	if _, exists := r.store.data.orders[order.ID]; exists {
		return repositories.ConflictError("orders.insert", "order %s already exists", order.ID)
	}
	r.store.data.orders[order.ID] = order
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error) {
	defer r.store.lock(ctx)()
	current, ok := r.store.data.orders[order.ID]
	if !ok {
		return domain.Order{}, repositories.NotFoundError("orders.update", "order %s not found", order.ID)
	}
	if current.Version != expectedVersion {
		return domain.Order{}, repositories.ConflictError("orders.update", "order %s version %d, expected %d", order.ID, current.Version, expectedVersion)
	}
	order.Version = expectedVersion + 1
	r.store.data.orders[order.ID] = order
	return order, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	defer r.store.lock(ctx)()
	order, ok := r.store.data.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Order{}, repositories.NotFoundError("orders.get", "order %s not found", orderID)
	}
	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	defer r.store.lock(ctx)()
	var items []domain.Order
	for _, o := range r.store.data.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.BookingID != "" && o.Purchase.BookingID != filter.BookingID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, o.Status) {
			continue
		}
		if filter.PaymentMethod != "" && o.PaymentMethod != filter.PaymentMethod {
			continue
		}
		if filter.VerificationStatus != "" && (o.BankTransfer == nil || o.BankTransfer.VerificationStatus != filter.VerificationStatus) {
			continue
		}
		if !filter.DateRange.Contains(o.CreatedAt, domain.TimeBefore) {
			continue
		}
		items = append(items, o)
	}
	slices.SortFunc(items, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return page(items, filter.Pagination, func(o domain.Order) string { return o.ID })
}
