package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	pfirestore "github.com/masar-academy/api/internal/platform/firestore"
	"github.com/masar-academy/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	Value     int64     `firestore:"value"`
	Limit     int64     `firestore:"limit"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CounterRepository keeps one document per sequence, e.g. counters/bookings:20250501, and advances
// it inside a transaction so concurrent callers never share a value.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	now      func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *CounterRepository) Next(ctx context.Context, counterID string, limit int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" || limit <= 0 {
		return 0, errors.New("counters: id and a positive limit are required")
	}

	var next int64
	err := r.provider.InTx(ctx, func(ctx context.Context, tx *pfirestore.Tx) error {
		ref, err := r.counters.Ref(ctx, id)
		if err != nil {
			return err
		}
		var value int64
		if written, ok := tx.Written(ref); ok {
			value = written.(counterDocument).Value
		} else {
			current, err := r.counters.Get(ctx, id)
			var storeErr *pfirestore.Error
			if err != nil && !(errors.As(err, &storeErr) && storeErr.IsNotFound()) {
				return err
			}
			value = current.Data.Value
		}
		next = value + 1
		if next > limit {
			return repositories.NewCounterError(id, limit)
		}
		return tx.Put(ref, counterDocument{Value: next, Limit: limit, UpdatedAt: r.now()})
	})
	if err != nil {
		return 0, wrap("counters.next", err)
	}
	return next, nil
}
