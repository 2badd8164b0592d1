package memory

import (
	"context"
	"errors"
	"strings"

	"github.com/masar-academy/api/internal/repositories"
)

// CounterRepository mirrors the Firestore sequences: values start at 1 and stop at limit.
type CounterRepository struct {
	store *Store
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func (r *CounterRepository) Next(ctx context.Context, counterID string, limit int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" || limit <= 0 {
		return 0, errors.New("counters: id and a positive limit are required")
	}
	defer r.store.lock(ctx)()

	next := r.store.data.counters[id] + 1
	if next > limit {
		return 0, repositories.NewCounterError(id, limit)
	}
	r.store.data.counters[id] = next
	return next, nil
}
