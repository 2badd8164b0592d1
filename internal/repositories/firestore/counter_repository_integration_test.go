//go:build integration

package firestore

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/masar-academy/api/internal/repositories"
)

func TestCounterRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "counter-test")

	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := repo.Next(ctx, "bookings:20250501", 9999)
			if err != nil {
				t.Errorf("next(%d): %v", i, err)
				return
			}
			results[i] = value
		}()
	}
	wg.Wait()

	slices.Sort(results)
	for i, val := range results {
		if expected := int64(i + 1); val != expected {
			t.Fatalf("expected sequence %d at position %d, got %d", expected, i, val)
		}
	}

	for want := int64(1); want <= 3; want++ {
		value, err := repo.Next(ctx, "orders:2025", 3)
		if err != nil || value != want {
			t.Fatalf("expected bounded value %d, got %d (%v)", want, value, err)
		}
	}
	_, err = repo.Next(ctx, "orders:2025", 3)
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) || counterErr.Limit != 3 {
		t.Fatalf("expected counter error at limit 3, got %T %v", err, err)
	}
}
