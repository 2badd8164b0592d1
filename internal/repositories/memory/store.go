// Package memory provides in-process repositories used by tests and local development. All
// collections share one mutex so RunInTx behaves like a serialisable transaction.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/platform/pagination"
	"github.com/masar-academy/api/internal/repositories"
)

type txKey struct{}

type state struct {
	bookings      map[string]domain.Booking
	guards        map[string]string
	orders        map[string]domain.Order
	coupons       map[string]domain.Coupon
	consultations map[string]domain.ConsultationOffering
	courses       map[string]domain.Course
	enrollments   map[string]domain.CourseEnrollment
	audit         []domain.AuditLogEntry
	counters      map[string]int64
}

func newState() state {
	return state{
		bookings:      make(map[string]domain.Booking),
		guards:        make(map[string]string),
		orders:        make(map[string]domain.Order),
		coupons:       make(map[string]domain.Coupon),
		consultations: make(map[string]domain.ConsultationOffering),
		courses:       make(map[string]domain.Course),
		enrollments:   make(map[string]domain.CourseEnrollment),
		counters:      make(map[string]int64),
	}
}

func (s state) clone() state {
	return state{
		bookings:      maps.Clone(s.bookings),
		guards:        maps.Clone(s.guards),
		orders:        maps.Clone(s.orders),
		coupons:       maps.Clone(s.coupons),
		consultations: maps.Clone(s.consultations),
		courses:       maps.Clone(s.courses),
		enrollments:   maps.Clone(s.enrollments),
		audit:         slices.Clone(s.audit),
		counters:      maps.Clone(s.counters),
	}
}

// Store owns the shared state behind every memory repository.
type Store struct {
	mu    sync.Mutex
	data  state
	clock func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: newState(), clock: time.Now}
}

// RunInTx implements repositories.UnitOfWork. Nested calls join the outer transaction and a failed
// function restores every collection to its state before the call.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

var _ repositories.UnitOfWork = (*Store)(nil)

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*Store)
	return ok
}

// lock acquires the store mutex unless ctx already runs inside RunInTx.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// page slices sorted items using an id cursor encoded with the shared page token format.
func page[T any](items []T, p domain.Pagination, idOf func(T) string) (domain.CursorPage[T], error) {
	start := 0
	if p.PageToken != "" {
		cursor, err := pagination.ParseToken(p.PageToken)
		if err != nil {
			return domain.CursorPage[T]{}, repositories.ConflictError("memory.page", "%v", err)
		}
		for i, item := range items {
			if idOf(item) == cursor.After {
				start = i + 1
				break
			}
		}
	}
	size := p.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	end := min(start+size, len(items))
	if start > end {
		start = end
	}
	out := domain.CursorPage[T]{Items: slices.Clone(items[start:end])}
	if end < len(items) && end > start {
		out.NextPageToken = pagination.AfterKey(idOf(items[end-1])).Token()
	}
	if out.Items == nil {
		out.Items = []T{}
	}
	return out, nil
}
