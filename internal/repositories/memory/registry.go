package memory

import (
	"context"

	"github.com/masar-academy/api/internal/repositories"
)

// Registry implements repositories.Registry over a single Store.
type Registry struct {
	*Store

	bookings    *BookingRepository
	orders      *OrderRepository
	coupons     *CouponRepository
	catalog     *CatalogRepository
	enrollments *EnrollmentRepository
	audit       *AuditLogRepository
	counters    *CounterRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry returns a registry whose repositories share one in-memory store.
func NewRegistry() *Registry {
	store := NewStore()
	health, _ := repositories.NewProbeHealthRepository([]repositories.DependencyProbe{{
		Name:  "memory",
		Probe: func(context.Context) error { return nil },
	}})
	return &Registry{
		Store:       store,
		bookings:    &BookingRepository{store: store},
		orders:      &OrderRepository{store: store},
		coupons:     &CouponRepository{store: store},
		catalog:     &CatalogRepository{store: store},
		enrollments: &EnrollmentRepository{store: store},
		audit:       &AuditLogRepository{store: store},
		counters:    &CounterRepository{store: store},
		health:      health,
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Bookings() repositories.BookingRepository { return r.bookings }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Enrollments() repositories.EnrollmentRepository { return r.enrollments }

func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.audit }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// BookingStore exposes memory-only helpers such as ActiveGuard.
func (r *Registry) BookingStore() *BookingRepository { return r.bookings }

// CatalogStore exposes the seeding helpers.
func (r *Registry) CatalogStore() *CatalogRepository { return r.catalog }

// EnrollmentStore exposes Find.
func (r *Registry) EnrollmentStore() *EnrollmentRepository { return r.enrollments }

// AuditStore exposes Entries.
func (r *Registry) AuditStore() *AuditLogRepository { return r.audit }
