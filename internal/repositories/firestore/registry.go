package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/masar-academy/api/internal/platform/firestore"
	"github.com/masar-academy/api/internal/repositories"
)

// RegistryOption customises the Firestore registry.
type RegistryOption func(*Registry)

// WithAuditLogRepository replaces the Firestore audit log with another append-only store.
func WithAuditLogRepository(repo repositories.AuditLogRepository) RegistryOption {
	return func(r *Registry) {
		if repo != nil {
			r.audit = repo
		}
	}
}

// WithHealthProbes adds readiness probes for dependencies owned outside the registry.
func WithHealthProbes(probes ...repositories.DependencyProbe) RegistryOption {
	return func(r *Registry) {
		r.probes = append(r.probes, probes...)
	}
}

// Registry wires every Firestore repository over one provider.
type Registry struct {
	provider *pfirestore.Provider

	bookings    *BookingRepository
	orders      *OrderRepository
	coupons     *CouponRepository
	catalog     *CatalogRepository
	enrollments *EnrollmentRepository
	audit       repositories.AuditLogRepository
	counters    *CounterRepository
	uow         *UnitOfWork
	health      repositories.HealthRepository
	probes      []repositories.DependencyProbe
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repositories. The Firestore client itself is created lazily on first use.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	r := &Registry{provider: provider}
	var err error
	if r.bookings, err = NewBookingRepository(provider); err != nil {
		return nil, err
	}
	if r.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if r.coupons, err = NewCouponRepository(provider); err != nil {
		return nil, err
	}
	if r.catalog, err = NewCatalogRepository(provider); err != nil {
		return nil, err
	}
	if r.enrollments, err = NewEnrollmentRepository(provider); err != nil {
		return nil, err
	}
	if r.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}
	if r.uow, err = NewUnitOfWork(provider); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.audit == nil {
		if r.audit, err = NewAuditLogRepository(provider); err != nil {
			return nil, err
		}
	}

	probes := append([]repositories.DependencyProbe{{Name: "firestore", Probe: r.ping}}, r.probes...)
	if r.health, err = repositories.NewProbeHealthRepository(probes); err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}
	return r, nil
}

func (r *Registry) ping(ctx context.Context) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection(countersCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !isDone(err) {
		return err
	}
	return nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}

func (r *Registry) Bookings() repositories.BookingRepository { return r.bookings }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Enrollments() repositories.EnrollmentRepository { return r.enrollments }

func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.audit }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
