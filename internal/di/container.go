package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/masar-academy/api/internal/platform/config"
	"github.com/masar-academy/api/internal/platform/observability"
	"github.com/masar-academy/api/internal/platform/textutil"
	"github.com/masar-academy/api/internal/repositories"
	"github.com/masar-academy/api/internal/services"
)

const sanitizedTextLimit = 2000

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Bookings     services.BookingService
	Orders       services.OrderService
	Verification services.VerificationService
	Coupons      services.CouponService
	Audit        services.AuditLogService
	Counters     services.CounterService
}

// Infrastructure carries the adapters built outside the repository registry. Every field is
// optional; services degrade to logging or report the gateway as unavailable when one is missing.
type Infrastructure struct {
	Events   services.DomainEventPublisher
	Gateway  services.PaymentGateway
	Evidence services.EvidenceStore
	Observer services.TransitionObserver
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore
// registry, while tests can supply the in-memory one.
func NewContainer(cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	base := infra.Logger
	if base == nil {
		base = zap.NewNop()
	}
	sanitizer := textutil.NewPlainText(sanitizedTextLimit)
	policy := services.BookingPolicy{
		CancellationWindow: cfg.Booking.CancellationWindow,
		RescheduleCap:      cfg.Booking.RescheduleCap,
	}

	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: reg.AuditLogs(),
		Clock:      clock,
		Sanitizer:  sanitizer,
		Logger:     observability.ServiceLogger(base.Named("audit")),
		HashSalt:   cfg.Audit.IPSalt,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons:   reg.Coupons(),
		Clock:     clock,
		Audit:     svc.Audit,
		Sanitizer: sanitizer,
		Logger:    observability.ServiceLogger(base.Named("coupons")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:         reg.Orders(),
		Bookings:       reg.Bookings(),
		Coupons:        reg.Coupons(),
		Catalog:        reg.Catalog(),
		Enrollments:    reg.Enrollments(),
		CouponEngine:   svc.Coupons,
		Counters:       svc.Counters,
		Gateway:        infra.Gateway,
		Evidence:       infra.Evidence,
		Policy:         policy,
		GatewayTimeout: cfg.PSP.Timeout,
		UnitOfWork:     reg,
		Clock:          clock,
		Events:         infra.Events,
		Audit:          svc.Audit,
		Sanitizer:      sanitizer,
		Observer:       infra.Observer,
		Logger:         observability.ServiceLogger(base.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	bookingSvc, err := services.NewBookingService(services.BookingServiceDeps{
		Bookings:        reg.Bookings(),
		Orders:          reg.Orders(),
		Coupons:         reg.Coupons(),
		Catalog:         reg.Catalog(),
		Ledger:          svc.Orders,
		Counters:        svc.Counters,
		Policy:          policy,
		CompletionGrace: cfg.Booking.CompletionGrace,
		UnitOfWork:      reg,
		Clock:           clock,
		Events:          infra.Events,
		Audit:           svc.Audit,
		Sanitizer:       sanitizer,
		Observer:        infra.Observer,
		Logger:          observability.ServiceLogger(base.Named("bookings")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build booking service: %w", err)
	}
	svc.Bookings = bookingSvc

	verificationSvc, err := services.NewVerificationService(services.VerificationServiceDeps{
		Orders:      reg.Orders(),
		Bookings:    reg.Bookings(),
		Coupons:     reg.Coupons(),
		Enrollments: reg.Enrollments(),
		Evidence:    infra.Evidence,
		Policy:      policy,
		URLTTL:      cfg.Storage.SignedURLTTL,
		UnitOfWork:  reg,
		Clock:       clock,
		Events:      infra.Events,
		Audit:       svc.Audit,
		Sanitizer:   sanitizer,
		Observer:    infra.Observer,
		Logger:      observability.ServiceLogger(base.Named("verification")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build verification service: %w", err)
	}
	svc.Verification = verificationSvc

	return svc, nil
}
