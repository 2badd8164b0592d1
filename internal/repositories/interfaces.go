package repositories

import (
	"context"
	"time"

	domain "github.com/masar-academy/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Bookings() BookingRepository
	Orders() OrderRepository
	Coupons() CouponRepository
	Catalog() CatalogRepository
	Enrollments() EnrollmentRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Implementations that are backed by Firestore require every read inside fn to happen before
// the first write.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// BookingRepository persists bookings together with the per (user, offering) active-booking guard.
type BookingRepository interface {
	// Insert claims the active-booking guard and stores the booking in one atomic unit. A guard
	// that is already held yields a BookingError with code BookingErrorDuplicateActive.
	Insert(ctx context.Context, booking domain.Booking) error
	// Update replaces the booking when its stored version equals expectedVersion and returns the
	// stored copy with the incremented version.
	Update(ctx context.Context, update BookingUpdate) (domain.Booking, error)
	FindByID(ctx context.Context, bookingID string) (domain.Booking, error)
	List(ctx context.Context, filter BookingListFilter) (domain.CursorPage[domain.Booking], error)
	ListSessionsEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Booking, error)
}

// BookingUpdate describes a versioned booking write.
type BookingUpdate struct {
	Booking         domain.Booking
	ExpectedVersion int64
	// ReleaseGuard is set when the booking leaves the active set so a new booking may be created.
	ReleaseGuard bool
}

// OrderRepository persists financial order records.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order, expectedVersion int64) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// CouponRepository persists coupons and their redemption ledger.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon, expectedVersion int64) (domain.Coupon, error)
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	FindRedemption(ctx context.Context, code, userID string) (domain.CouponRedemption, error)
	List(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error)
	// Redeem is the single atomic conditional update that checks the use cap and the per-user
	// uniqueness, appends the redemption and increments usedCount.
	Redeem(ctx context.Context, code string, redemption domain.CouponRedemption) (CouponRedeemResult, error)
	// Release gives back the use held by (userID, orderID). Releasing a use that is not held is a
	// no-op.
	Release(ctx context.Context, code, userID, orderID string) error
}

// CouponRedeemResult reports the coupon state after a redemption attempt.
type CouponRedeemResult struct {
	Coupon domain.Coupon
	// Replayed is true when the same (user, order) redemption was already recorded.
	Replayed bool
}

// CatalogRepository reads the consultation and course catalog owned by the content system.
type CatalogRepository interface {
	FindConsultation(ctx context.Context, offeringID string) (domain.ConsultationOffering, error)
	FindCourse(ctx context.Context, courseID string) (domain.Course, error)
}

// EnrollmentRepository grants course access after a course order completes.
type EnrollmentRepository interface {
	Grant(ctx context.Context, enrollment domain.CourseEnrollment) error
}

// AuditLogRepository persists immutable audit trail entries. No update or delete is exposed.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// CounterRepository hands out gap-free sequence values. Next returns the value after the last one
// issued for counterID, starting at 1, and fails with *CounterError once limit would be exceeded.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, limit int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// BookingListFilter narrows booking listings.
type BookingListFilter struct {
	UserID     string
	OfferingID string
	Status     []domain.BookingStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID             string
	BookingID          string
	Status             []domain.OrderStatus
	PaymentMethod      domain.PaymentMethod
	VerificationStatus domain.VerificationStatus
	DateRange          domain.RangeQuery[time.Time]
	Pagination         domain.Pagination
}

// CouponListFilter narrows coupon listings for administrators.
type CouponListFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}

// AuditLogFilter narrows audit log queries.
type AuditLogFilter struct {
	Actor      string
	Action     domain.AuditAction
	Severity   domain.AuditSeverity
	TargetType string
	TargetID   string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

