package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/masar-academy/api/internal/repositories"
)

// ErrCounterExhausted is returned when a day or year has used every reference its format allows.
var ErrCounterExhausted = newError(KindExternal, "reference_exhausted", "reference sequence exhausted")

// referenceFormat describes one family of references: a counter per period, rendered with a
// fixed-width sequence number.
type referenceFormat struct {
	scope  string
	period func(time.Time) string
	render func(period string, seq int64) string
	limit  int64
}

var (
	bookingReferences = referenceFormat{
		scope:  "bookings",
		period: func(t time.Time) string { return t.Format("20060102") },
		render: func(day string, seq int64) string { return fmt.Sprintf("BK-%s-%04d", day, seq) },
		limit:  9999,
	}
	orderNumbers = referenceFormat{
		scope:  "orders",
		period: func(t time.Time) string { return t.Format("2006") },
		render: func(year string, seq int64) string { return fmt.Sprintf("MA-%s-%06d", year, seq) },
		limit:  999999,
	}
)

type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time
}

func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &counterService{repo: deps.Repository, clock: clock}, nil
}

// NextBookingReference issues BK-YYYYMMDD-NNNN, numbered per UTC day.
func (s *counterService) NextBookingReference(ctx context.Context, now time.Time) (string, error) {
	return s.issue(ctx, bookingReferences, now)
}

// NextOrderNumber issues MA-YYYY-NNNNNN, numbered per UTC year.
func (s *counterService) NextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	return s.issue(ctx, orderNumbers, now)
}

func (s *counterService) issue(ctx context.Context, format referenceFormat, now time.Time) (string, error) {
	if now.IsZero() {
		now = s.clock()
	}
	period := format.period(now.UTC())
	seq, err := s.repo.Next(ctx, format.scope+":"+period, format.limit)
	if err != nil {
		var exhausted *repositories.CounterError
		if errors.As(err, &exhausted) {
			return "", withDetail(ErrCounterExhausted, "%s", exhausted.CounterID)
		}
		return "", err
	}
	return format.render(period, seq), nil
}
