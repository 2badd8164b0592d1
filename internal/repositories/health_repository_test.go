package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/masar-academy/api/internal/domain"
)

func TestProbeHealthRepositoryCollectSuccess(t *testing.T) {
	now := time.Date(2025, time.May, 1, 9, 30, 0, 0, time.UTC)
	repo, err := NewProbeHealthRepository([]DependencyProbe{
		{Name: "firestore", Probe: func(context.Context) error { return nil }},
		{Name: "redis", Probe: func(context.Context) error { return nil }},
	}, WithProbeClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	if report.Checks["redis"].CheckedAt != now {
		t.Fatalf("expected checkedAt %s, got %s", now, report.Checks["redis"].CheckedAt)
	}
}

func TestProbeHealthRepositoryOptionalFailureDegrades(t *testing.T) {
	repo, err := NewProbeHealthRepository([]DependencyProbe{
		{Name: "firestore", Probe: func(context.Context) error { return nil }},
		{Name: "postgres", Optional: true, Probe: func(context.Context) error { return errors.New("connection refused") }},
	})
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Checks["postgres"].Detail != "connection refused" {
		t.Fatalf("unexpected detail %q", report.Checks["postgres"].Detail)
	}
}

func TestProbeHealthRepositoryTimeout(t *testing.T) {
	repo, err := NewProbeHealthRepository([]DependencyProbe{
		{
			Name:    "firestore",
			Timeout: 5 * time.Millisecond,
			Probe: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	})
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if report.Checks["firestore"].Detail != "timeout" {
		t.Fatalf("expected timeout detail, got %q", report.Checks["firestore"].Detail)
	}
}

func TestNewProbeHealthRepositoryRejectsInvalidProbes(t *testing.T) {
	if _, err := NewProbeHealthRepository(nil); err == nil {
		t.Fatalf("expected error for empty probe set")
	}
	if _, err := NewProbeHealthRepository([]DependencyProbe{{Name: "x"}}); err == nil {
		t.Fatalf("expected error for missing probe function")
	}
}
