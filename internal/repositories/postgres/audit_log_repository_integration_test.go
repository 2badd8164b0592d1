//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "masar",
				"POSTGRES_PASSWORD": "masar",
				"POSTGRES_DB":       "audit",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://masar:masar@%s:%s/audit?sslmode=disable", host, port.Port())
}

func TestAuditLogRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	dsn := startPostgres(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	repo, err := NewAuditLogRepository(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	base := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		action := domain.AuditBookingCreated
		if i%2 == 1 {
			action = domain.AuditBookingCancelled
		}
		require.NoError(t, repo.Append(ctx, domain.AuditLogEntry{
			ID:         fmt.Sprintf("audit-%d", i),
			Actor:      "user-1",
			ActorType:  domain.ActorTypeUser,
			Action:     action,
			TargetType: "booking",
			TargetID:   "booking-1",
			Details:    map[string]any{"reason": "schedule"},
			Severity:   severityOf(action),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	t.Run("duplicate id conflicts", func(t *testing.T) {
		err := repo.Append(ctx, domain.AuditLogEntry{ID: "audit-0", Actor: "user-1", ActorType: domain.ActorTypeUser, Action: domain.AuditBookingCreated, TargetType: "booking", TargetID: "booking-1", Severity: domain.SeverityLow, CreatedAt: base})
		var repoErr repositories.RepositoryError
		require.ErrorAs(t, err, &repoErr)
		assert.True(t, repoErr.IsConflict())
	})

	t.Run("rows cannot be changed", func(t *testing.T) {
		_, err := repo.pool.Exec(ctx, `UPDATE audit_logs SET actor = 'someone' WHERE id = 'audit-0'`)
		require.Error(t, err)
		_, err = repo.pool.Exec(ctx, `DELETE FROM audit_logs WHERE id = 'audit-0'`)
		require.Error(t, err)
	})

	t.Run("pages newest first", func(t *testing.T) {
		first, err := repo.List(ctx, repositories.AuditLogFilter{TargetID: "booking-1", Pagination: domain.Pagination{PageSize: 3}})
		require.NoError(t, err)
		require.Len(t, first.Items, 3)
		assert.Equal(t, "audit-4", first.Items[0].ID)
		assert.Equal(t, "schedule", first.Items[0].Details["reason"])
		require.NotEmpty(t, first.NextPageToken)

		second, err := repo.List(ctx, repositories.AuditLogFilter{TargetID: "booking-1", Pagination: domain.Pagination{PageSize: 3, PageToken: first.NextPageToken}})
		require.NoError(t, err)
		require.Len(t, second.Items, 2)
		assert.Equal(t, "audit-0", second.Items[1].ID)
		assert.Empty(t, second.NextPageToken)
	})

	t.Run("filters by action", func(t *testing.T) {
		page, err := repo.List(ctx, repositories.AuditLogFilter{Action: domain.AuditBookingCancelled})
		require.NoError(t, err)
		require.Len(t, page.Items, 2)
		for _, e := range page.Items {
			assert.Equal(t, domain.SeverityHigh, e.Severity)
		}
	})
}

func severityOf(action domain.AuditAction) domain.AuditSeverity {
	severity, _ := action.Severity()
	return severity
}
