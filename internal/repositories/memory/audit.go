package memory

import (
	"context"
	"slices"
	"strings"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

// AuditLogRepository is an append-only slice of entries.
type AuditLogRepository struct {
	store *Store
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	defer r.store.lock(ctx)()
	for _, existing := range r.store.data.audit {
		if existing.ID == entry.ID {
			return repositories.ConflictError("audit.append", "entry %s already exists", entry.ID)
		}
	}
	r.store.data.audit = append(r.store.data.audit, entry)
	return nil
}

func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	defer r.store.lock(ctx)()
	var items []domain.AuditLogEntry
	for _, e := range r.store.data.audit {
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Severity != "" && e.Severity != filter.Severity {
			continue
		}
		if filter.TargetType != "" && e.TargetType != filter.TargetType {
			continue
		}
		if filter.TargetID != "" && e.TargetID != filter.TargetID {
			continue
		}
		if !filter.DateRange.Contains(e.CreatedAt, domain.TimeBefore) {
			continue
		}
		items = append(items, e)
	}
	slices.SortStableFunc(items, func(a, b domain.AuditLogEntry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return page(items, filter.Pagination, func(e domain.AuditLogEntry) string { return e.ID })
}

// Entries returns every entry in append order.
func (r *AuditLogRepository) Entries() []domain.AuditLogEntry {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return slices.Clone(r.store.data.audit)
}
