package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/masar-academy/api/internal/domain"
	pfirestore "github.com/masar-academy/api/internal/platform/firestore"
	"github.com/masar-academy/api/internal/repositories"
)

// AuditLogRepository appends audit entries with Create so an existing entry can never be replaced.
type AuditLogRepository struct {
	logs *pfirestore.Collection[auditLogDocument]
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// NewAuditLogRepository constructs a Firestore-backed audit log.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{
		logs: pfirestore.NewCollection[auditLogDocument](provider, auditLogsCollection),
	}, nil
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	ref, err := r.logs.Ref(ctx, entry.ID)
	if err != nil {
		return err
	}
	_, err = ref.Create(ctx, encodeAuditLog(entry))
	if status.Code(err) == codes.AlreadyExists {
		return repositories.ConflictError("audit.append", "entry %s already exists", entry.ID)
	}
	return wrap("audit.append", err)
}

func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	cursor, err := parseCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, fmt.Errorf("audit log repository: invalid page token: %w", err)
	}
	limit := pageLimit(filter.Pagination.PageSize)

	docs, err := r.logs.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Actor != "" {
			q = q.Where("actor", "==", filter.Actor)
		}
		if filter.Action != "" {
			q = q.Where("action", "==", string(filter.Action))
		}
		if filter.Severity != "" {
			q = q.Where("severity", "==", string(filter.Severity))
		}
		if filter.TargetType != "" {
			q = q.Where("targetType", "==", filter.TargetType)
		}
		if filter.TargetID != "" {
			q = q.Where("targetId", "==", filter.TargetID)
		}
		if from := filter.DateRange.From; from != nil {
			q = q.Where("createdAt", ">=", from.UTC())
		}
		if to := filter.DateRange.To; to != nil {
			q = q.Where("createdAt", "<=", to.UTC())
		}
		return createdAtPage(q, cursor, limit)
	})
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}
	docs, next := trimPage(docs, limit, func(d auditLogDocument) time.Time { return d.CreatedAt })
	items := make([]domain.AuditLogEntry, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeAuditLog(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.AuditLogEntry]{Items: items, NextPageToken: next}, nil
}
