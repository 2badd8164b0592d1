package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/platform/requestctx"
	"github.com/masar-academy/api/internal/repositories"
)

const (
	defaultHasherPrefix  = "sha256:"
	defaultAuditPageSize = 50
	maxAuditPageSize     = 200
	maxAuditDetailDepth  = 4
)

var (
	ErrAuditInvalidAction = newError(KindValidation, "audit_invalid_action", "audit: action is not in the audited set")
	ErrAuditForbidden     = newError(KindAuthorization, "audit_forbidden", "audit: administrator role required")
	ErrAuditInvalidFilter = newError(KindValidation, "audit_invalid_filter", "audit: invalid filter")
)

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Sanitizer   TextSanitizer
	Logger      Logger
	HashSalt    string
}

type auditLogService struct {
	repo      repositories.AuditLogRepository
	clock     func() time.Time
	newID     func() string
	sanitizer TextSanitizer
	logger    Logger
	hashSalt  string
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	rt := newServiceRuntime(runtimeDeps{
		Clock:       deps.Clock,
		IDGenerator: deps.IDGenerator,
		Sanitizer:   deps.Sanitizer,
		Logger:      deps.Logger,
	})
	return &auditLogService{
		repo:      deps.Repository,
		clock:     rt.clock,
		newID:     rt.newID,
		sanitizer: rt.sanitizer,
		logger:    rt.logger,
		hashSalt:  deps.HashSalt,
	}, nil
}

// Record persists an audit log entry after sanitising it. Failures are logged and never returned
// so the audited mutation keeps its result.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	if client, ok := requestctx.Client(ctx); ok {
		record.IPAddress = firstNonEmpty(record.IPAddress, client.IPAddress)
		record.UserAgent = firstNonEmpty(record.UserAgent, client.UserAgent)
		record.RequestID = firstNonEmpty(record.RequestID, client.RequestID)
	}
	entry, err := s.buildEntry(record)
	if err != nil {
		s.logger(ctx, "audit.record.rejected", map[string]any{
			"action": string(record.Action),
			"error":  err.Error(),
		})
		return
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		event := "audit.append.failed"
		if entry.Action == domain.AuditIntegrityViolation {
			event = "audit.append.failed.integrity"
		}
		s.logger(ctx, event, map[string]any{
			"action":   string(entry.Action),
			"severity": string(entry.Severity),
			"target":   entry.TargetID,
			"error":    err.Error(),
		})
	}
}

// List returns audit entries for administrators. There is no other read or write surface.
func (s *auditLogService) List(ctx context.Context, actor Actor, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	if actor.Type != domain.ActorTypeAdmin {
		s.Record(ctx, AuditLogRecord{
			Actor:      actor.ID,
			ActorType:  actor.Type,
			Action:     domain.AuditUnauthorizedAccess,
			TargetType: "audit_log",
			Details:    map[string]any{"operation": "audit.list"},
		})
		return domain.CursorPage[AuditLogEntry]{}, ErrAuditForbidden
	}
	if filter.Action != "" && !filter.Action.Valid() {
		return domain.CursorPage[AuditLogEntry]{}, withDetail(ErrAuditInvalidFilter, "unknown action %q", filter.Action)
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return domain.CursorPage[AuditLogEntry]{}, withDetail(ErrAuditInvalidFilter, "unknown severity %q", filter.Severity)
	}
	filter.Actor = strings.TrimSpace(filter.Actor)
	filter.TargetType = strings.TrimSpace(filter.TargetType)
	filter.TargetID = strings.TrimSpace(filter.TargetID)
	filter.Pagination.PageSize = clampPageSize(filter.Pagination.PageSize, defaultAuditPageSize, maxAuditPageSize)

	page, err := s.repo.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[AuditLogEntry]{}, repositoryFailure(err, ErrAuditInvalidFilter, ErrAuditInvalidFilter)
	}
	return page, nil
}

func (s *auditLogService) buildEntry(record AuditLogRecord) (domain.AuditLogEntry, error) {
	severity, ok := record.Action.Severity()
	if !ok {
		return domain.AuditLogEntry{}, withDetail(ErrAuditInvalidAction, "%q", record.Action)
	}

	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	}

	actorType := record.ActorType
	if !actorType.Valid() {
		actorType = domain.ActorTypeSystem
	}

	entry := domain.AuditLogEntry{
		ID:         s.newID(),
		Actor:      sanitizeText(record.Actor, 160),
		ActorType:  actorType,
		Action:     record.Action,
		TargetType: sanitizeText(record.TargetType, 80),
		TargetID:   sanitizeText(record.TargetID, 200),
		Severity:   severity,
		RequestID:  sanitizeText(record.RequestID, 128),
		UserAgent:  sanitizeText(record.UserAgent, 256),
		CreatedAt:  occurred.UTC(),
	}
	if details := s.sanitizeDetails(record.Details, 0); len(details) > 0 {
		entry.Details = details
	}
	if ip := strings.TrimSpace(record.IPAddress); ip != "" {
		entry.IPHash = defaultHasherPrefix + s.hashString(ip)
	}
	return entry, nil
}

func (s *auditLogService) sanitizeDetails(details map[string]any, depth int) map[string]any {
	if len(details) == 0 {
		return nil
	}
	result := make(map[string]any, len(details))
	for key, value := range details {
		trimmedKey := sanitizeText(key, 80)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = s.sanitizeValue(value, depth)
	}
	return result
}

func (s *auditLogService) sanitizeValue(value any, depth int) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return sanitizeText(s.sanitizer.Sanitize(v), 512)
	case fmt.Stringer:
		return sanitizeText(s.sanitizer.Sanitize(v.String()), 512)
	case time.Time:
		return v.UTC()
	case map[string]any:
		if depth >= maxAuditDetailDepth {
			return nil
		}
		return s.sanitizeDetails(v, depth+1)
	case []string:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, sanitizeText(s.sanitizer.Sanitize(item), 512))
		}
		return out
	case []any:
		if depth >= maxAuditDetailDepth {
			return nil
		}
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, s.sanitizeValue(item, depth+1))
		}
		return out
	default:
		return v
	}
}

func (s *auditLogService) hashString(value string) string {
	sum := sha256.Sum256([]byte(s.hashSalt + strings.TrimSpace(value)))
	return hex.EncodeToString(sum[:])
}

func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	count := 0
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		count++
		if count >= limit {
			break
		}
	}
	return builder.String()
}
