package services

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/repositories"
)

// Logger is the structured logging hook accepted by every service. cmd/api adapts it to zap.
type Logger func(ctx context.Context, event string, fields map[string]any)

// TransitionObserver is notified after a booking or order status change commits.
type TransitionObserver interface {
	ObserveTransition(ctx context.Context, aggregate, from, to string)
}

// serviceRuntime carries the collaborators shared by the booking, order, verification and coupon
// services.
type serviceRuntime struct {
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	newEventID func() string
	events     DomainEventPublisher
	audit      AuditLogService
	sanitizer  TextSanitizer
	observer   TransitionObserver
	logger     Logger
}

type runtimeDeps struct {
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      DomainEventPublisher
	Audit       AuditLogService
	Sanitizer   TextSanitizer
	Observer    TransitionObserver
	Logger      Logger
}

func newServiceRuntime(deps runtimeDeps) serviceRuntime {
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = trimSanitizer{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return serviceRuntime{
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		newEventID: func() string { return uuid.NewString() },
		events:     deps.Events,
		audit:      deps.Audit,
		sanitizer:  sanitizer,
		observer:   deps.Observer,
		logger:     logger,
	}
}

func (r serviceRuntime) now() time.Time {
	return r.clock()
}

func (r serviceRuntime) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return r.unitOfWork.RunInTx(ctx, fn)
}

func (r serviceRuntime) clean(value string) string {
	return r.sanitizer.Sanitize(value)
}

// publish delivers a domain event after commit. Failures are logged, never returned.
func (r serviceRuntime) publish(ctx context.Context, event DomainEvent) {
	if r.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = r.newEventID()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now()
	}
	if event.Payload != nil {
		event.Payload = maps.Clone(event.Payload)
	}
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger(ctx, "event.publish.failed", map[string]any{
			"type":      event.Type,
			"aggregate": event.AggregateType,
			"id":        event.AggregateID,
			"error":     err.Error(),
		})
	}
}

func (r serviceRuntime) record(ctx context.Context, actor domain.Actor, action domain.AuditAction, targetType, targetID string, details map[string]any) {
	if r.audit == nil {
		return
	}
	r.audit.Record(ctx, AuditLogRecord{
		Actor:      actor.ID,
		ActorType:  actor.Type,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		OccurredAt: r.now(),
	})
}

func (r serviceRuntime) observe(ctx context.Context, aggregate string, from, to string) {
	if r.observer == nil || from == to {
		return
	}
	r.observer.ObserveTransition(ctx, aggregate, from, to)
}

// requireAdmin rejects non-admin actors and records the attempt.
func (r serviceRuntime) requireAdmin(ctx context.Context, actor domain.Actor, op, targetType, targetID string, denied *Error) error {
	if actor.Type == domain.ActorTypeAdmin {
		return nil
	}
	r.denied(ctx, actor, op, targetType, targetID)
	return withDetail(denied, "%s requires an administrator", op)
}

// requireAdminOrSystem allows administrators and automated callers.
func (r serviceRuntime) requireAdminOrSystem(ctx context.Context, actor domain.Actor, op, targetType, targetID string, denied *Error) error {
	if actor.Type == domain.ActorTypeAdmin || actor.Type == domain.ActorTypeSystem {
		return nil
	}
	r.denied(ctx, actor, op, targetType, targetID)
	return withDetail(denied, "%s requires an administrator", op)
}

// requireOwner allows the resource owner and administrators.
func (r serviceRuntime) requireOwner(ctx context.Context, actor domain.Actor, ownerID, op, targetType, targetID string, denied *Error) error {
	if actor.Type == domain.ActorTypeAdmin || actor.Type == domain.ActorTypeSystem {
		return nil
	}
	if actor.Type == domain.ActorTypeUser && strings.TrimSpace(actor.ID) != "" && actor.ID == ownerID {
		return nil
	}
	r.denied(ctx, actor, op, targetType, targetID)
	return withDetail(denied, "%s is restricted to the owner", op)
}

func (r serviceRuntime) denied(ctx context.Context, actor domain.Actor, op, targetType, targetID string) {
	r.logger(ctx, "authorization.denied", map[string]any{
		"operation": op,
		"actor":     actor.ID,
		"actorType": string(actor.Type),
		"target":    targetID,
	})
	r.record(ctx, actor, domain.AuditUnauthorizedAccess, targetType, targetID, map[string]any{
		"operation": op,
	})
}

// reportIntegrity records an aborted cross-entity mutation at the highest severity.
func (r serviceRuntime) reportIntegrity(ctx context.Context, actor domain.Actor, targetType, targetID string, details map[string]any) {
	fields := maps.Clone(details)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["severity"] = string(domain.SeverityHigh)
	fields["target"] = targetID
	r.logger(ctx, "integrity.violation", fields)
	r.record(ctx, actor, domain.AuditIntegrityViolation, targetType, targetID, details)
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type trimSanitizer struct{}

func (trimSanitizer) Sanitize(input string) string {
	return strings.TrimSpace(input)
}

// repositoryFailure classifies persistence errors that carry no domain code.
func repositoryFailure(err error, notFound, conflict *Error) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return withCause(notFound, err)
		case repoErr.IsConflict():
			return withCause(conflict, err)
		case repoErr.IsUnavailable():
			return withCause(ErrRepositoryUnavailable, err)
		}
	}
	return err
}

// ErrRepositoryUnavailable marks a storage outage. State is unchanged and the caller may retry.
var ErrRepositoryUnavailable = newError(KindExternal, "repository_unavailable", "repository unavailable")

func clampPageSize(size, def, max int) int {
	if size <= 0 {
		return def
	}
	if size > max {
		return max
	}
	return size
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
