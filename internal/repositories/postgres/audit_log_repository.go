// Package postgres stores the audit trail in PostgreSQL when a relational, append-only store is
// preferred over the Firestore collection.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/platform/pagination"
	"github.com/masar-academy/api/internal/repositories"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultListLimit = 20

// AuditLogRepository implements repositories.AuditLogRepository over a pgx pool. Rows are only
// ever inserted; a trigger rejects UPDATE and DELETE.
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// NewAuditLogRepository connects to dsn and applies the embedded migrations.
func NewAuditLogRepository(ctx context.Context, dsn string) (*AuditLogRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &AuditLogRepository{pool: pool}
	if err := r.runMigrations(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *AuditLogRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Ping reports whether the pool can reach the database.
func (r *AuditLogRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *AuditLogRepository) Close() {
	r.pool.Close()
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, actor, actor_type, action, target_type, target_id, details, severity, ip_hash, user_agent, request_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), $12)`,
		entry.ID, entry.Actor, string(entry.ActorType), string(entry.Action), entry.TargetType, entry.TargetID,
		entry.Details, string(entry.Severity), entry.IPHash, entry.UserAgent, entry.RequestID, entry.CreatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return repositories.ConflictError("audit.append", "entry %s already exists", entry.ID)
		}
		return classify("audit.append", err)
	}
	return nil
}

func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = defaultListLimit
	}

	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if filter.Actor != "" {
		add("actor = ?", filter.Actor)
	}
	if filter.Action != "" {
		add("action = ?", string(filter.Action))
	}
	if filter.Severity != "" {
		add("severity = ?", string(filter.Severity))
	}
	if filter.TargetType != "" {
		add("target_type = ?", filter.TargetType)
	}
	if filter.TargetID != "" {
		add("target_id = ?", filter.TargetID)
	}
	if from := filter.DateRange.From; from != nil {
		add("created_at >= ?", from.UTC())
	}
	if to := filter.DateRange.To; to != nil {
		add("created_at <= ?", to.UTC())
	}
	cursor, err := pagination.ParseToken(filter.Pagination.PageToken)
	if err == nil {
		err = cursor.RequireCreated()
	}
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, fmt.Errorf("audit log repository: invalid page token: %w", err)
	}
	if !cursor.IsZero() {
		args = append(args, cursor.CreatedAt, cursor.After)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `SELECT id, actor, actor_type, action, target_type, target_id, details, severity,
		COALESCE(ip_hash, ''), COALESCE(user_agent, ''), COALESCE(request_id, ''), created_at FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, classify("audit.list", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditLogEntry, error) {
		var (
			e                           domain.AuditLogEntry
			actorType, action, severity string
		)
		err := row.Scan(&e.ID, &e.Actor, &actorType, &action, &e.TargetType, &e.TargetID, &e.Details,
			&severity, &e.IPHash, &e.UserAgent, &e.RequestID, &e.CreatedAt)
		e.ActorType = domain.ActorType(actorType)
		e.Action = domain.AuditAction(action)
		e.Severity = domain.AuditSeverity(severity)
		e.CreatedAt = e.CreatedAt.UTC()
		return e, err
	})
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, classify("audit.list", err)
	}

	var next string
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		next = pagination.AfterCreated(last.CreatedAt, last.ID).Token()
	}
	return domain.CursorPage[domain.AuditLogEntry]{Items: items, NextPageToken: next}, nil
}
