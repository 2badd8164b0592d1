package handlers

import (
	"net/http"
	"strings"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/services"
)

func (h *AdminHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		writeUnavailable(ctx, w, "audit")
		return
	}
	actor, ok := adminActor(w, r)
	if !ok {
		return
	}
	query, err := parseListQuery(r)
	if err != nil {
		writeInvalid(ctx, w, err.Error())
		return
	}
	values := r.URL.Query()
	filter := services.AuditLogFilter{
		Actor:      strings.TrimSpace(values.Get("actor")),
		Action:     domain.AuditAction(strings.ToLower(strings.TrimSpace(values.Get("action")))),
		Severity:   domain.AuditSeverity(strings.ToLower(strings.TrimSpace(values.Get("severity")))),
		TargetType: strings.TrimSpace(values.Get("target_type")),
		TargetID:   strings.TrimSpace(values.Get("target_id")),
		DateRange:  query.dateRange,
		Pagination: query.page,
	}

	page, err := h.audit.List(ctx, actor, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildList(page, buildAuditEntryPayload))
}
