package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/platform/auth"
	"github.com/masar-academy/api/internal/platform/requestctx"
	"github.com/masar-academy/api/internal/services"
)

const maxInternalBodySize = 4 * 1024

type sweepRequest struct {
	Limit int    `json:"limit"`
	Now   string `json:"now"`
}

type sweepResponse struct {
	Completed []string          `json:"completed"`
	Skipped   map[string]string `json:"skipped"`
}

// InternalHandlers serves scheduler-triggered maintenance endpoints mounted under /internal.
type InternalHandlers struct {
	bookings services.BookingService
}

// NewInternalHandlers constructs internal handlers.
func NewInternalHandlers(bookings services.BookingService) *InternalHandlers {
	return &InternalHandlers{bookings: bookings}
}

// Routes registers internal endpoints. Authentication is applied by the router group.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/bookings:sweep", h.sweepSessions)
}

func (h *InternalHandlers) sweepSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeUnavailable(ctx, w, "booking")
		return
	}
	var req sweepRequest
	if !decodeJSONBody(w, r, maxInternalBodySize, true, &req) {
		return
	}
	if req.Limit < 0 {
		writeInvalid(ctx, w, "limit must not be negative")
		return
	}
	cmd := services.SweepSessionsCommand{Actor: schedulerActor(r), Limit: req.Limit}
	if raw := strings.TrimSpace(req.Now); raw != "" {
		now, err := parseTimeParam(raw)
		if err != nil {
			writeInvalid(ctx, w, "now must be an RFC3339 timestamp")
			return
		}
		cmd.Now = now
	}

	result, err := h.bookings.SweepElapsedSessions(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.Logger(ctx).Info("session sweep finished",
		zap.Int("completed", len(result.Completed)),
		zap.Int("skipped", len(result.Skipped)),
	)
	resp := sweepResponse{Completed: result.Completed, Skipped: result.Skipped}
	if resp.Completed == nil {
		resp.Completed = []string{}
	}
	if resp.Skipped == nil {
		resp.Skipped = map[string]string{}
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func schedulerActor(r *http.Request) domain.Actor {
	if identity, ok := auth.ServiceIdentityFromContext(r.Context()); ok {
		if email := strings.TrimSpace(identity.Email); email != "" {
			return domain.SystemActor(email)
		}
		if subject := strings.TrimSpace(identity.Subject); subject != "" {
			return domain.SystemActor(subject)
		}
	}
	return domain.SystemActor("scheduler")
}
