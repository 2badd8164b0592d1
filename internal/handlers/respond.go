package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/platform/auth"
	"github.com/masar-academy/api/internal/platform/httpx"
	"github.com/masar-academy/api/internal/platform/pagination"
	"github.com/masar-academy/api/internal/platform/requestctx"
	"github.com/masar-academy/api/internal/services"
)

const defaultBodyLimit = 16 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and decodes a JSON body into dst, writing the error response itself.
// Unknown fields are rejected. When optional is set an empty body leaves dst untouched.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, optional bool, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	switch {
	case err == nil:
	case errors.Is(err, errEmptyBody) && optional:
		return true
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodePayloadTooLarge, "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	default:
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidRequest, err.Error(), http.StatusBadRequest))
		return false
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidRequest, "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// requireIdentity returns the authenticated caller or writes 401.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError(httpx.CodeUnauthenticated, "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

// writeServiceError maps service error kinds onto HTTP statuses. Codes come from the error itself
// so clients see the same identifiers the services log.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidRequest, "page_token is invalid", http.StatusBadRequest))
		return
	}

	var status int
	switch services.KindOf(err) {
	case services.KindValidation:
		status = http.StatusBadRequest
	case services.KindStateConflict:
		status = http.StatusConflict
	case services.KindNotFound:
		status = http.StatusNotFound
	case services.KindAuthorization:
		status = http.StatusForbidden
	case services.KindExternal:
		status = http.StatusServiceUnavailable
	case services.KindIntegrity:
		status = http.StatusInternalServerError
	default:
		requestctx.Logger(ctx).Error("unclassified service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInternal, "failed to process request", http.StatusInternalServerError))
		return
	}

	code := services.CodeOf(err)
	if code == "" {
		code = string(services.KindOf(err))
	}
	message := err.Error()
	if status >= http.StatusInternalServerError {
		requestctx.Logger(ctx).Warn("service dependency failure", zap.String("code", code), zap.Error(err))
		if status == http.StatusInternalServerError {
			message = "request could not be completed consistently"
		}
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func writeInvalid(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidRequest, message, http.StatusBadRequest))
}

// listQuery holds the pagination and created_at window shared by every listing.
type listQuery struct {
	page      domain.Pagination
	dateRange domain.RangeQuery[time.Time]
}

func parseListQuery(r *http.Request) (listQuery, error) {
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		return listQuery{}, err
	}
	q := listQuery{page: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}}
	values := r.URL.Query()
	if raw := strings.TrimSpace(values.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return listQuery{}, fmt.Errorf("created_after %w", err)
		}
		q.dateRange.From = &ts
	}
	if raw := strings.TrimSpace(values.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return listQuery{}, fmt.Errorf("created_before %w", err)
		}
		q.dateRange.To = &ts
	}
	return q, nil
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func formatTimePtr(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return formatTime(*ts)
}
