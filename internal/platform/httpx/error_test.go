package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masar-academy/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("booking_duplicate_active", "an active booking\nexists", http.StatusConflict).
		WithRequestID("req-1").
		WithDetails(map[string]any{"bookingId": "bk_1"}))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "booking_duplicate_active", payload["error"])
	assert.Equal(t, "an active booking exists", payload["message"])
	assert.Equal(t, float64(http.StatusConflict), payload["status"])
	assert.Equal(t, "req-1", payload["request_id"])
	assert.Equal(t, "abc123", payload["trace_id"])
	assert.Equal(t, map[string]any{"bookingId": "bk_1"}, payload["details"])
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	err := NewError(CodeInternal, "boom", 0)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
}

func TestNewErrorTruncatesOnRuneBoundary(t *testing.T) {
	message := strings.Repeat("حجز", 200)
	err := NewError(CodeConflict, message, http.StatusConflict)

	assert.Len(t, []rune(err.Message), maxMessageLength)
	assert.True(t, utf8.ValidString(err.Message))
	assert.Equal(t, "conflict: "+err.Message, err.Error())
}

func TestWriteErrorOmitsEmptyFields(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError(CodeNotFound, "booking not found", http.StatusNotFound))

	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.NotContains(t, payload, "request_id")
	assert.NotContains(t, payload, "trace_id")
	assert.NotContains(t, payload, "details")
}
