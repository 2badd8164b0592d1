package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/masar-academy/api/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func newBookingRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/bookings", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestMiddleware_MissingHeaderPassesThrough(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))

	calls := 0
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for range 2 {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newBookingRequest(`{"offeringId":"of-1"}`, ""))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler to run for every keyless request, got %d", calls)
	}
}

func TestMiddleware_RequireKeyRejectsMissingHeader(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), RequireKey())
	handler := middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when header is missing")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newBookingRequest(`{}`, ""))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"bk_1"}`))
		}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newBookingRequest(`{"offeringId":"of-1"}`, "abc-123"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newBookingRequest(`{"offeringId":"of-1"}`, "abc-123"))

	if calls != 1 {
		t.Fatalf("expected handler to be called once, got %d", calls)
	}
	if rr2.Code != http.StatusCreated {
		t.Fatalf("expected replayed status 201, got %d", rr2.Code)
	}
	if rr2.Header().Get(ReplayHeader) != "true" {
		t.Fatalf("expected replay header to be present")
	}
	if got := rr2.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %s", got)
	}
	if rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("expected response body %s, got %s", rr1.Body.String(), rr2.Body.String())
	}
}

func TestMiddleware_KeysAreScopedToIdentity(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls++
			w.WriteHeader(http.StatusCreated)
		}))

	for _, uid := range []string{"user-a", "user-b"} {
		req := newBookingRequest(`{"offeringId":"of-1"}`, "shared")
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Header().Get(ReplayHeader) != "" {
			t.Fatalf("did not expect a replay for %s", uid)
		}
	}
	if calls != 2 {
		t.Fatalf("expected each user to reach the handler, got %d calls", calls)
	}
}

func TestMiddleware_ConflictingFingerprint(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newBookingRequest(`{"offeringId":"of-1"}`, "same-key"))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first request success, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newBookingRequest(`{"offeringId":"of-2"}`, "same-key"))
	if rr2.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr2.Code)
	}
	assertErrorResponse(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservationReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler should not be invoked when reservation pending")
		}))

	req := newBookingRequest(`{"offeringId":"of-1"}`, "pending-key")
	body, err := bufferBody(req)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	caller := callerOf(req.Context())
	if _, _, err := store.Claim(req.Context(), caller+":pending-key", fingerprint(req, caller, body), fixedTime, time.Hour); err != nil {
		t.Fatalf("failed to seed claim: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorsAreNotStored(t *testing.T) {
	store := NewMemoryStore()
	status := http.StatusBadGateway
	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls++
			w.WriteHeader(status)
		}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newBookingRequest(`{}`, "retry-key"))
	if rr1.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 passthrough, got %d", rr1.Code)
	}

	status = http.StatusCreated
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newBookingRequest(`{}`, "retry-key"))
	if rr2.Code != http.StatusCreated {
		t.Fatalf("expected retry to reach handler, got %d", rr2.Code)
	}
	if calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls)
	}
}

func TestMiddleware_SaveFailureStillResponds(t *testing.T) {
	store := &stubStore{failComplete: true}
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("ok"))
		}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newBookingRequest(`{}`, "fail-key"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected handler response to be delivered, got %d", rr.Code)
	}
	if !store.abandoned {
		t.Fatalf("expected claim to be abandoned on failure")
	}
}

func TestMiddleware_StoreOutageReturnsUnavailable(t *testing.T) {
	store := &stubStore{failClaim: true}
	handler := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run without a reservation")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newBookingRequest(`{}`, "k"))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "service_unavailable")
}

func TestMiddleware_ReplayDropsHopHeaders(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Location", "/api/v1/orders/ord_1")
			w.Header().Set("X-Request-Id", "req-1")
			w.WriteHeader(http.StatusCreated)
		}))

	for range 2 {
		handler.ServeHTTP(httptest.NewRecorder(), newBookingRequest(`{}`, "hdr-key"))
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newBookingRequest(`{}`, "hdr-key"))

	if rr.Header().Get("Location") != "/api/v1/orders/ord_1" {
		t.Fatalf("expected Location to be replayed, got %q", rr.Header().Get("Location"))
	}
	if rr.Header().Get("X-Request-Id") != "" {
		t.Fatalf("did not expect X-Request-Id to be replayed")
	}
}

func TestMemoryStorePurge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, _, err := store.Claim(ctx, "a", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, _, err := store.Claim(ctx, "b", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if removed := store.Purge(fixedTime.Add(2*time.Minute), 0); removed != 1 {
		t.Fatalf("expected 1 expired entry, got %d", removed)
	}
	outcome, _, err := store.Claim(ctx, "b", "fp", fixedTime.Add(2*time.Minute), time.Hour)
	if err != nil || outcome != InFlight {
		t.Fatalf("expected live entry to survive purge, got %v %v", outcome, err)
	}
}

type stubStore struct {
	failClaim    bool
	failComplete bool
	abandoned    bool
}

func (s *stubStore) Claim(context.Context, string, string, time.Time, time.Duration) (Outcome, Entry, error) {
	if s.failClaim {
		return InFlight, Entry{}, errors.New("redis down")
	}
	return Acquired, Entry{}, nil
}

func (s *stubStore) Complete(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failComplete {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Abandon(context.Context, string, string) error {
	s.abandoned = true
	return nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
