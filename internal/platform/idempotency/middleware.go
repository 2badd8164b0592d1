package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/masar-academy/api/internal/platform/auth"
	"github.com/masar-academy/api/internal/platform/httpx"
)

const (
	defaultHeader = "Idempotency-Key"
	// ReplayHeader marks a response served from a stored entry.
	ReplayHeader = "Idempotent-Replayed"
	maxKeyLength = 255
)

type options struct {
	header   string
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
	required bool
}

// Option customises Middleware.
type Option func(*options)

// WithHeader reads the key from name instead of Idempotency-Key.
func WithHeader(name string) Option {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.header = name
		}
	}
}

// WithTTL sets how long claimed and completed keys are kept.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// RequireKey rejects mutating requests that carry no key. By default they pass through.
func RequireKey() Option {
	return func(o *options) { o.required = true }
}

// Middleware makes mutating requests safe to retry. The first request for a caller-scoped key
// runs; retries with the same payload get the stored response, a concurrent duplicate gets 409 and
// reuse with a different payload gets 422. Responses of 5xx are not stored so the client can retry.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	o := options{header: defaultHeader, ttl: DefaultTTL, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(o.header))
			switch {
			case key == "" && o.required:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+o.header+" header", http.StatusBadRequest))
				return
			case key == "":
				next.ServeHTTP(w, r)
				return
			case len(key) > maxKeyLength:
				httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidRequest, o.header+" is too long", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInvalidRequest, "unable to read request body", http.StatusBadRequest))
				return
			}
			caller := callerOf(ctx)
			scoped := caller + ":" + key
			fp := fingerprint(r, caller, body)
			logger := o.logger.With(zap.String("caller", caller))

			outcome, entry, err := store.Claim(ctx, scoped, fp, o.now().UTC(), o.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				logger.Error("idempotency claim failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			case outcome == Replay:
				replay(w, *entry.Response)
				return
			case outcome == InFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			buf := &bufferedWriter{header: make(http.Header)}
			next.ServeHTTP(buf, r)

			if buf.status() >= http.StatusInternalServerError {
				abandon(ctx, store, scoped, fp, logger)
			} else {
				resp := Response{Status: buf.status(), Header: buf.header, Body: buf.body.Bytes()}
				if err := store.Complete(ctx, scoped, fp, resp, o.now().UTC(), o.ttl); err != nil {
					// The mutation happened; the client still gets its answer but cannot replay it.
					logger.Error("idempotency complete failed", zap.Error(err))
					abandon(ctx, store, scoped, fp, logger)
				}
			}
			if err := buf.flushTo(w); err != nil {
				logger.Debug("idempotency flush failed", zap.Error(err))
			}
		})
	}
}

func abandon(ctx context.Context, store Store, key, fp string, logger *zap.Logger) {
	if err := store.Abandon(context.WithoutCancel(ctx), key, fp); err != nil {
		logger.Warn("idempotency abandon failed", zap.Error(err))
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// callerOf scopes keys to the Firebase user or the OIDC service account making the call.
func callerOf(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return "user/" + identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "service/" + svc.Subject
	}
	return "anonymous"
}

func fingerprint(r *http.Request, caller string, body []byte) string {
	return digest(
		[]byte(r.Method),
		[]byte(r.URL.Path),
		[]byte(r.URL.RawQuery),
		[]byte(caller),
		body,
	)
}

func replay(w http.ResponseWriter, resp Response) {
	header := w.Header()
	for name, values := range resp.Header {
		header[name] = append([]string(nil), values...)
	}
	header.Set(ReplayHeader, "true")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

// bufferedWriter holds the handler response until the entry has been stored.
type bufferedWriter struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.code == 0 {
		b.code = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.code == 0 {
		b.code = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) status() int {
	if b.code == 0 {
		return http.StatusOK
	}
	return b.code
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = values
	}
	w.WriteHeader(b.status())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
