package observability

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/masar-academy/api/internal/platform/auth"
	"github.com/masar-academy/api/internal/platform/httpx"
	"github.com/masar-academy/api/internal/platform/requestctx"
)

const (
	forwardedForHeader = "X-Forwarded-For"
	maxRouteLength     = 180
	maxIdentLength     = 64
	maxAgentLength     = 256
)

// InjectLoggerMiddleware makes logger the request-scoped base logger.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware enriches the request logger with request, trace and caller fields,
// records the caller metadata used by the audit log and writes one completion line per request.
// Route and resource id are resolved after routing so they reflect the matched pattern.
func RequestLoggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			traceInfo, _ := requestctx.Trace(ctx)
			requestID := middleware.GetReqID(ctx)
			ip := clientIP(r)

			logger := WithRequestFields(requestctx.Logger(ctx),
				zap.String("request_id", requestID),
				zap.String("method", logSafe(r.Method, 10)),
				zap.String("trace_id", traceInfo.TraceID),
			)
			if name := traceInfo.ResourceName(); name != "" {
				logger = logger.With(zap.String("logging.googleapis.com/trace", name))
			}
			if ip != "" {
				logger = logger.With(zap.String("remote_ip", ip))
			}

			ctx = requestctx.WithLogger(ctx, logger)
			ctx = requestctx.WithClient(ctx, requestctx.ClientInfo{
				IPAddress: ip,
				UserAgent: logSafe(r.UserAgent(), maxAgentLength),
				RequestID: requestID,
			})
			r = r.WithContext(ctx)

			recorder := &statusRecorder{ResponseWriter: w}
			start := time.Now()

			panicked := true
			defer func() {
				status := recorder.Status()
				if panicked && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				route := matchedRoute(r)
				annotateSpan(trace.SpanFromContext(ctx), route, status)

				fields := []zap.Field{
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int64("bytes", recorder.bytes),
				}
				if id := resourceID(r); id != "" {
					fields = append(fields, zap.String("resource_id", id))
				}
				if uid, role := callerFields(r.Context()); uid != "" {
					fields = append(fields, zap.String("user_id", uid), zap.String("role", role))
				}

				switch {
				case status >= http.StatusInternalServerError:
					logger.Error("request completed", fields...)
				case status >= http.StatusBadRequest:
					logger.Warn("request completed", fields...)
				default:
					logger.Info("request completed", fields...)
				}
			}()

			next.ServeHTTP(recorder, r)
			panicked = false
		})
	}
}

// RecoveryMiddleware turns a panic into the standard JSON 500 envelope and logs the stack.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				ctx := r.Context()
				logger := requestctx.Logger(ctx)
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeInternal, "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// callerFields reports the authenticated uid and its highest role. The identity is attached by
// route-group middleware, so it is read from the request the handler saw.
func callerFields(ctx context.Context) (string, string) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return "", ""
	}
	return logSafe(identity.UID, maxIdentLength), identity.PrimaryRole()
}

func matchedRoute(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return logSafe(pattern, maxRouteLength)
		}
	}
	if r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return logSafe(r.URL.Path, maxRouteLength)
}

// resourceID returns the innermost route parameter, which is the booking, order or coupon id.
func resourceID(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || len(rctx.URLParams.Values) == 0 {
		return ""
	}
	return logSafe(rctx.URLParams.Values[len(rctx.URLParams.Values)-1], maxIdentLength)
}

// clientIP prefers the first X-Forwarded-For hop set by the Cloud Run front end.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get(forwardedForHeader); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return logSafe(addr, maxIdentLength)
}

func annotateSpan(span trace.Span, route string, status int) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(status), attribute.String("http.route", route))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
		return
	}
	span.SetStatus(codes.Ok, "")
}

// logSafe drops control characters and truncates to limit runes.
func logSafe(value string, limit int) string {
	var b strings.Builder
	count := 0
	for _, r := range value {
		if count == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
