package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/masar-academy/api/internal/platform/httpx"
)

// RouteRegistrar adds one surface's routes to r.
type RouteRegistrar func(r chi.Router)

type surfaceName string

const (
	surfaceBookings      surfaceName = "bookings"
	surfaceOrders        surfaceName = "orders"
	surfaceCoupons       surfaceName = "coupons"
	surfaceBankTransfers surfaceName = "bank-transfers"
	surfaceAdmin         surfaceName = "admin"
	surfaceWebhooks      surfaceName = "webhooks"
	surfaceInternal      surfaceName = "internal"
)

// surface is a group of routes under the API base path. A surface with a method set is a single
// collection-level custom method, such as POST /coupons:validate, registered beside its resource.
type surface struct {
	path        string
	method      string
	routes      RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

// mountOrder fixes registration order so chi sees resource groups before root custom methods.
var mountOrder = []surfaceName{
	surfaceBookings,
	surfaceOrders,
	surfaceCoupons,
	surfaceBankTransfers,
	surfaceAdmin,
	surfaceWebhooks,
	surfaceInternal,
}

func defaultSurfaces() map[surfaceName]*surface {
	return map[surfaceName]*surface{
		surfaceBookings:      {path: "/bookings"},
		surfaceOrders:        {path: "/orders"},
		surfaceCoupons:       {path: "/coupons:validate", method: http.MethodPost},
		surfaceBankTransfers: {path: "/bank-transfers:upload-url", method: http.MethodPost},
		surfaceAdmin:         {path: "/admin"},
		surfaceWebhooks:      {path: "/webhooks"},
		surfaceInternal:      {path: "/internal"},
	}
}

type routerConfig struct {
	basePath    string
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	surfaces    map[surfaceName]*surface
}

type Option func(*routerConfig)

const (
	defaultAPIPrefix      = "/api/v1"
	defaultRequestTimeout = 60 * time.Second
	errorNotFoundCode     = "route_not_found"
)

// NewRouter builds the HTTP surface: health probes at the root and every API group under
// /api/v1. Groups without a registrar answer 501 so clients can tell a disabled surface from a
// typo.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		timeout:  defaultRequestTimeout,
		surfaces: defaultSurfaces(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range mountOrder {
			mountSurface(api, name, cfg.surfaces[name])
		}
	})
	return r
}

func mountSurface(api chi.Router, name surfaceName, s *surface) {
	if s.method != "" {
		// Custom methods register absolute paths, so the registrar receives the API router.
		api.Group(func(group chi.Router) {
			group.Use(s.middlewares...)
			if s.routes != nil {
				s.routes(group)
				return
			}
			group.MethodFunc(s.method, s.path, notImplemented(name))
		})
		return
	}
	api.Route(s.path, func(group chi.Router) {
		group.Use(s.middlewares...)
		if s.routes != nil {
			s.routes(group)
			return
		}
		handler := notImplemented(name)
		group.HandleFunc("/", handler)
		group.HandleFunc("/*", handler)
		group.NotFound(handler)
		group.MethodNotAllowed(handler)
	})
}

func notImplemented(name surfaceName) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes are not enabled", name), http.StatusNotImplemented))
	}
}

func withSurface(name surfaceName, apply func(*surface)) Option {
	return func(cfg *routerConfig) {
		if s, ok := cfg.surfaces[name]; ok {
			apply(s)
		}
	}
}

func withRoutes(name surfaceName, reg RouteRegistrar) Option {
	return withSurface(name, func(s *surface) { s.routes = reg })
}

func withGroupMiddlewares(name surfaceName, mw []func(http.Handler) http.Handler) Option {
	return withSurface(name, func(s *surface) {
		for _, m := range mw {
			if m != nil {
				s.middlewares = append(s.middlewares, m)
			}
		}
	})
}

// WithMiddlewares appends global middleware, run after request id, real ip and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithRequestTimeout bounds every request context. Non-positive values keep the default.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

func WithBookingRoutes(reg RouteRegistrar) Option { return withRoutes(surfaceBookings, reg) }

func WithOrderRoutes(reg RouteRegistrar) Option { return withRoutes(surfaceOrders, reg) }

// WithCouponRoutes registers POST /coupons:validate. reg receives the API router.
func WithCouponRoutes(reg RouteRegistrar) Option { return withRoutes(surfaceCoupons, reg) }

// WithBankTransferRoutes registers POST /bank-transfers:upload-url. reg receives the API router.
func WithBankTransferRoutes(reg RouteRegistrar) Option {
	return withRoutes(surfaceBankTransfers, reg)
}

func WithAdminRoutes(reg RouteRegistrar) Option { return withRoutes(surfaceAdmin, reg) }

func WithWebhookRoutes(reg RouteRegistrar) Option { return withRoutes(surfaceWebhooks, reg) }

// WithWebhookMiddlewares wraps only the /webhooks group.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(surfaceWebhooks, mw)
}

func WithInternalRoutes(reg RouteRegistrar) Option { return withRoutes(surfaceInternal, reg) }

// WithInternalMiddlewares wraps only the /internal group, typically with OIDC verification.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares(surfaceInternal, mw)
}
