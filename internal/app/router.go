package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/renthaven/renthaven/internal/observability"
	"github.com/renthaven/renthaven/internal/ratelimit"
	"github.com/renthaven/renthaven/internal/rbac"
	"github.com/renthaven/renthaven/internal/security"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Pipeline        security.Pipeline
	SecurityHandler *security.Handler
	RBACHandler     *rbac.Handler
	RBACMiddleware  rbac.Middleware
	RateStore       ratelimit.Store
	Metrics         *observability.Metrics

	// Protected mounts the tenant-facing business routes (properties,
	// payments, messaging). Those handlers live outside this repo; the
	// router only guarantees they sit behind the full security chain.
	Protected func(chi.Router)
}

// NewRouter constructs the chi.Router with Renthaven defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:   params.Logger,
		Config:   params.Config,
		Pipeline: params.Pipeline,
		Metrics:  params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/security", func(r chi.Router) {
		params.SecurityHandler.Routes(r)
	})

	r.Route("/api/rbac", func(r chi.Router) {
		params.RBACHandler.Routes(r, params.RBACMiddleware)
	})

	// Unauthenticated-sensitive endpoints get the strict per-account limiter
	// on top of the baseline IP limiter; the auth layer mounts its handlers
	// behind this group.
	if params.RateStore != nil && params.Config != nil {
		r.Group(func(r chi.Router) {
			strict := ratelimit.Limiter{
				Store:  params.RateStore,
				Max:    params.Config.AuthRateLimitMax,
				Window: params.Config.AuthRateLimitWindow,
				Key:    ratelimit.KeyByBodyField("auth", "email"),
				Logger: params.Logger,
			}
			r.Use(strict.Handler)
			r.Post("/api/auth/login", notImplemented)
			r.Post("/api/auth/otp", notImplemented)
			r.Post("/api/auth/password-reset", notImplemented)
		})
	}

	if params.Protected != nil {
		r.Route("/api", params.Protected)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

// notImplemented stands in for the external authentication handlers so the
// strict limiter group has routable endpoints in this service.
func notImplemented(w http.ResponseWriter, r *http.Request) {
	http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
}
