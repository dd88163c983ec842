package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"tenancy/internal/auth"
	"tenancy/internal/manager"
	"tenancy/internal/metrics"
	"tenancy/internal/model"
	"tenancy/internal/provisioning"
	"tenancy/internal/session"
	"tenancy/internal/tenancy"
)

// TenantService is the operator side of the tenant lifecycle.
type TenantService interface {
	Register(ctx context.Context, reg manager.Registration) (*model.Tenant, error)
	Get(ctx context.Context, id int64) (*model.Tenant, error)
	Requeue(ctx context.Context, id int64) (*model.Tenant, error)
	Suspend(ctx context.Context, id int64) (*model.Tenant, error)
	Progress(ctx context.Context, id int64) (*provisioning.Progress, error)
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type API struct {
	Tenants  TenantService
	Sessions *session.Manager
	Resolver *tenancy.Middleware
	Guard    *tenancy.Guard
	Auth     *auth.Issuer
	Checks   map[string]Check
	Log      *zap.Logger
}

func NewAPI(
	tenants TenantService,
	sessions *session.Manager,
	resolver *tenancy.Middleware,
	guard *tenancy.Guard,
	issuer *auth.Issuer,
	log *zap.Logger,
) *API {
	return &API{
		Tenants:  tenants,
		Sessions: sessions,
		Resolver: resolver,
		Guard:    guard,
		Auth:     issuer,
		Checks:   make(map[string]Check),
		Log:      log,
	}
}

// Router builds the HTTP surface. Infrastructure endpoints answer on any host;
// everything else goes through session recovery, tenant resolution and the
// domain guard, in that order.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.Health)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	r.Group(func(r chi.Router) {
		r.Use(a.Sessions.Middleware)
		r.Use(a.Resolver.Handler)
		r.Use(a.Guard.Handler)

		// Central
		r.Get("/", a.Home)
		r.Route("/admin/tenants", func(r chi.Router) {
			r.Use(a.Auth.Middleware)
			r.Use(centralOnly)
			r.Post("/", a.CreateTenant)
			r.Get("/{id}", a.GetTenant)
			r.Post("/{id}/requeue", a.RequeueTenant)
			r.Post("/{id}/suspend", a.SuspendTenant)
			r.Get("/{id}/progress", a.TenantProgress)
		})

		// Tenant
		r.Group(func(r chi.Router) {
			r.Use(tenantOnly)
			r.Get("/dashboard", a.Dashboard)
			r.Get("/api/tenant", a.CurrentTenant)
		})
	})

	return r
}

// centralOnly refuses to run operator handlers inside a tenant scope, even when
// the guard is configured without the route.
func centralOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tenancy.FromContext(r.Context()).IsCentral() {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "not found"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tenantOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenancy.FromContext(r.Context()).IsCentral() {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "not found"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.Log.Debug("request",
			zap.String("method", r.Method),
			zap.String("host", r.Host),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
