package tenancy

import (
	"context"
	"errors"
	"net"
	"net/http"

	"go.uber.org/zap"

	"tenancy/internal/errs"
	"tenancy/internal/metrics"
	"tenancy/internal/model"
	"tenancy/internal/tenantdb"
)

// Acquirer hands out a tenant connection bound to one request.
type Acquirer interface {
	Acquire(ctx context.Context, t *model.Tenant) (tenantdb.Handle, error)
}

// Middleware resolves every request from scratch and binds the resulting scope
// to the request context. Nothing carries over between requests.
type Middleware struct {
	resolver *Resolver
	conns    Acquirer
	log      *zap.Logger
}

func NewMiddleware(resolver *Resolver, conns Acquirer, log *zap.Logger) *Middleware {
	return &Middleware{resolver: resolver, conns: conns, log: log}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		host := model.NormalizeHost(r.Host)

		tenant, err := m.resolver.Resolve(ctx, host)
		if err != nil {
			m.reject(w, r, host, err)
			return
		}
		if tenant == nil {
			metrics.Resolutions.WithLabelValues("central").Inc()
			next.ServeHTTP(w, r.WithContext(WithScope(ctx, &Scope{Host: host})))
			return
		}

		conn, err := m.conns.Acquire(ctx, tenant)
		if err != nil {
			metrics.Resolutions.WithLabelValues("error").Inc()
			m.log.Error("failed to bind tenant connection",
				zap.Int64("tenant_id", tenant.ID), zap.String("host", host), zap.Error(err))
			renderUnavailable(w, r, tenant)
			return
		}
		defer conn.Release()

		metrics.Resolutions.WithLabelValues("tenant").Inc()
		scope := &Scope{
			Host:            host,
			Tenant:          tenant,
			Conn:            conn,
			SearchNamespace: tenant.SearchNamespace(),
		}
		next.ServeHTTP(w, r.WithContext(WithScope(ctx, scope)))
	})
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, host string, err error) {
	var (
		notFound *NotFoundError
		inactive *InactiveError
	)
	switch {
	case errors.As(err, &notFound):
		metrics.Resolutions.WithLabelValues("not_found").Inc()
		m.log.Warn("tenant not resolved",
			zap.String("host", host),
			zap.String("remote_ip", remoteIP(r)),
			zap.String("path", r.URL.Path),
			zap.String("user_agent", r.UserAgent()),
		)
		renderNotFound(w, r, host)
	case errors.As(err, &inactive):
		metrics.Resolutions.WithLabelValues("inactive").Inc()
		m.log.Info("tenant not active",
			zap.Int64("tenant_id", inactive.Tenant.ID),
			zap.String("status", string(inactive.Tenant.Status)),
			zap.String("host", host),
		)
		renderInactive(w, r, inactive.Tenant)
	default:
		metrics.Resolutions.WithLabelValues("error").Inc()
		m.log.Error("tenant resolution failed", zap.String("host", host), zap.Error(err))
		writeJSON(w, errs.HTTPStatus(errs.Code(err)), map[string]any{
			"error":   "resolution_failed",
			"message": "The organization could not be resolved.",
		})
	}
}

func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
