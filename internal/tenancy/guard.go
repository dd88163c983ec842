package tenancy

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Guard keeps tenant-only routes off central hosts and sends central-only routes
// on tenant hosts back to the primary central domain. It must run after the
// resolution middleware.
type Guard struct {
	tenantOnly  []string
	centralOnly []string
	primary     string
	scheme      string
	log         *zap.Logger
}

func NewGuard(tenantOnly, centralOnly []string, primaryDomain, scheme string, log *zap.Logger) *Guard {
	if scheme == "" {
		scheme = "https"
	}
	return &Guard{
		tenantOnly:  tenantOnly,
		centralOnly: centralOnly,
		primary:     primaryDomain,
		scheme:      scheme,
		log:         log,
	}
}

func (g *Guard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := FromContext(r.Context())
		path := r.URL.Path

		// A request without a scope is treated as central.
		if scope.IsCentral() {
			if matchesAny(path, g.tenantOnly) {
				g.log.Warn("tenant route requested on central domain",
					zap.String("host", r.Host), zap.String("path", path), zap.String("remote_ip", remoteIP(r)))
				renderGuardNotFound(w, r)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if matchesAny(path, g.centralOnly) {
			if g.primary == "" {
				renderGuardNotFound(w, r)
				return
			}
			target := g.scheme + "://" + g.primary + r.URL.RequestURI()
			g.log.Info("central route requested on tenant domain, redirecting",
				zap.Int64("tenant_id", scope.Tenant.ID), zap.String("path", path), zap.String("location", target))
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// matchesAny reports whether path equals a prefix or lies beneath it.
func matchesAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
