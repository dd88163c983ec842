package tenancy

import (
	"context"

	"tenancy/internal/model"
	"tenancy/internal/tenantdb"
)

// Scope is what resolution binds to a single request. On a central host Tenant
// and Conn are nil.
type Scope struct {
	Host            string
	Tenant          *model.Tenant
	Conn            tenantdb.Conn
	SearchNamespace string
}

func (s *Scope) IsCentral() bool {
	return s == nil || s.Tenant == nil
}

type scopeKey struct{}

func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the request's scope, or nil when resolution has not run.
func FromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}
