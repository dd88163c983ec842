// Package tenancy maps request hosts to tenants and keeps tenant-only and
// central-only routes on their side of the boundary.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"tenancy/internal/model"
	"tenancy/internal/storage"
)

// NotFoundError is returned when a host matches neither a central domain nor a tenant.
type NotFoundError struct {
	Host string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no tenant for host %q", e.Host)
}

// InactiveError is returned when the host belongs to a tenant that may not serve requests.
type InactiveError struct {
	Tenant *model.Tenant
}

func (e *InactiveError) Error() string {
	return fmt.Sprintf("tenant %d is %s", e.Tenant.ID, e.Tenant.Status)
}

// Lookup is the part of the central directory the resolver reads.
type Lookup interface {
	GetTenantBySubdomain(ctx context.Context, subdomain string) (*model.Tenant, error)
	GetTenantByDomain(ctx context.Context, host string) (*model.Tenant, error)
}

const (
	ModeDomain    = "domain"
	ModeSubdomain = "subdomain"
)

// Resolver finds the tenant a host belongs to. In domain mode a host is matched
// against {subdomain}.{central} and then against registered custom domains; in
// subdomain mode only the label under a central domain is considered.
type Resolver struct {
	dir     Lookup
	central []string
	mode    string
}

func NewResolver(dir Lookup, centralDomains []string, mode string) *Resolver {
	central := make([]string, 0, len(centralDomains))
	for _, d := range centralDomains {
		if d = model.NormalizeHost(d); d != "" {
			central = append(central, d)
		}
	}
	if mode == "" {
		mode = ModeDomain
	}
	return &Resolver{dir: dir, central: central, mode: mode}
}

// IsCentral reports whether host is one of the configured central domains.
func (r *Resolver) IsCentral(host string) bool {
	return slices.Contains(r.central, model.NormalizeHost(host))
}

// Resolve returns nil for central hosts and a usable tenant otherwise.
func (r *Resolver) Resolve(ctx context.Context, host string) (*model.Tenant, error) {
	host = model.NormalizeHost(host)
	if r.IsCentral(host) {
		return nil, nil
	}

	tenant, err := r.lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive() {
		return nil, &InactiveError{Tenant: tenant}
	}
	return tenant, nil
}

func (r *Resolver) lookup(ctx context.Context, host string) (*model.Tenant, error) {
	for _, central := range r.central {
		sub, ok := model.ExtractSubdomain(host, central)
		if !ok {
			continue
		}
		tenant, err := r.dir.GetTenantBySubdomain(ctx, sub)
		switch {
		case err == nil:
			return tenant, nil
		case !errors.Is(err, storage.ErrTenantNotFound):
			return nil, err
		}
	}
	if r.mode == ModeSubdomain {
		return nil, &NotFoundError{Host: host}
	}

	tenant, err := r.dir.GetTenantByDomain(ctx, host)
	if errors.Is(err, storage.ErrTenantNotFound) {
		return nil, &NotFoundError{Host: host}
	}
	return tenant, err
}
