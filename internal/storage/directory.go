package storage

import (
	"context"
	"fmt"
	"time"

	"tenancy/internal/errs"
	"tenancy/internal/model"
)

// ErrTenantNotFound is returned when no tenant matches a lookup.
var ErrTenantNotFound = errs.New(errs.ENotFound, "storage", "tenant not found")

// Transition is a compare-and-set status change. The update only applies while the
// tenant is in one of From.
type Transition struct {
	From  []model.ProvisioningStatus
	To    model.ProvisioningStatus
	Error string
}

// Directory is the central tenant/domain registry. It is the only store the
// request path may read before a tenant connection exists.
type Directory interface {
	CreateTenant(ctx context.Context, t *model.Tenant) error
	GetTenant(ctx context.Context, id int64) (*model.Tenant, error)
	GetTenantBySubdomain(ctx context.Context, subdomain string) (*model.Tenant, error)
	GetTenantByDomain(ctx context.Context, host string) (*model.Tenant, error)
	ListTenantsByStatus(ctx context.Context, status model.ProvisioningStatus, changedBefore time.Time) ([]model.Tenant, error)

	TransitionStatus(ctx context.Context, id int64, tr Transition) (*model.Tenant, error)
	RecordFailure(ctx context.Context, id int64, msg string) error
	SetDatabase(ctx context.Context, id int64, name string) error
	SetCredentials(ctx context.Context, id int64, user, password []byte) error
	SetAdmin(ctx context.Context, id int64, admin model.AdminAccount) error

	// EnsureDomain creates the host for tenantID unless it already exists for that
	// tenant. A host owned by another tenant is a conflict.
	EnsureDomain(ctx context.Context, tenantID int64, host string) (created bool, err error)
	ListDomains(ctx context.Context, tenantID int64) ([]model.Domain, error)
}

// rejected reports a compare-and-set miss as an invalid transition from the
// tenant's current status.
func rejected(current model.ProvisioningStatus, tr Transition) error {
	return &errs.Error{
		Code: errs.EConflict,
		Msg:  fmt.Sprintf("%s -> %s", current, tr.To),
		Err:  model.ErrInvalidTransition,
	}
}

func validateTransition(tr Transition) error {
	for _, from := range tr.From {
		if err := model.CheckTransition(from, tr.To); err != nil {
			return err
		}
	}
	return nil
}

func domainConflict(host string) error {
	return errs.New(errs.EConflict, "storage.EnsureDomain", "domain "+host+" belongs to another tenant")
}
