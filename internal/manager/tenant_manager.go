// internal/manager/tenant_manager.go
package manager

import (
	"context"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tenancy/internal/errs"
	"tenancy/internal/model"
	"tenancy/internal/provisioning"
	"tenancy/internal/secret"
	"tenancy/internal/storage"
)

// Subdomains that would shadow platform hosts.
var reservedSubdomains = []string{"www", "admin", "api", "app", "mail", "static"}

// JobPublisher enqueues provisioning jobs.
type JobPublisher interface {
	PublishJob(ctx context.Context, job model.ProvisioningJob) error
}

// PoolPurger drops cached tenant connections.
type PoolPurger interface {
	Purge(tenantID int64)
}

// Registration is an operator request to create a tenant.
type Registration struct {
	Name          string `json:"name"`
	Subdomain     string `json:"subdomain"`
	AdminName     string `json:"admin_name"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password,omitempty"`
}

// TenantManager owns the operator side of the tenant lifecycle: registration,
// re-queueing failed tenants and suspension.
type TenantManager struct {
	dir      storage.Directory
	jobs     JobPublisher
	progress provisioning.ProgressReporter
	box      *secret.Box
	pools    PoolPurger
	log      *zap.Logger
}

func NewTenantManager(
	dir storage.Directory,
	jobs JobPublisher,
	progress provisioning.ProgressReporter,
	box *secret.Box,
	pools PoolPurger,
	log *zap.Logger,
) *TenantManager {
	if progress == nil {
		progress = provisioning.NopProgress{}
	}
	return &TenantManager{
		dir:      dir,
		jobs:     jobs,
		progress: progress,
		box:      box,
		pools:    pools,
		log:      log,
	}
}

// Register creates a pending tenant and enqueues its provisioning job.
func (tm *TenantManager) Register(ctx context.Context, reg Registration) (*model.Tenant, error) {
	const op = "manager.Register"

	name := strings.TrimSpace(reg.Name)
	subdomain := strings.ToLower(strings.TrimSpace(reg.Subdomain))
	email := strings.ToLower(strings.TrimSpace(reg.AdminEmail))
	adminName := strings.TrimSpace(reg.AdminName)

	switch {
	case name == "":
		return nil, errs.New(errs.EInvalid, op, "name is required")
	case !model.ValidSubdomain(subdomain):
		return nil, errs.New(errs.EInvalid, op, "subdomain must be a single label of [a-z0-9-]")
	case slices.Contains(reservedSubdomains, subdomain):
		return nil, errs.New(errs.EInvalid, op, "subdomain "+subdomain+" is reserved")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, errs.New(errs.EInvalid, op, "admin_email is not a valid address")
	}
	if adminName == "" {
		adminName = name
	}

	tenant := &model.Tenant{
		Name:       name,
		Subdomain:  subdomain,
		Status:     model.StatusPending,
		AdminEmail: &email,
		AdminName:  &adminName,
	}
	if err := tm.dir.CreateTenant(ctx, tenant); err != nil {
		return nil, err
	}
	tm.log.Info("tenant registered", zap.Int64("tenant_id", tenant.ID), zap.String("subdomain", subdomain))

	if err := tm.enqueue(ctx, tenant, reg.AdminPassword); err != nil {
		return tenant, err
	}
	return tenant, nil
}

// Requeue moves a failed tenant back to pending and enqueues a fresh job. A
// pending tenant whose job was lost is simply enqueued again; a duplicate job is
// dropped by the workflow's status guard. The registration password is not kept,
// so a generated one is used.
func (tm *TenantManager) Requeue(ctx context.Context, id int64) (*model.Tenant, error) {
	tenant, err := tm.dir.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	if tenant.Status != model.StatusPending {
		tenant, err = tm.dir.TransitionStatus(ctx, id, storage.Transition{
			From: []model.ProvisioningStatus{model.StatusFailed},
			To:   model.StatusPending,
		})
		if err != nil {
			return nil, err
		}
	}
	tm.log.Info("tenant re-queued", zap.Int64("tenant_id", id))
	if err := tm.enqueue(ctx, tenant, ""); err != nil {
		return tenant, err
	}
	return tenant, nil
}

// Suspend blocks the tenant permanently and drops its connection pool.
func (tm *TenantManager) Suspend(ctx context.Context, id int64) (*model.Tenant, error) {
	tenant, err := tm.dir.TransitionStatus(ctx, id, storage.Transition{
		From: []model.ProvisioningStatus{
			model.StatusPending,
			model.StatusProvisioning,
			model.StatusProvisioned,
			model.StatusFailed,
		},
		To: model.StatusSuspended,
	})
	if err != nil {
		return nil, err
	}
	if tm.pools != nil {
		tm.pools.Purge(id)
	}
	tm.log.Warn("tenant suspended", zap.Int64("tenant_id", id), zap.String("subdomain", tenant.Subdomain))
	return tenant, nil
}

// Get returns the tenant with its domains.
func (tm *TenantManager) Get(ctx context.Context, id int64) (*model.Tenant, error) {
	tenant, err := tm.dir.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	if tenant.Domains, err = tm.dir.ListDomains(ctx, id); err != nil {
		return nil, err
	}
	return tenant, nil
}

// Progress returns the last recorded provisioning progress. A tenant that exists
// but has no record yields nil.
func (tm *TenantManager) Progress(ctx context.Context, id int64) (*provisioning.Progress, error) {
	if _, err := tm.dir.GetTenant(ctx, id); err != nil {
		return nil, err
	}
	return tm.progress.Load(ctx, id)
}

func (tm *TenantManager) enqueue(ctx context.Context, tenant *model.Tenant, password string) error {
	job := model.ProvisioningJob{
		ID:         uuid.New(),
		TenantID:   tenant.ID,
		Subdomain:  tenant.Subdomain,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
	if tenant.AdminName != nil {
		job.AdminName = *tenant.AdminName
	}
	if tenant.AdminEmail != nil {
		job.AdminEmail = *tenant.AdminEmail
	}
	if password != "" {
		sealed, err := tm.box.SealString(password)
		if err != nil {
			return err
		}
		job.AdminPassword = sealed
	}

	if err := tm.jobs.PublishJob(ctx, job); err != nil {
		// The tenant stays pending until the operator re-queues it.
		tm.log.Error("failed to enqueue provisioning job", zap.Int64("tenant_id", tenant.ID), zap.Error(err))
		return errs.Wrap(err, errs.EUnavailable, "manager.enqueue")
	}
	tm.log.Info("provisioning job enqueued",
		zap.Int64("tenant_id", tenant.ID), zap.String("subdomain", tenant.Subdomain), zap.String("job_id", job.ID.String()))
	return nil
}
