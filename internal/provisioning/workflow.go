package provisioning

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tenancy/internal/errs"
	"tenancy/internal/model"
	"tenancy/internal/storage"
)

const failureWriteTimeout = 10 * time.Second

// Request is one workflow invocation.
type Request struct {
	TenantID int64
	Admin    model.AdminSeed
	Attempt  int
}

// Result summarizes what an invocation did.
type Result struct {
	Tenant          *model.Tenant
	Admin           *model.AdminAccount
	Database        *DatabaseResult
	DomainCreated   bool
	Host            string
	Migrations      *MigrationResult
	Seeded          []string
	Indexes         []string
	ResumedFromFail bool
}

// Deps are the collaborators of a Workflow.
type Deps struct {
	Directory     storage.Directory
	Databases     *DatabaseProvisioner
	Connector     Connector
	Migrator      MigrationRunner
	MigrationPath string
	Seeder        *ReferenceDataSeeder
	Admins        *AdminProvisioner
	Search        SearchIndexManager
	Progress      ProgressReporter
	CentralDomain string
	Locale        string
	Timezone      string
	Currency      string
	Logger        *zap.Logger
}

// Workflow is the tenant provisioning unit of work.
type Workflow struct {
	d Deps
}

func NewWorkflow(d Deps) *Workflow {
	if d.MigrationPath == "" {
		d.MigrationPath = TenantMigrations
	}
	if d.Progress == nil {
		d.Progress = NopProgress{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Workflow{d: d}
}

// Provision runs every step in order. A tenant that is neither pending nor failed
// is rejected with model.ErrInvalidTransition and left untouched. Any later error
// marks the tenant failed with the error text and is returned so the job runner
// can retry.
func (w *Workflow) Provision(ctx context.Context, req Request) (*Result, error) {
	log := w.d.Logger.With(zap.Int64("tenant_id", req.TenantID), zap.Int("attempt", req.Attempt))
	progress := Progress{TenantID: req.TenantID, Attempt: req.Attempt}
	res := &Result{}

	tenant, err := w.markProvisioning(ctx, req.TenantID, res)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("subdomain", tenant.Subdomain))
	log.Info("provisioning started", zap.Bool("resumed", res.ResumedFromFail))
	w.report(ctx, log, &progress, StepMarkProvisioning, 5)

	id := tenant.ID
	fail := func(step string, err error) (*Result, error) {
		stepErr := &StepError{Step: step, Err: err}
		w.markFailed(ctx, log, id, stepErr)
		return res, stepErr
	}

	// Create database and scoped credentials.
	withDB, dbRes, err := w.d.Databases.Provision(ctx, tenant)
	if err != nil {
		return fail(StepCreateDatabase, err)
	}
	tenant, res.Database = withDB, dbRes
	log.Info("tenant database ready",
		zap.String("database", res.Database.Database),
		zap.Bool("created", res.Database.DatabaseCreated))
	w.report(ctx, log, &progress, StepCreateDatabase, 20)

	// Register {subdomain}.{central} as a domain.
	if w.d.CentralDomain == "" {
		return fail(StepRegisterDomain, errs.New(errs.EInvalid, "provisioning.Domain", "no central domain configured"))
	}
	res.Host = model.ComposeHost(tenant.Subdomain, w.d.CentralDomain)
	if res.DomainCreated, err = w.d.Directory.EnsureDomain(ctx, tenant.ID, res.Host); err != nil {
		return fail(StepRegisterDomain, err)
	}
	w.report(ctx, log, &progress, StepRegisterDomain, 30)

	// Migrations run on the tenant connection only.
	conn, err := w.d.Connector.Connect(ctx, tenant)
	if err != nil {
		return fail(StepMigrate, err)
	}
	if res.Migrations, err = w.d.Migrator.Run(ctx, conn, w.d.MigrationPath); err != nil {
		return fail(StepMigrate, err)
	}
	log.Info("tenant migrations applied", zap.Strings("applied", res.Migrations.Applied))
	w.report(ctx, log, &progress, StepMigrate, 50)

	sc := SeedContext{TenantID: tenant.ID, Locale: w.d.Locale, Timezone: w.d.Timezone, Currency: w.d.Currency}
	if res.Seeded, err = w.d.Seeder.Run(ctx, conn, sc); err != nil {
		return fail(StepSeed, err)
	}
	w.report(ctx, log, &progress, StepSeed, 70)

	if res.Admin, err = w.d.Admins.Provision(ctx, conn, req.Admin, sc); err != nil {
		return fail(StepAdmin, err)
	}
	if err := w.d.Directory.SetAdmin(ctx, tenant.ID, *res.Admin); err != nil {
		return fail(StepAdmin, err)
	}
	w.report(ctx, log, &progress, StepAdmin, 85)

	if res.Indexes, err = w.d.Search.CreateTenantIndexes(ctx, tenant); err != nil {
		return fail(StepSearchIndexes, err)
	}
	w.report(ctx, log, &progress, StepSearchIndexes, 95)

	// A suspension during the run makes this compare-and-set miss.
	done, err := w.d.Directory.TransitionStatus(ctx, id, storage.Transition{
		From: []model.ProvisioningStatus{model.StatusProvisioning},
		To:   model.StatusProvisioned,
	})
	if err != nil {
		return fail(StepMarkProvisioned, err)
	}
	res.Tenant = done
	w.report(ctx, log, &progress, StepMarkProvisioned, 100)
	log.Info("provisioning completed")
	return res, nil
}

// markProvisioning claims the tenant. A failed tenant is re-queued to pending first
// so every status change stays on the lifecycle graph.
func (w *Workflow) markProvisioning(ctx context.Context, id int64, res *Result) (*model.Tenant, error) {
	tenant, err := w.d.Directory.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	if tenant.Status == model.StatusFailed {
		if _, err := w.d.Directory.TransitionStatus(ctx, id, storage.Transition{
			From: []model.ProvisioningStatus{model.StatusFailed},
			To:   model.StatusPending,
		}); err != nil {
			return nil, err
		}
		res.ResumedFromFail = true
	}
	return w.d.Directory.TransitionStatus(ctx, id, storage.Transition{
		From: []model.ProvisioningStatus{model.StatusPending},
		To:   model.StatusProvisioning,
	})
}

// markFailed records the failure even when ctx has already expired.
func (w *Workflow) markFailed(ctx context.Context, log *zap.Logger, id int64, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	_, err := w.d.Directory.TransitionStatus(wctx, id, storage.Transition{
		From:  []model.ProvisioningStatus{model.StatusProvisioning},
		To:    model.StatusFailed,
		Error: cause.Error(),
	})
	if err != nil {
		log.Error("could not mark tenant failed", zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	log.Error("provisioning failed", zap.Error(cause))
}

func (w *Workflow) report(ctx context.Context, log *zap.Logger, p *Progress, step string, percent int) {
	if !p.Advance(step, percent) {
		return
	}
	if err := w.d.Progress.Report(ctx, *p); err != nil {
		log.Warn("progress update failed", zap.String("step", step), zap.Error(err))
	}
}

// IsInvalidTransition reports whether err came from the status guard.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, model.ErrInvalidTransition)
}
