// internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"tenancy/internal/errs"
	"tenancy/internal/model"
)

//go:embed schema/*.sql
var schemaFS embed.FS

const tenantColumns = `id, name, subdomain, database_name, database_user, database_password,
	provisioning_status, provisioning_error, admin_id, admin_email, admin_name,
	provisioned_at, status_changed_at, created_at, updated_at`

type Storage struct {
	DB *sqlx.DB
}

func NewStorage(dsn string) (*Storage, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return &Storage{DB: db}, nil
}

// Migrate applies the central schema. Every script is written to be re-runnable.
func (s *Storage) Migrate(ctx context.Context) error {
	files, err := fs.Glob(schemaFS, "schema/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		script, err := schemaFS.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := s.DB.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("apply %s: %w", f, err)
		}
	}
	return nil
}

func (s *Storage) Close() error {
	return s.DB.Close()
}

func (s *Storage) CreateTenant(ctx context.Context, t *model.Tenant) error {
	if t.Status == "" {
		t.Status = model.StatusPending
	}
	query := `
		INSERT INTO tenants (name, subdomain, provisioning_status, admin_email, admin_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, status_changed_at, created_at, updated_at`
	err := s.DB.QueryRowxContext(ctx, query, t.Name, t.Subdomain, t.Status, t.AdminEmail, t.AdminName).
		Scan(&t.ID, &t.StatusChangedAt, &t.CreatedAt, &t.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.New(errs.EConflict, "storage.CreateTenant", "subdomain "+t.Subdomain+" is taken")
	}
	return err
}

func (s *Storage) GetTenant(ctx context.Context, id int64) (*model.Tenant, error) {
	return s.getTenant(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
}

func (s *Storage) GetTenantBySubdomain(ctx context.Context, subdomain string) (*model.Tenant, error) {
	return s.getTenant(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE subdomain = $1`, subdomain)
}

func (s *Storage) GetTenantByDomain(ctx context.Context, host string) (*model.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE id = (SELECT tenant_id FROM domains WHERE domain = $1)`
	return s.getTenant(ctx, query, host)
}

func (s *Storage) getTenant(ctx context.Context, query string, arg any) (*model.Tenant, error) {
	var t model.Tenant
	if err := s.DB.GetContext(ctx, &t, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("query tenant: %w", err)
	}
	return &t, nil
}

func (s *Storage) ListTenantsByStatus(ctx context.Context, status model.ProvisioningStatus, changedBefore time.Time) ([]model.Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE provisioning_status = $1 AND status_changed_at < $2
		ORDER BY id`
	var tenants []model.Tenant
	if err := s.DB.SelectContext(ctx, &tenants, query, status, changedBefore); err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

// TransitionStatus performs the status change as a single conditional UPDATE so two
// runners racing on the same tenant cannot both win.
func (s *Storage) TransitionStatus(ctx context.Context, id int64, tr Transition) (*model.Tenant, error) {
	if err := validateTransition(tr); err != nil {
		return nil, err
	}
	from := make([]string, len(tr.From))
	for i, st := range tr.From {
		from[i] = string(st)
	}

	query := `
		UPDATE tenants SET
			provisioning_status = $1::text,
			provisioning_error = CASE
				WHEN $1::text = 'failed' THEN $3::text
				WHEN $1::text = 'provisioned' THEN NULL
				ELSE provisioning_error END,
			provisioned_at = CASE WHEN $1::text = 'provisioned' THEN NOW() ELSE provisioned_at END,
			status_changed_at = NOW(),
			updated_at = NOW()
		WHERE id = $2 AND provisioning_status = ANY($4::text[])
		RETURNING ` + tenantColumns

	var t model.Tenant
	err := s.DB.GetContext(ctx, &t, query, tr.To, id, tr.Error, pq.Array(from))
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transition tenant %d: %w", id, err)
	}

	current, err := s.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, rejected(current.Status, tr)
}

func (s *Storage) RecordFailure(ctx context.Context, id int64, msg string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE tenants SET provisioning_error = $1, updated_at = NOW() WHERE id = $2`, msg, id)
	return err
}

// SetDatabase allocates the database name once; a later call never renames it.
func (s *Storage) SetDatabase(ctx context.Context, id int64, name string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE tenants SET database_name = COALESCE(database_name, $1), updated_at = NOW()
		WHERE id = $2`, name, id)
	return err
}

func (s *Storage) SetCredentials(ctx context.Context, id int64, user, password []byte) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE tenants SET database_user = $1, database_password = $2, updated_at = NOW()
		WHERE id = $3`, user, password, id)
	return err
}

func (s *Storage) SetAdmin(ctx context.Context, id int64, admin model.AdminAccount) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE tenants SET admin_id = $1, admin_email = $2, admin_name = $3, updated_at = NOW()
		WHERE id = $4`, admin.ID, admin.Email, admin.Name, id)
	return err
}

func (s *Storage) EnsureDomain(ctx context.Context, tenantID int64, host string) (bool, error) {
	var id int64
	err := s.DB.QueryRowxContext(ctx, `
		INSERT INTO domains (tenant_id, domain) VALUES ($1, $2)
		ON CONFLICT (domain) DO NOTHING
		RETURNING id`, tenantID, host).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("insert domain: %w", err)
	}

	var owner int64
	if err := s.DB.GetContext(ctx, &owner, `SELECT tenant_id FROM domains WHERE domain = $1`, host); err != nil {
		return false, fmt.Errorf("lookup domain owner: %w", err)
	}
	if owner != tenantID {
		return false, domainConflict(host)
	}
	return false, nil
}

func (s *Storage) ListDomains(ctx context.Context, tenantID int64) ([]model.Domain, error) {
	var domains []model.Domain
	err := s.DB.SelectContext(ctx, &domains,
		`SELECT id, tenant_id, domain, created_at, updated_at FROM domains WHERE tenant_id = $1 ORDER BY id`, tenantID)
	return domains, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
