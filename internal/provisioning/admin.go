package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tenancy/internal/errs"
	"tenancy/internal/model"
	"tenancy/internal/secret"
	"tenancy/internal/tenantdb"
)

const generatedPasswordLength = 20

// ErrAdminConflict means the admin email belongs to an account that is not an
// active super-admin. It is never adopted automatically.
var ErrAdminConflict = errs.New(errs.EConflict, "provisioning.Admin",
	"an account with the admin email exists but is not an active super-admin")

// AdminProvisioner creates the single super-administrator of a tenant database.
type AdminProvisioner struct {
	role string
	cost int
	log  *zap.Logger
}

func NewAdminProvisioner(superAdminRole string, log *zap.Logger) *AdminProvisioner {
	return &AdminProvisioner{role: superAdminRole, cost: bcrypt.DefaultCost, log: log}
}

// SetHashCost overrides the bcrypt cost.
func (p *AdminProvisioner) SetHashCost(cost int) { p.cost = cost }

// Provision returns the tenant's super-admin, creating it only when none exists.
func (p *AdminProvisioner) Provision(ctx context.Context, conn tenantdb.Conn, seed model.AdminSeed, sc SeedContext) (*model.AdminAccount, error) {
	email := strings.ToLower(strings.TrimSpace(seed.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, errs.New(errs.EInvalid, "provisioning.Admin", "invalid admin email "+seed.Email)
	}
	name := strings.TrimSpace(seed.Name)
	if name == "" {
		name = "Administrator"
	}

	var count int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE is_super_admin`).Scan(&count); err != nil {
		return nil, fmt.Errorf("count super-admins: %w", err)
	}
	if count > 0 {
		admin, err := scanAdmin(conn.QueryRow(ctx,
			`SELECT id, name, email, is_active, is_super_admin FROM users WHERE is_super_admin ORDER BY id LIMIT 1`))
		if err != nil {
			return nil, fmt.Errorf("load super-admin: %w", err)
		}
		admin.Reused = true
		p.log.Info("super-admin already exists, skipping creation",
			zap.Int64("tenant_id", sc.TenantID), zap.Int64("admin_id", admin.ID))
		return admin, nil
	}

	existing, err := p.findByEmail(ctx, conn, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAdminConflict
	}

	password, generated := seed.Password, false
	if password == "" {
		if password, err = secret.Password(generatedPasswordLength); err != nil {
			return nil, err
		}
		generated = true
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}

	admin := &model.AdminAccount{Name: name, Email: email, Active: true, SuperAdmin: true, PasswordGenerated: generated}
	err = inTx(ctx, conn, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO users (name, email, password, is_active, is_super_admin, locale, timezone)
			VALUES ($1, $2, $3, TRUE, TRUE, $4, $5)
			RETURNING id`, name, email, string(hash), sc.Locale, sc.Timezone).Scan(&admin.ID); err != nil {
			return err
		}
		// Inserts nothing when the role system has not been seeded.
		_, err := tx.Exec(ctx, `
			INSERT INTO model_has_roles (role_id, user_id)
			SELECT id, $2 FROM roles WHERE name = $1
			ON CONFLICT DO NOTHING`, p.role, admin.ID)
		return err
	})
	if isUniqueViolation(err) {
		// Another writer created the account between the check and the insert.
		existing, err := p.findByEmail(ctx, conn, email)
		if err != nil {
			return nil, err
		}
		if existing == nil || !existing.Active || !existing.SuperAdmin {
			return nil, ErrAdminConflict
		}
		existing.Reused = true
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create super-admin: %w", err)
	}

	p.log.Info("super-admin created",
		zap.Int64("tenant_id", sc.TenantID), zap.Int64("admin_id", admin.ID), zap.Bool("password_generated", generated))
	return admin, nil
}

func (p *AdminProvisioner) findByEmail(ctx context.Context, conn tenantdb.Conn, email string) (*model.AdminAccount, error) {
	admin, err := scanAdmin(conn.QueryRow(ctx,
		`SELECT id, name, email, is_active, is_super_admin FROM users WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup admin email: %w", err)
	}
	return admin, nil
}

func scanAdmin(row pgx.Row) (*model.AdminAccount, error) {
	var a model.AdminAccount
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Active, &a.SuperAdmin); err != nil {
		return nil, err
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
