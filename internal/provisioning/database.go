package provisioning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"tenancy/internal/model"
	"tenancy/internal/secret"
	"tenancy/internal/storage"
)

const passwordLength = 32

// PostgresDatabaseManager creates tenant databases and login roles on the tenant
// database server through an administrative connection.
type PostgresDatabaseManager struct {
	db *sql.DB
}

func NewPostgresDatabaseManager(db *sql.DB) *PostgresDatabaseManager {
	return &PostgresDatabaseManager{db: db}
}

func (m *PostgresDatabaseManager) CreateDatabase(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := m.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("check database %s: %w", name, err)
	}
	if exists {
		return false, nil
	}

	_, err := m.db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == "42P04" || pqErr.Code == "23505") {
		// Created concurrently between the check and the create. A racing CREATE
		// DATABASE can surface as a unique violation on pg_database.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create database %s: %w", name, err)
	}
	return true, nil
}

func (m *PostgresDatabaseManager) RoleExists(ctx context.Context, role string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)`, role).Scan(&exists)
	return exists, err
}

// EnsureRole gives role ownership of database and nothing else: no superuser, no
// CREATEDB/CREATEROLE, and PUBLIC loses its default CONNECT on the database.
func (m *PostgresDatabaseManager) EnsureRole(ctx context.Context, database, role, password string) error {
	exists, err := m.RoleExists(ctx, role)
	if err != nil {
		return fmt.Errorf("check role %s: %w", role, err)
	}

	ident, lit := pq.QuoteIdentifier(role), pq.QuoteLiteral(password)
	stmts := []string{
		"ALTER ROLE " + ident + " WITH LOGIN NOSUPERUSER NOCREATEDB NOCREATEROLE PASSWORD " + lit,
	}
	if !exists {
		stmts[0] = "CREATE ROLE " + ident + " WITH LOGIN NOSUPERUSER NOCREATEDB NOCREATEROLE PASSWORD " + lit
	}
	db := pq.QuoteIdentifier(database)
	stmts = append(stmts,
		"REVOKE ALL ON DATABASE "+db+" FROM PUBLIC",
		"ALTER DATABASE "+db+" OWNER TO "+ident,
		"GRANT CONNECT, CREATE, TEMPORARY ON DATABASE "+db+" TO "+ident,
	)
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("configure role %s: %w", role, err)
		}
	}
	return nil
}

// DatabaseProvisioner allocates the tenant database and its scoped credential pair.
type DatabaseProvisioner struct {
	dir    storage.Directory
	mgr    DatabaseManager
	box    *secret.Box
	prefix string
	log    *zap.Logger
}

func NewDatabaseProvisioner(dir storage.Directory, mgr DatabaseManager, box *secret.Box, prefix string, log *zap.Logger) *DatabaseProvisioner {
	return &DatabaseProvisioner{dir: dir, mgr: mgr, box: box, prefix: prefix, log: log}
}

// DatabaseResult reports which resources were created by this invocation.
type DatabaseResult struct {
	Database           string
	DatabaseCreated    bool
	CredentialsCreated bool
}

// Provision returns the reloaded tenant with database name and credentials set.
func (p *DatabaseProvisioner) Provision(ctx context.Context, t *model.Tenant) (*model.Tenant, *DatabaseResult, error) {
	if t.DatabaseName() == "" {
		if err := p.dir.SetDatabase(ctx, t.ID, fmt.Sprintf("%s%d", p.prefix, t.ID)); err != nil {
			return nil, nil, fmt.Errorf("allocate database name: %w", err)
		}
		reloaded, err := p.dir.GetTenant(ctx, t.ID)
		if err != nil {
			return nil, nil, err
		}
		t = reloaded
	}
	name := t.DatabaseName()
	res := &DatabaseResult{Database: name}

	created, err := p.mgr.CreateDatabase(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	res.DatabaseCreated = created

	if t.HasCredentials() {
		user, err := p.box.OpenString(t.DatabaseUser)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt database user: %w", err)
		}
		exists, err := p.mgr.RoleExists(ctx, user)
		if err != nil {
			return nil, nil, fmt.Errorf("check role %s: %w", user, err)
		}
		if exists {
			p.log.Debug("tenant database already provisioned", zap.Int64("tenant_id", t.ID), zap.String("database", name))
			return t, res, nil
		}
		// Stored credentials but no role: restore the role with the stored password.
		password, err := p.box.OpenString(t.DatabasePassword)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt database password: %w", err)
		}
		if err := p.mgr.EnsureRole(ctx, name, user, password); err != nil {
			return nil, nil, err
		}
		return t, res, nil
	}

	// No stored credentials. A role left by an interrupted attempt gets a new password.
	user := name + "_user"
	password, err := secret.Password(passwordLength)
	if err != nil {
		return nil, nil, err
	}
	if err := p.mgr.EnsureRole(ctx, name, user, password); err != nil {
		return nil, nil, err
	}
	sealedUser, err := p.box.SealString(user)
	if err != nil {
		return nil, nil, err
	}
	sealedPassword, err := p.box.SealString(password)
	if err != nil {
		return nil, nil, err
	}
	if err := p.dir.SetCredentials(ctx, t.ID, sealedUser, sealedPassword); err != nil {
		return nil, nil, fmt.Errorf("persist credentials: %w", err)
	}
	res.CredentialsCreated = true

	reloaded, err := p.dir.GetTenant(ctx, t.ID)
	if err != nil {
		return nil, nil, err
	}
	return reloaded, res, nil
}
