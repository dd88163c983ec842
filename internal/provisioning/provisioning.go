// Package provisioning turns a registered tenant into a working isolated environment.
//
// The workflow runs a fixed sequence of steps. Every step either detects that its
// effect already exists or is written so that running it again is harmless, which
// lets the job runner retry a failed attempt from the top.
package provisioning

import (
	"context"
	"fmt"

	"tenancy/internal/model"
	"tenancy/internal/tenantdb"
)

// Step names, in execution order.
const (
	StepMarkProvisioning = "mark_provisioning"
	StepCreateDatabase   = "create_database"
	StepRegisterDomain   = "register_domain"
	StepMigrate          = "migrate"
	StepSeed             = "seed"
	StepAdmin            = "admin"
	StepSearchIndexes    = "search_indexes"
	StepMarkProvisioned  = "mark_provisioned"
)

// DatabaseManager performs server-level operations on the tenant database server.
type DatabaseManager interface {
	// CreateDatabase creates name unless it exists; created reports which happened.
	CreateDatabase(ctx context.Context, name string) (created bool, err error)
	RoleExists(ctx context.Context, role string) (bool, error)
	// EnsureRole creates role (or resets its password) and restricts it to database.
	EnsureRole(ctx context.Context, database, role, password string) error
}

// Connector opens a connection to a tenant's own database.
type Connector interface {
	Connect(ctx context.Context, t *model.Tenant) (tenantdb.Conn, error)
}

// MigrationRunner applies a named migration set against a tenant connection.
type MigrationRunner interface {
	Run(ctx context.Context, conn tenantdb.Conn, path string) (*MigrationResult, error)
}

// SearchIndexManager creates the tenant's search indexes.
type SearchIndexManager interface {
	CreateTenantIndexes(ctx context.Context, t *model.Tenant) ([]string, error)
}

// StepError names the step an attempt failed in.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("provisioning step %s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }
