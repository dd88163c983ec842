package provisioning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tenancy/internal/model"
	"tenancy/internal/storage"
)

func newPendingTenant(t *testing.T, dir storage.Directory, subdomain string) *model.Tenant {
	t.Helper()
	tenant := &model.Tenant{Name: subdomain, Subdomain: subdomain}
	require.NoError(t, dir.CreateTenant(context.Background(), tenant))
	return tenant
}

func TestDatabaseProvisioner_CreatesDatabaseAndCredentials(t *testing.T) {
	ctx := context.Background()
	dir := storage.NewMemory()
	dbs := newFakeDatabases()
	box := testBox(t)
	p := NewDatabaseProvisioner(dir, dbs, box, "tenant_", zap.NewNop())

	tenant, res, err := p.Provision(ctx, newPendingTenant(t, dir, "acme"))
	require.NoError(t, err)

	assert.Equal(t, "tenant_1", res.Database)
	assert.True(t, res.DatabaseCreated)
	assert.True(t, res.CredentialsCreated)
	assert.Equal(t, "tenant_1", tenant.DatabaseName())
	require.True(t, tenant.HasCredentials())

	user, err := box.OpenString(tenant.DatabaseUser)
	require.NoError(t, err)
	assert.Equal(t, "tenant_1_user", user)
	password, err := box.OpenString(tenant.DatabasePassword)
	require.NoError(t, err)
	assert.Equal(t, dbs.roles[user], password)
	assert.Len(t, password, passwordLength)
}

func TestDatabaseProvisioner_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := storage.NewMemory()
	dbs := newFakeDatabases()
	p := NewDatabaseProvisioner(dir, dbs, testBox(t), "tenant_", zap.NewNop())

	first, _, err := p.Provision(ctx, newPendingTenant(t, dir, "acme"))
	require.NoError(t, err)

	second, res, err := p.Provision(ctx, first)
	require.NoError(t, err)

	assert.False(t, res.DatabaseCreated)
	assert.False(t, res.CredentialsCreated)
	assert.Equal(t, 1, dbs.creates)
	assert.Equal(t, first.DatabaseUser, second.DatabaseUser)
	assert.Equal(t, first.DatabasePassword, second.DatabasePassword)
}

func TestDatabaseProvisioner_RestoresMissingRole(t *testing.T) {
	ctx := context.Background()
	dir := storage.NewMemory()
	dbs := newFakeDatabases()
	box := testBox(t)
	p := NewDatabaseProvisioner(dir, dbs, box, "tenant_", zap.NewNop())

	tenant, _, err := p.Provision(ctx, newPendingTenant(t, dir, "acme"))
	require.NoError(t, err)
	stored, err := box.OpenString(tenant.DatabasePassword)
	require.NoError(t, err)

	delete(dbs.roles, "tenant_1_user")
	_, res, err := p.Provision(ctx, tenant)
	require.NoError(t, err)

	assert.False(t, res.CredentialsCreated)
	assert.Equal(t, stored, dbs.roles["tenant_1_user"])
}

func TestDatabaseProvisioner_KeepsAllocatedName(t *testing.T) {
	ctx := context.Background()
	dir := storage.NewMemory()
	tenant := newPendingTenant(t, dir, "acme")
	require.NoError(t, dir.SetDatabase(ctx, tenant.ID, "legacy_acme"))
	tenant, err := dir.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)

	p := NewDatabaseProvisioner(dir, newFakeDatabases(), testBox(t), "tenant_", zap.NewNop())
	_, res, err := p.Provision(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, "legacy_acme", res.Database)
}
