package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenancy/internal/errs"
	"tenancy/internal/model"
)

func TestMemory_TransitionStatus(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	tenant := &model.Tenant{Name: "Acme", Subdomain: "acme"}
	require.NoError(t, dir.CreateTenant(ctx, tenant))
	assert.Equal(t, model.StatusPending, tenant.Status)

	got, err := dir.TransitionStatus(ctx, tenant.ID, Transition{
		From: []model.ProvisioningStatus{model.StatusPending},
		To:   model.StatusProvisioning,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusProvisioning, got.Status)

	// A second runner loses the compare-and-set.
	_, err = dir.TransitionStatus(ctx, tenant.ID, Transition{
		From: []model.ProvisioningStatus{model.StatusPending},
		To:   model.StatusProvisioning,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))

	got, err = dir.TransitionStatus(ctx, tenant.ID, Transition{
		From:  []model.ProvisioningStatus{model.StatusProvisioning},
		To:    model.StatusFailed,
		Error: "migrations failed",
	})
	require.NoError(t, err)
	require.NotNil(t, got.ProvisioningError)
	assert.Equal(t, "migrations failed", *got.ProvisioningError)

	// A failed tenant is claimed again only through pending.
	_, err = dir.TransitionStatus(ctx, tenant.ID, Transition{
		From: []model.ProvisioningStatus{model.StatusFailed},
		To:   model.StatusPending,
	})
	require.NoError(t, err)
	got, err = dir.TransitionStatus(ctx, tenant.ID, Transition{
		From: []model.ProvisioningStatus{model.StatusPending},
		To:   model.StatusProvisioning,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusProvisioning, got.Status)
}

func TestMemory_TransitionStatus_RejectsIllegalEdges(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	tenant := &model.Tenant{Name: "Acme", Subdomain: "acme", Status: model.StatusFailed}
	require.NoError(t, dir.CreateTenant(ctx, tenant))

	for name, tr := range map[string]Transition{
		"pending to provisioned": {
			From: []model.ProvisioningStatus{model.StatusPending},
			To:   model.StatusProvisioned,
		},
		"failed to provisioning": {
			From: []model.ProvisioningStatus{model.StatusPending, model.StatusFailed},
			To:   model.StatusProvisioning,
		},
	} {
		_, err := dir.TransitionStatus(ctx, tenant.ID, tr)
		assert.True(t, errors.Is(err, model.ErrInvalidTransition), name)
	}

	stored, err := dir.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
}

func TestMemory_EnsureDomain(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	a := &model.Tenant{Subdomain: "acme"}
	b := &model.Tenant{Subdomain: "globex"}
	require.NoError(t, dir.CreateTenant(ctx, a))
	require.NoError(t, dir.CreateTenant(ctx, b))

	created, err := dir.EnsureDomain(ctx, a.ID, "acme.csr.example.com")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = dir.EnsureDomain(ctx, a.ID, "acme.csr.example.com")
	require.NoError(t, err)
	assert.False(t, created)

	_, err = dir.EnsureDomain(ctx, b.ID, "acme.csr.example.com")
	assert.Equal(t, errs.EConflict, errs.Code(err))

	domains, err := dir.ListDomains(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, domains, 1)

	got, err := dir.GetTenantByDomain(ctx, "acme.csr.example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestMemory_SetDatabaseKeepsFirstName(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	tenant := &model.Tenant{Subdomain: "acme"}
	require.NoError(t, dir.CreateTenant(ctx, tenant))

	require.NoError(t, dir.SetDatabase(ctx, tenant.ID, "tenant_1"))
	require.NoError(t, dir.SetDatabase(ctx, tenant.ID, "tenant_other"))

	got, err := dir.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "tenant_1", got.DatabaseName())
}

func TestMemory_ListTenantsByStatus(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dir.SetClock(func() time.Time { return start })

	tenant := &model.Tenant{Subdomain: "acme"}
	require.NoError(t, dir.CreateTenant(ctx, tenant))
	_, err := dir.TransitionStatus(ctx, tenant.ID, Transition{
		From: []model.ProvisioningStatus{model.StatusPending},
		To:   model.StatusProvisioning,
	})
	require.NoError(t, err)

	stale, err := dir.ListTenantsByStatus(ctx, model.StatusProvisioning, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	stale, err = dir.ListTenantsByStatus(ctx, model.StatusProvisioning, start)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestMemory_CreateTenantDuplicateSubdomain(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory()
	require.NoError(t, dir.CreateTenant(ctx, &model.Tenant{Subdomain: "acme"}))
	err := dir.CreateTenant(ctx, &model.Tenant{Subdomain: "acme"})
	assert.Equal(t, errs.EConflict, errs.Code(err))
}
