package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tenancy/internal/model"
	"tenancy/internal/storage"
)

type countingInspector struct{ calls int }

func (c *countingInspector) UpdateQueueDepth() { c.calls++ }

func TestSweeper_MarksStaleTenantsFailed(t *testing.T) {
	ctx := context.Background()
	dir := storage.NewMemory()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	start := func(subdomain string, at time.Time) *model.Tenant {
		dir.SetClock(func() time.Time { return at })
		tenant := &model.Tenant{Name: subdomain, Subdomain: subdomain}
		require.NoError(t, dir.CreateTenant(ctx, tenant))
		_, err := dir.TransitionStatus(ctx, tenant.ID, storage.Transition{
			From: []model.ProvisioningStatus{model.StatusPending},
			To:   model.StatusProvisioning,
		})
		require.NoError(t, err)
		return tenant
	}
	stale := start("stale", base)
	fresh := start("fresh", base.Add(50*time.Minute))

	s, err := NewSweeper(dir, &countingInspector{}, 35*time.Minute, time.Minute, zap.NewNop())
	require.NoError(t, err)
	s.now = func() time.Time { return base.Add(time.Hour) }

	swept, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := dir.GetTenant(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.NotNil(t, got.ProvisioningError)
	assert.Contains(t, *got.ProvisioningError, "stale")

	got, err = dir.GetTenant(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProvisioning, got.Status)

	// Nothing left to sweep.
	swept, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestSweeper_StartStop(t *testing.T) {
	s, err := NewSweeper(storage.NewMemory(), nil, time.Minute, time.Hour, zap.NewNop())
	require.NoError(t, err)
	s.Start()
	assert.NoError(t, s.Stop())
}
