package provisioning

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress_Advance(t *testing.T) {
	p := Progress{TenantID: 1}

	assert.True(t, p.Advance(StepMarkProvisioning, 5))
	assert.True(t, p.Advance(StepCreateDatabase, 20))
	assert.False(t, p.Advance(StepCreateDatabase, 20))
	assert.False(t, p.Advance(StepMarkProvisioning, 5))
	assert.Equal(t, StepCreateDatabase, p.Step)
	assert.Equal(t, 20, p.Reported)
}

func TestRedisProgress(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	progress := NewRedisProgress(client, time.Minute)

	got, err := progress.Load(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, progress.Report(ctx, Progress{TenantID: 7, Attempt: 2, Step: StepCreateDatabase, Percent: 20}))
	assert.Equal(t, "20", mr.HGet("provisioning:7", "percent"))
	assert.Equal(t, time.Minute, mr.TTL("provisioning:7"))

	got, err = progress.Load(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StepCreateDatabase, got.Step)
	assert.Equal(t, 20, got.Percent)
	assert.Equal(t, 20, got.Reported)
	assert.Equal(t, 2, got.Attempt)

	mr.FastForward(2 * time.Minute)
	got, err = progress.Load(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, got)
}
