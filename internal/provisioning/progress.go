package provisioning

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Progress is owned by one workflow run and passed explicitly between steps.
// Reported is the last percentage that was persisted.
type Progress struct {
	TenantID int64
	Attempt  int
	Step     string
	Percent  int
	Reported int
}

// Advance moves to step at percent and reports whether the change is worth
// persisting. Percentages never go backwards within a run.
func (p *Progress) Advance(step string, percent int) bool {
	if percent <= p.Reported {
		return false
	}
	p.Step, p.Percent, p.Reported = step, percent, percent
	return true
}

// ProgressReporter persists progress snapshots keyed by tenant.
type ProgressReporter interface {
	Report(ctx context.Context, p Progress) error
	Load(ctx context.Context, tenantID int64) (*Progress, error)
}

// RedisProgress stores snapshots in a hash at provisioning:{tenant_id}.
type RedisProgress struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisProgress(client redis.UniversalClient, ttl time.Duration) *RedisProgress {
	return &RedisProgress{client: client, ttl: ttl}
}

func progressKey(tenantID int64) string {
	return fmt.Sprintf("provisioning:%d", tenantID)
}

func (r *RedisProgress) Report(ctx context.Context, p Progress) error {
	key := progressKey(p.TenantID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		"step", p.Step,
		"percent", p.Percent,
		"attempt", p.Attempt,
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	)
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Load returns nil when nothing was recorded for the tenant.
func (r *RedisProgress) Load(ctx context.Context, tenantID int64) (*Progress, error) {
	vals, err := r.client.HGetAll(ctx, progressKey(tenantID)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	p := &Progress{TenantID: tenantID, Step: vals["step"]}
	p.Percent, _ = strconv.Atoi(vals["percent"])
	p.Attempt, _ = strconv.Atoi(vals["attempt"])
	p.Reported = p.Percent
	return p, nil
}

// NopProgress discards progress.
type NopProgress struct{}

func (NopProgress) Report(context.Context, Progress) error {
	return nil
}

func (NopProgress) Load(context.Context, int64) (*Progress, error) {
	return nil, nil
}
