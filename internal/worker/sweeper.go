package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"tenancy/internal/metrics"
	"tenancy/internal/model"
	"tenancy/internal/storage"
)

const queueDepthInterval = 30 * time.Second

// QueueInspector refreshes queue depth gauges.
type QueueInspector interface {
	UpdateQueueDepth()
}

// Sweeper runs the periodic maintenance jobs of the worker process.
type Sweeper struct {
	scheduler  gocron.Scheduler
	dir        storage.Directory
	queue      QueueInspector
	staleAfter time.Duration
	log        *zap.Logger
	now        func() time.Time
}

func NewSweeper(dir storage.Directory, queue QueueInspector, staleAfter, interval time.Duration, log *zap.Logger) (*Sweeper, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s := &Sweeper{
		scheduler:  scheduler,
		dir:        dir,
		queue:      queue,
		staleAfter: staleAfter,
		log:        log,
		now:        time.Now,
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.runSweep),
		gocron.WithName("stale-provisioning-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("register sweep job: %w", err)
	}

	if queue != nil {
		if _, err := scheduler.NewJob(
			gocron.DurationJob(queueDepthInterval),
			gocron.NewTask(queue.UpdateQueueDepth),
			gocron.WithName("queue-depth"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, fmt.Errorf("register queue depth job: %w", err)
		}
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.log.Info("starting background jobs", zap.Duration("stale_after", s.staleAfter))
	s.scheduler.Start()
}

func (s *Sweeper) Stop() error {
	s.log.Info("stopping background jobs")
	return s.scheduler.Shutdown()
}

func (s *Sweeper) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		s.log.Error("stale provisioning sweep failed", zap.Error(err))
	}
}

// Sweep marks tenants failed that have been provisioning for longer than the
// stale threshold, i.e. whose runner died mid-attempt. They can then be re-queued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	stale, err := s.dir.ListTenantsByStatus(ctx, model.StatusProvisioning, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, t := range stale {
		_, err := s.dir.TransitionStatus(ctx, t.ID, storage.Transition{
			From:  []model.ProvisioningStatus{model.StatusProvisioning},
			To:    model.StatusFailed,
			Error: fmt.Sprintf("stale: no progress since %s", t.StatusChangedAt.UTC().Format(time.RFC3339)),
		})
		if errors.Is(err, model.ErrInvalidTransition) {
			// Finished between the list and the update.
			continue
		}
		if err != nil {
			return swept, err
		}
		swept++
		s.log.Warn("marked stale provisioning tenant failed",
			zap.Int64("tenant_id", t.ID), zap.String("subdomain", t.Subdomain))
	}
	metrics.StaleTenants.Add(float64(swept))
	return swept, nil
}
