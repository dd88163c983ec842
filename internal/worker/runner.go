package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"tenancy/internal/metrics"
	"tenancy/internal/model"
	"tenancy/internal/provisioning"
	"tenancy/internal/secret"
	"tenancy/internal/storage"
)

// Workflow is the provisioning unit of work run for each job.
type Workflow interface {
	Provision(ctx context.Context, req provisioning.Request) (*provisioning.Result, error)
}

// Publisher re-queues jobs and announces lifecycle events.
type Publisher interface {
	PublishRetry(ctx context.Context, job model.ProvisioningJob) error
	PublishEvent(ctx context.Context, ev model.TenantEvent) error
}

// Outcome is what the runner decided for one job.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRetried   Outcome = "retried"
	OutcomeFailed    Outcome = "failed"
	OutcomeDropped   Outcome = "dropped"
	OutcomeRequeued  Outcome = "requeued"
)

type RunnerConfig struct {
	Tries   int
	Timeout time.Duration
}

// Runner applies the job retry policy around the provisioning workflow: each
// attempt gets its own timeout, failed attempts are retried until Tries is
// exhausted, and the last failure is recorded on the tenant.
type Runner struct {
	workflow Workflow
	dir      storage.Directory
	pub      Publisher
	box      *secret.Box
	cfg      RunnerConfig
	log      *zap.Logger
	now      func() time.Time
}

func NewRunner(workflow Workflow, dir storage.Directory, pub Publisher, box *secret.Box, cfg RunnerConfig, log *zap.Logger) *Runner {
	if cfg.Tries < 1 {
		cfg.Tries = 1
	}
	return &Runner{workflow: workflow, dir: dir, pub: pub, box: box, cfg: cfg, log: log, now: time.Now}
}

// Handle is the HandlerFunc for provisioning deliveries.
func (r *Runner) Handle(ctx context.Context, d amqp.Delivery) {
	var job model.ProvisioningJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		r.log.Error("undecodable provisioning job, dead-lettering", zap.String("message_id", d.MessageId), zap.Error(err))
		_ = d.Reject(false)
		metrics.JobsProcessed.WithLabelValues(string(OutcomeFailed)).Inc()
		return
	}

	outcome := r.Process(ctx, job)
	metrics.JobsProcessed.WithLabelValues(string(outcome)).Inc()

	var err error
	switch outcome {
	case OutcomeFailed:
		err = d.Reject(false)
	case OutcomeRequeued:
		err = d.Nack(false, true)
	default:
		err = d.Ack(false)
	}
	if err != nil {
		r.log.Error("failed to acknowledge delivery", zap.Int64("tenant_id", job.TenantID), zap.Error(err))
	}
}

// Process runs one attempt of job and decides what happens next.
func (r *Runner) Process(ctx context.Context, job model.ProvisioningJob) Outcome {
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	log := r.log.With(
		zap.Int64("tenant_id", job.TenantID),
		zap.String("subdomain", job.Subdomain),
		zap.Int("attempt", job.Attempt),
		zap.Int("tries", r.cfg.Tries),
	)

	seed := model.AdminSeed{Name: job.AdminName, Email: job.AdminEmail}
	if len(job.AdminPassword) > 0 {
		password, err := r.box.OpenString(job.AdminPassword)
		if err != nil {
			// Sealed with a rotated key. The admin gets a generated password and a
			// reset link instead.
			log.Warn("cannot open queued admin password, generating one", zap.Error(err))
		}
		seed.Password = password
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	start := r.now()
	res, err := r.workflow.Provision(attemptCtx, provisioning.Request{TenantID: job.TenantID, Admin: seed, Attempt: job.Attempt})
	cancel()
	elapsed := r.now().Sub(start).Seconds()

	switch {
	case err == nil:
		metrics.ProvisioningDuration.WithLabelValues("success").Observe(elapsed)
		log.Info("tenant provisioned", zap.Float64("duration_seconds", elapsed))
		r.publish(ctx, log, model.TenantEvent{
			Type:              model.EventTenantProvisioned,
			TenantID:          job.TenantID,
			Subdomain:         job.Subdomain,
			AdminEmail:        res.Admin.Email,
			PasswordGenerated: res.Admin.PasswordGenerated,
			Attempts:          job.Attempt,
		})
		return OutcomeSucceeded

	case provisioning.IsInvalidTransition(err), errors.Is(err, storage.ErrTenantNotFound):
		if outcome, ok := r.resume(ctx, log, job); ok {
			return outcome
		}
		// Duplicate delivery or a tenant that moved on; never retried.
		log.Warn("dropping provisioning job", zap.Error(err))
		return OutcomeDropped
	}

	metrics.ProvisioningDuration.WithLabelValues("failure").Observe(elapsed)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("attempt exceeded %s: %w", r.cfg.Timeout, err)
	}

	if job.Attempt < r.cfg.Tries {
		next := job
		next.Attempt++
		next.LastError = err.Error()
		if perr := r.pub.PublishRetry(ctx, next); perr != nil {
			log.Error("could not schedule retry, returning job to queue", zap.Error(perr))
			return OutcomeRequeued
		}
		log.Warn("provisioning attempt failed, retry scheduled", zap.Error(err))
		return OutcomeRetried
	}

	r.fail(ctx, log, job, err)
	return OutcomeFailed
}

// resume handles a retry whose tenant is still provisioning because the previous
// attempt could not record its failure. Once no attempt can still be running the
// tenant is released to failed. The job goes back to the retry queue either way.
func (r *Runner) resume(ctx context.Context, log *zap.Logger, job model.ProvisioningJob) (Outcome, bool) {
	if job.Attempt < 2 {
		return "", false
	}
	tenant, err := r.dir.GetTenant(ctx, job.TenantID)
	if err != nil || tenant.Status != model.StatusProvisioning {
		return "", false
	}

	if r.now().Sub(tenant.StatusChangedAt) >= r.cfg.Timeout {
		cause := job.LastError
		if cause == "" {
			cause = "previous attempt ended without recording its result"
		}
		_, err := r.dir.TransitionStatus(ctx, job.TenantID, storage.Transition{
			From:  []model.ProvisioningStatus{model.StatusProvisioning},
			To:    model.StatusFailed,
			Error: cause,
		})
		if err != nil {
			log.Warn("could not release tenant left in provisioning", zap.Error(err))
		}
	}

	if err := r.pub.PublishRetry(ctx, job); err != nil {
		log.Error("could not schedule retry, returning job to queue", zap.Error(err))
		return OutcomeRequeued, true
	}
	log.Warn("tenant still provisioning from an earlier attempt, retry scheduled")
	return OutcomeRetried, true
}

// fail is the terminal failure callback: the tenant stays failed with the final
// error until an operator re-queues it.
func (r *Runner) fail(ctx context.Context, log *zap.Logger, job model.ProvisioningJob, cause error) {
	msg := fmt.Sprintf("provisioning failed after %d attempt(s): %v", job.Attempt, cause)
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := r.dir.RecordFailure(wctx, job.TenantID, msg); err != nil {
		log.Error("could not record final provisioning error", zap.Error(err))
	}
	log.Error("provisioning failed permanently", zap.Error(cause))
	r.publish(wctx, log, model.TenantEvent{
		Type:      model.EventProvisioningFailed,
		TenantID:  job.TenantID,
		Subdomain: job.Subdomain,
		Error:     msg,
		Attempts:  job.Attempt,
	})
}

func (r *Runner) publish(ctx context.Context, log *zap.Logger, ev model.TenantEvent) {
	ev.ID = uuid.New()
	ev.OccurredAt = r.now().UTC()
	if err := r.pub.PublishEvent(ctx, ev); err != nil {
		log.Warn("failed to publish tenant event", zap.String("type", ev.Type), zap.Error(err))
	}
}
