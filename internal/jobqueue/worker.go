package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/railzway-benefits/internal/clock"
	"github.com/smallbiznis/railzway-benefits/internal/config"
	obscontext "github.com/smallbiznis/railzway-benefits/internal/observability/context"
	obslogger "github.com/smallbiznis/railzway-benefits/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/railzway-benefits/internal/observability/metrics"
	"github.com/smallbiznis/railzway-benefits/internal/observability/tracing"
	"github.com/smallbiznis/railzway-benefits/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WorkerParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Registry *Registry
	Config   *config.WorkerConfigHolder
}

// Worker claims runnable jobs and dispatches them to registered handlers.
type Worker struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	registry *Registry
	cfg      *config.WorkerConfigHolder
	random   func() float64
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		db:       p.DB,
		log:      p.Log.Named("jobqueue.worker"),
		clock:    p.Clock,
		registry: p.Registry,
		cfg:      p.Config,
	}
}

// RunForever polls until ctx is cancelled.
func (w *Worker) RunForever(ctx context.Context) {
	cfg := w.cfg.Get()
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	lastRecovery := time.Time{}

	for {
		cfg = w.cfg.Get()
		if now := w.clock.Now(); now.Sub(lastRecovery) >= cfg.RecoveryThreshold {
			if _, err := w.Recover(ctx); err != nil {
				w.log.Warn("job recovery failed", zap.Error(err))
			}
			lastRecovery = now
		}

		processed, err := w.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.log.Warn("worker poll failed", zap.Error(err))
		}

		// drain without waiting while the queue has a full batch ready
		if processed >= cfg.BatchSize && ctx.Err() == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch of runnable jobs and executes them in order.
// It returns the number of jobs executed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	cfg := w.cfg.Get()
	jobs, err := w.claim(ctx, cfg)
	if err != nil {
		return 0, err
	}
	obsmetrics.Jobs().ObservePollBatch(len(jobs))

	var errs []error
	for i := range jobs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := w.execute(ctx, cfg, jobs[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return len(jobs), errors.Join(errs...)
}

func (w *Worker) claim(ctx context.Context, cfg config.WorkerConfig) ([]Job, error) {
	now := w.clock.Now()
	var claimed []Job

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stmt := tx.Model(&Job{}).
			Where("status = ? AND run_at <= ?", StatusPending, now).
			Order("run_at asc, id asc").
			Limit(cfg.BatchSize)
		if len(cfg.EnabledJobs) > 0 {
			stmt = stmt.Where("name IN ?", cfg.EnabledJobs)
		}
		switch tx.Dialector.Name() {
		case "postgres", "mysql":
			stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []Job
		if err := stmt.Find(&candidates).Error; err != nil {
			return err
		}

		for _, job := range candidates {
			res := tx.Model(&Job{}).
				Where("id = ? AND status = ?", job.ID, StatusPending).
				Updates(map[string]any{
					"status":     StatusRunning,
					"attempt":    gorm.Expr("attempt + 1"),
					"locked_at":  now,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			job.Status = StatusRunning
			job.Attempt++
			job.LockedAt = &now
			claimed = append(claimed, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (w *Worker) execute(parent context.Context, cfg config.WorkerConfig, job Job) error {
	start := w.clock.Now()
	began := time.Now()
	jobMetrics := obsmetrics.Jobs()
	jobMetrics.IncJobRun(job.Name)
	jobMetrics.ObserveStartLag(job.Name, start.Sub(job.RunAt))

	ctx, cancel := context.WithTimeout(parent, cfg.JobTimeout)
	defer cancel()
	ctx = correlation.FromCarrier(ctx, job.Metadata)
	ctx = obscontext.WithActor(ctx, "system", "worker")
	ctx = obscontext.WithJob(ctx, obscontext.JobInfo{
		ID:      job.ID.String(),
		Name:    job.Name,
		Attempt: job.Attempt,
	})
	if orgID := job.ArgString("org_id"); orgID != "" {
		ctx = obscontext.WithOrgID(ctx, orgID)
	}
	ctx, span := tracing.Start(ctx, "job "+job.Name,
		attribute.String("job.name", job.Name),
		attribute.Int("job.attempt", job.Attempt),
	)

	log := obslogger.WithContext(ctx, w.log)

	handler, ok := w.registry.Lookup(job.Name)
	var runErr error
	if !ok {
		runErr = fmt.Errorf("%w: %s", ErrHandlerNotFound, job.Name)
	} else {
		runErr = w.invoke(ctx, handler, job)
	}
	tracing.End(span, runErr)
	jobMetrics.ObserveJobDuration(job.Name, time.Since(began))

	// parent cancellation means shutdown; leave the row for recovery
	if parent.Err() != nil {
		return parent.Err()
	}

	finishedAt := w.clock.Now()
	if runErr == nil {
		jobMetrics.IncOutcome(job.Name, obsmetrics.JobOutcomeDone)
		log.Debug("job done")
		return w.finish(parent, job, StatusDone, finishedAt, nil, nil)
	}

	if delay, ok := AsPostponed(runErr); ok {
		runAt := finishedAt.Add(delay)
		jobMetrics.IncOutcome(job.Name, obsmetrics.JobOutcomeRescheduled)
		log.Debug("job postponed", zap.Duration("delay", delay), zap.Error(runErr))
		return w.postpone(parent, job, finishedAt, runAt)
	}

	jobMetrics.IncJobError(job.Name, runErr)
	delay, hasDelay, retry := AsRetryable(runErr)
	if errors.Is(runErr, context.DeadlineExceeded) {
		retry = true
	}
	if retry && job.Attempt < job.maxAttempts(cfg) {
		if !hasDelay {
			delay = Backoff(job.Attempt, cfg, w.random)
		}
		runAt := finishedAt.Add(delay)
		jobMetrics.IncOutcome(job.Name, obsmetrics.JobOutcomeRescheduled)
		log.Info("job rescheduled",
			zap.Duration("delay", delay),
			zap.Error(runErr),
		)
		return w.finish(parent, job, StatusPending, finishedAt, &runAt, runErr)
	}

	jobMetrics.IncOutcome(job.Name, obsmetrics.JobOutcomeFailed)
	log.Error("job failed", zap.Bool("retry_exhausted", retry), zap.Error(runErr))
	return w.finish(parent, job, StatusFailed, finishedAt, nil, runErr)
}

func (w *Worker) invoke(ctx context.Context, handler HandlerFunc, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return handler(ctx, job)
}

func (w *Worker) finish(ctx context.Context, job Job, status Status, at time.Time, runAt *time.Time, runErr error) error {
	updates := map[string]any{
		"status":     status,
		"locked_at":  nil,
		"updated_at": at,
	}
	if runAt != nil {
		updates["run_at"] = *runAt
	}
	if status == StatusDone || status == StatusFailed {
		updates["finished_at"] = at
	}
	if runErr != nil {
		updates["last_error"] = truncate(runErr.Error(), 2000)
	}
	return w.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", job.ID, StatusRunning).
		Updates(updates).Error
}

// postpone returns the job to pending and gives back the attempt spent on
// claiming it.
func (w *Worker) postpone(ctx context.Context, job Job, at, runAt time.Time) error {
	return w.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", job.ID, StatusRunning).
		Updates(map[string]any{
			"status":     StatusPending,
			"attempt":    gorm.Expr("attempt - 1"),
			"locked_at":  nil,
			"run_at":     runAt,
			"updated_at": at,
		}).Error
}

// Recover returns jobs stuck in running beyond the recovery threshold to the
// pending queue. Their attempt counter is kept.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	cfg := w.cfg.Get()
	now := w.clock.Now()
	res := w.db.WithContext(ctx).Model(&Job{}).
		Where("status = ? AND locked_at < ?", StatusRunning, now.Add(-cfg.RecoveryThreshold)).
		Updates(map[string]any{
			"status":     StatusPending,
			"locked_at":  nil,
			"run_at":     now,
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	recovered := int(res.RowsAffected)
	if recovered > 0 {
		obsmetrics.Jobs().AddRecovered(recovered)
		w.log.Warn("recovered stuck jobs", zap.Int("count", recovered))
	}
	return recovered, nil
}

func (j Job) maxAttempts(cfg config.WorkerConfig) int {
	if j.MaxAttempts > 0 {
		return j.MaxAttempts
	}
	return cfg.MaxAttempts
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
