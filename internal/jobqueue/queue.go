package jobqueue

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	"github.com/smallbiznis/railzway-benefits/internal/config"
	obsmetrics "github.com/smallbiznis/railzway-benefits/internal/observability/metrics"
	"github.com/smallbiznis/railzway-benefits/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Enqueuer schedules background jobs. Args must be JSON primitives; ids are
// passed as strings.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, args map[string]any, opts ...EnqueueOption) error
}

type enqueueOptions struct {
	delay       time.Duration
	tx          *gorm.DB
	maxAttempts int
}

type EnqueueOption func(*enqueueOptions)

// WithDelay makes the job runnable only after d has elapsed.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.delay = d }
}

// WithTx writes the job inside the caller's transaction so it only becomes
// visible if the transaction commits.
func WithTx(tx *gorm.DB) EnqueueOption {
	return func(o *enqueueOptions) { o.tx = tx }
}

// WithMaxAttempts overrides the worker-wide attempt ceiling for one job.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) { o.maxAttempts = n }
}

type QueueParams struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config *config.WorkerConfigHolder `optional:"true"`
}

type Queue struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	cfg   *config.WorkerConfigHolder
}

func NewQueue(p QueueParams) *Queue {
	return &Queue{
		db:    p.DB,
		log:   p.Log.Named("jobqueue"),
		genID: p.GenID,
		clock: p.Clock,
		cfg:   p.Config,
	}
}

func (q *Queue) Enqueue(ctx context.Context, name string, args map[string]any, opts ...EnqueueOption) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}

	options := enqueueOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	maxAttempts := options.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.Get().MaxAttempts
	}

	now := q.clock.Now()
	payload := datatypes.JSONMap{}
	for key, value := range args {
		payload[key] = value
	}
	job := Job{
		ID:          q.genID.Generate(),
		Name:        name,
		Args:        payload,
		Metadata:    datatypes.JSONMap(correlation.Carrier(ctx)),
		Attempt:     0,
		MaxAttempts: maxAttempts,
		Status:      StatusPending,
		RunAt:       now.Add(options.delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	db := q.db
	if options.tx != nil {
		db = options.tx
	}
	if err := db.WithContext(ctx).Create(&job).Error; err != nil {
		q.log.Error("failed to enqueue job", zap.String("job", name), zap.Error(err))
		return err
	}

	obsmetrics.Jobs().IncEnqueued(name)
	q.log.Debug("job enqueued",
		zap.String("job", name),
		zap.String("job_id", job.ID.String()),
		zap.Duration("delay", options.delay),
	)
	return nil
}
