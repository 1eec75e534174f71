package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/dukex/provisioner/pkg/persistence"
)

const (
	DefaultWorkers      = 4
	DefaultPollInterval = time.Second
	DefaultLease        = 10 * time.Minute
)

// PoolConfig sizes a Pool. Workers are named "<WorkerPrefix>-<n>".
type PoolConfig struct {
	Workers      int           `validate:"min=1,max=256"`
	PollInterval time.Duration `validate:"gt=0"`
	Lease        time.Duration `validate:"gt=0"`
	WorkerPrefix string        `validate:"required"`
}

// Pool runs workers that claim and process jobs, plus a reaper that returns
// jobs with expired leases to the queue.
type Pool struct {
	cfg       PoolConfig
	jobs      persistence.JobRepository
	processor *Processor
	logger    *slog.Logger
	now       func() time.Time
}

func NewPool(cfg PoolConfig, jobs persistence.JobRepository, processor *Processor, logger *slog.Logger) (*Pool, error) {
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.Lease == 0 {
		cfg.Lease = DefaultLease
	}

	if cfg.WorkerPrefix == "" {
		cfg.WorkerPrefix = "worker"
	}

	err := validator.New().Struct(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	return &Pool{
		cfg:       cfg,
		jobs:      jobs,
		processor: processor,
		logger:    logger.With("module", "queue_pool"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run blocks until ctx is cancelled. A worker always finishes the job it has
// claimed before it stops.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "starting worker pool",
		"workers", p.cfg.Workers,
		"poll_interval", p.cfg.PollInterval,
		"lease", p.cfg.Lease,
	)

	group, ctx := errgroup.WithContext(ctx)

	for i := range p.cfg.Workers {
		workerID := fmt.Sprintf("%s-%d", p.cfg.WorkerPrefix, i+1)

		group.Go(func() error {
			p.work(ctx, workerID)

			return nil
		})
	}

	group.Go(func() error {
		p.reap(ctx)

		return nil
	})

	err := group.Wait()

	p.logger.InfoContext(context.WithoutCancel(ctx), "worker pool stopped")

	return err
}

func (p *Pool) work(ctx context.Context, workerID string) {
	for {
		processed, err := p.RunOnce(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			p.logger.ErrorContext(ctx, "worker iteration failed", "worker_id", workerID, "error", err)
		}

		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether a job was
// claimed.
func (p *Pool) RunOnce(ctx context.Context, workerID string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	job, err := p.jobs.Claim(ctx, workerID)
	if err != nil {
		if errors.Is(err, persistence.ErrNoJobAvailable) {
			return false, nil
		}

		return false, fmt.Errorf("failed to claim job: %w", err)
	}

	return true, p.processor.Process(context.WithoutCancel(ctx), workerID, job)
}

func (p *Pool) reap(ctx context.Context) {
	ticker := time.NewTicker(p.reapInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := p.ReleaseStale(ctx)
			if err != nil && ctx.Err() == nil {
				p.logger.ErrorContext(ctx, "failed to release stale jobs", "error", err)
			}
		}
	}
}

func (p *Pool) reapInterval() time.Duration {
	interval := p.cfg.Lease / 4
	if interval > time.Minute {
		return time.Minute
	}

	if interval < p.cfg.PollInterval {
		return p.cfg.PollInterval
	}

	return interval
}

// ReleaseStale returns jobs processing for longer than the lease to the queue.
func (p *Pool) ReleaseStale(ctx context.Context) (int, error) {
	released, err := p.jobs.ReleaseStale(ctx, p.now().Add(-p.cfg.Lease))
	if err != nil {
		return 0, err
	}

	if released > 0 {
		p.processor.metrics.StaleJobsReleased.Add(float64(released))
		p.logger.WarnContext(ctx, "released stale jobs", "count", released)
	}

	return released, nil
}
