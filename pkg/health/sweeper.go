package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
)

const DefaultSweepSpec = "*/5 * * * *"

// Enqueuer accepts lifecycle jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, action models.JobAction, purchaseID string, payload map[string]any) (*models.QueueJob, error)
}

// Sweeper periodically enqueues health_check jobs for active instances.
type Sweeper struct {
	spec      string
	instances persistence.InstanceRepository
	jobs      persistence.JobRepository
	enqueuer  Enqueuer
	logger    *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSweeper(
	spec string,
	instances persistence.InstanceRepository,
	jobs persistence.JobRepository,
	enqueuer Enqueuer,
	logger *slog.Logger,
) (*Sweeper, error) {
	if spec == "" {
		spec = DefaultSweepSpec
	}

	_, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression '%s': %w", spec, err)
	}

	return &Sweeper{
		spec:      spec,
		instances: instances,
		jobs:      jobs,
		enqueuer:  enqueuer,
		logger:    logger.With("module", "health_sweeper"),
	}, nil
}

// Start schedules sweeps until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("sweeper already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(s.spec, func() {
		_, sweepErr := s.Sweep(s.ctx)
		if sweepErr != nil {
			s.logger.ErrorContext(s.ctx, "health sweep failed", "error", sweepErr)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule health sweep: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "health sweeper started", "cron", s.spec)

	return nil
}

// Stop cancels scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}

	s.cancel()
	<-s.cron.Stop().Done()
	s.cron = nil
}

// Sweep enqueues one health_check per active or paused instance that does not
// already have one pending, and returns how many were enqueued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	enqueued := 0

	for _, status := range []models.InstanceStatus{models.InstanceStatusActive, models.InstanceStatusPaused} {
		instances, err := s.instances.List(ctx, persistence.InstanceFilter{Status: status})
		if err != nil {
			return enqueued, fmt.Errorf("failed to list %s instances: %w", status, err)
		}

		for _, instance := range instances {
			if !instance.HasExternalID() {
				continue
			}

			pending, err := s.jobs.HasPending(ctx, instance.PurchaseID, models.JobActionHealthCheck)
			if err != nil {
				return enqueued, err
			}

			if pending {
				continue
			}

			_, err = s.enqueuer.Enqueue(ctx, models.JobActionHealthCheck, instance.PurchaseID, map[string]any{"source": "sweeper"})
			if err != nil {
				s.logger.WarnContext(ctx, "failed to enqueue health check",
					"purchase_id", instance.PurchaseID,
					"error", err,
				)

				continue
			}

			enqueued++
		}
	}

	if enqueued > 0 {
		s.logger.InfoContext(ctx, "enqueued health checks", "count", enqueued)
	}

	return enqueued, nil
}
