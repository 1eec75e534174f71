// Package main provides the provisioner queue worker.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"golang.org/x/sync/errgroup"

	"github.com/dukex/provisioner/pkg/cmd"
	"github.com/dukex/provisioner/pkg/events"
	"github.com/dukex/provisioner/pkg/health"
	"github.com/dukex/provisioner/pkg/queue"
)

type WorkerConfig struct {
	Pool        queue.PoolConfig
	SweepSpec   string
	MetricsPort int
}

// Worker drains the job queue, schedules health checks and completes
// onboarding when instances come up.
type Worker struct {
	components *cmd.Components
	pool       *queue.Pool
	sweeper    *health.Sweeper
	cfg        WorkerConfig
	logger     *slog.Logger
}

func NewWorker(components *cmd.Components, cfg WorkerConfig, logger *slog.Logger) (*Worker, error) {
	processor, err := components.Processor()
	if err != nil {
		return nil, err
	}

	pool, err := queue.NewPool(cfg.Pool, components.Persistence.Jobs(), processor, logger)
	if err != nil {
		return nil, err
	}

	sweeper, err := health.NewSweeper(
		cfg.SweepSpec,
		components.Persistence.Instances(),
		components.Persistence.Jobs(),
		components.Core,
		logger,
	)
	if err != nil {
		return nil, err
	}

	return &Worker{
		components: components,
		pool:       pool,
		sweeper:    sweeper,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Run blocks until ctx is cancelled and the pool has drained.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker", "workers", w.cfg.Pool.Workers, "sweep", w.cfg.SweepSpec)

	err := w.components.EventBus.Handle(events.InstanceStatusChangedEvent, w.components.Onboarding.HandleInstanceStatusChanged)
	if err != nil {
		return err
	}

	err = w.components.EventBus.Handle(events.CredentialsRejectedEvent, w.components.Onboarding.HandleCredentialsRejected)
	if err != nil {
		return err
	}

	err = w.components.EventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	err = w.sweeper.Start(ctx)
	if err != nil {
		return err
	}
	defer w.sweeper.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.pool.Run(gctx)
	})

	if w.cfg.MetricsPort > 0 {
		app := w.App()

		g.Go(func() error {
			return app.Listen(":"+strconv.Itoa(w.cfg.MetricsPort), fiber.ListenConfig{DisableStartupMessage: true})
		})

		g.Go(func() error {
			<-gctx.Done()

			return app.Shutdown()
		})
	}

	err = g.Wait()

	w.logger.InfoContext(ctx, "Worker stopped")

	return err
}

// App serves the worker probes and metrics.
func (w *Worker) App() *fiber.App {
	app := fiber.New()

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/metrics", adaptor.HTTPHandler(w.components.Metrics.Handler()))

	return app
}
