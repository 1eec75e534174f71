package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/dukex/provisioner/pkg/cmd"
	"github.com/dukex/provisioner/pkg/health"
	"github.com/dukex/provisioner/pkg/log"
	"github.com/dukex/provisioner/pkg/otelhelper"
	"github.com/dukex/provisioner/pkg/queue"
)

const serviceName = "provisioner-worker"

func main() {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Number of concurrent queue workers",
			Value:   queue.DefaultWorkers,
			Sources: cli.EnvVars("WORKERS"),
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Wait between claims when the queue is empty",
			Value:   queue.DefaultPollInterval,
			Sources: cli.EnvVars("POLL_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "lease",
			Usage:   "Time after which a processing job is considered stale",
			Value:   queue.DefaultLease,
			Sources: cli.EnvVars("JOB_LEASE"),
		},
		&cli.StringFlag{
			Name:    "worker-prefix",
			Usage:   "Prefix of the worker ids recorded on claimed jobs",
			Value:   hostname,
			Sources: cli.EnvVars("WORKER_PREFIX"),
		},
		&cli.StringFlag{
			Name:    "health-cron",
			Usage:   "Cron expression of the health check sweep",
			Value:   health.DefaultSweepSpec,
			Sources: cli.EnvVars("HEALTH_CRON"),
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Usage:   "Port serving /metrics and /livez (disabled when 0)",
			Value:   9092,
			Sources: cli.EnvVars("METRICS_PORT"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	}
	flags = append(flags, cmd.CommonFlags()...)
	flags = append(flags, cmd.EngineFlags()...)

	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Process provisioning jobs against the workflow engine",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("worker")
			logger.InfoContext(ctx, "Initializing provisioner worker")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if command.Bool("tracing") {
				tp, err := otelhelper.Setup(ctx, serviceName)
				if err != nil {
					return err
				}

				defer func() {
					if err := tp.Shutdown(context.Background()); err != nil {
						logger.ErrorContext(ctx, "Failed to shut down tracer provider", "error", err)
					}
				}()
			}

			components, err := cmd.NewComponents(ctx, cmd.ConfigFromCommand(command, serviceName), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := components.Close(context.Background()); err != nil {
					logger.ErrorContext(ctx, "Failed to close components", "error", err)
				}
			}()

			worker, err := NewWorker(components, WorkerConfig{
				Pool: queue.PoolConfig{
					Workers:      command.Int("workers"),
					PollInterval: command.Duration("poll-interval"),
					Lease:        command.Duration("lease"),
					WorkerPrefix: command.String("worker-prefix"),
				},
				SweepSpec:   command.String("health-cron"),
				MetricsPort: command.Int("metrics-port"),
			}, logger)
			if err != nil {
				return err
			}

			return worker.Run(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
