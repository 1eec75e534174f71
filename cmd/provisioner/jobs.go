package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dukex/provisioner/pkg/log"
	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/dukex/provisioner/pkg/services"
)

func NewJobsCommand() *cli.Command {
	return &cli.Command{
		Name:    "jobs",
		Aliases: []string{"j"},
		Usage:   "Inspect and repair the provisioning queue",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List queue jobs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only jobs in this status (queued, processing, completed, failed, dead_letter)",
					},
					&cli.StringFlag{
						Name:  "purchase",
						Usage: "Only jobs of this purchase",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of jobs to show",
						Value: 50,
					},
				},
				Action: listJobs,
			},
			{
				Name:      "requeue",
				Usage:     "Give a failed or dead-lettered job a fresh attempt budget",
				ArgsUsage: "<job-id>",
				Action:    requeueJob,
			},
			{
				Name:  "enqueue",
				Usage: "Enqueue a lifecycle action for a purchase",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "action",
						Usage:    "Action (create, update, pause, resume, delete, retry, health_check)",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "purchase",
						Usage:    "Purchase id",
						Required: true,
					},
				},
				Action: enqueueJob,
			},
		},
	}
}

func listJobs(ctx context.Context, command *cli.Command) error {
	return withPersistence(ctx, command, func(store persistence.Persistence) error {
		jobs, err := store.Jobs().List(ctx, persistence.JobFilter{
			PurchaseID: command.String("purchase"),
			Status:     models.JobStatus(command.String("status")),
			Limit:      command.Int("limit"),
		})
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}

		w := tabwriter.NewWriter(command.Root().Writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tACTION\tPURCHASE\tSTATUS\tATTEMPTS\tSCHEDULED\tLAST ERROR")

		for _, job := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				job.ID, job.Action, job.PurchaseID, job.Status,
				job.Attempts, job.MaxAttempts,
				job.ScheduledAt.Format(time.RFC3339), job.LastError)
		}

		return w.Flush()
	})
}

func requeueJob(ctx context.Context, command *cli.Command) error {
	id := command.Args().First()
	if id == "" {
		return errors.New("job id is required")
	}

	return withPersistence(ctx, command, func(store persistence.Persistence) error {
		job, err := store.Jobs().Requeue(ctx, id)
		if err != nil {
			return err
		}

		fmt.Fprintf(command.Root().Writer, "Requeued job %s (%s)\n", job.ID, job.Action)

		return nil
	})
}

func enqueueJob(ctx context.Context, command *cli.Command) error {
	return withPersistence(ctx, command, func(store persistence.Persistence) error {
		core := services.NewCore(services.CoreDependencies{Persistence: store}, log.WithModule("cli"))

		job, err := core.Enqueue(ctx, models.JobAction(command.String("action")), command.String("purchase"), nil)
		if err != nil {
			return err
		}

		fmt.Fprintf(command.Root().Writer, "Enqueued job %s (%s)\n", job.ID, job.Action)

		return nil
	})
}
