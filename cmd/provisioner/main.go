// Package main provides the provisioner operator CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dukex/provisioner/pkg/cmd"
	"github.com/dukex/provisioner/pkg/log"
	"github.com/dukex/provisioner/pkg/persistence"
)

func main() {
	err := NewCommand().Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewCommand() *cli.Command {
	return &cli.Command{
		Name:                  "provisioner",
		Usage:                 "Operate automation templates and the provisioning queue",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://... or file://path)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.SetupWriter(command.Root().ErrWriter, command.String("log-level"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			NewTemplatesCommand(),
			NewJobsCommand(),
			NewMigrateCommand(),
		},
	}
}

// withPersistence opens the configured store for the duration of fn.
func withPersistence(
	ctx context.Context,
	command *cli.Command,
	fn func(store persistence.Persistence) error,
) error {
	logger := log.WithModule("cli")

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	return fn(store)
}

func NewMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending schema migrations",
		Action: func(ctx context.Context, command *cli.Command) error {
			return withPersistence(ctx, command, func(store persistence.Persistence) error {
				err := store.HealthCheck(ctx)
				if err != nil {
					return err
				}

				fmt.Fprintln(command.Root().Writer, "Database schema is up to date")

				return nil
			})
		},
	}
}
