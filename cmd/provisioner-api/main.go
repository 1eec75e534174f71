package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dukex/provisioner/pkg/cmd"
	"github.com/dukex/provisioner/pkg/log"
	"github.com/dukex/provisioner/pkg/otelhelper"
)

const (
	defaultPort = 9091
	serviceName = "provisioner-api"
)

func main() {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
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
		Usage:                 "Onboard purchases and manage automation instances over HTTP",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing provisioner API")

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

			return NewAPI(logger, components).Start(command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
