package main

import (
	"context"
	"errors"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dukex/provisioner/pkg/log"
	"github.com/dukex/provisioner/pkg/models"
	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/dukex/provisioner/pkg/templates"
)

func NewTemplatesCommand() *cli.Command {
	return &cli.Command{
		Name:    "templates",
		Aliases: []string{"t"},
		Usage:   "Manage published automation templates",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List automations with their latest version",
				Action:  withRegistry(listTemplates),
			},
			{
				Name:      "versions",
				Usage:     "List every published version of an automation",
				ArgsUsage: "<automation-id>",
				Action:    withRegistry(listVersions),
			},
			{
				Name:      "publish",
				Usage:     "Publish a template file as the next version of its automation",
				ArgsUsage: "<template.json>",
				Action:    withRegistry(publishTemplate),
			},
			{
				Name:   "seed",
				Usage:  "Publish the built-in catalog automations that have no version yet",
				Action: withRegistry(seedTemplates),
			},
		},
	}
}

type registryAction func(ctx context.Context, command *cli.Command, registry *templates.Registry) error

func withRegistry(action registryAction) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		return withPersistence(ctx, command, func(store persistence.Persistence) error {
			return action(ctx, command, templates.NewRegistry(store.Templates(), log.WithModule("templates")))
		})
	}
}

func listTemplates(ctx context.Context, command *cli.Command, registry *templates.Registry) error {
	ids, err := registry.AvailableAutomations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list automations: %w", err)
	}

	w := tabwriter.NewWriter(command.Root().Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AUTOMATION\tVERSION\tNAME\tSERVICES")

	for _, id := range ids {
		latest, err := registry.Latest(ctx, id)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			latest.AutomationID, latest.Version, latest.Name, strings.Join(latest.RequiredServices, ","))
	}

	return w.Flush()
}

func listVersions(ctx context.Context, command *cli.Command, registry *templates.Registry) error {
	id := command.Args().First()
	if id == "" {
		return errors.New("automation id is required")
	}

	versions, err := registry.Versions(ctx, id)
	if err != nil {
		return err
	}

	if len(versions) == 0 {
		return fmt.Errorf("automation %s has no published versions", id)
	}

	w := tabwriter.NewWriter(command.Root().Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tPUBLISHED")

	for _, v := range versions {
		fmt.Fprintf(w, "%d\t%s\t%s\n", v.Version, v.Name, v.PublishedAt.Format(time.RFC3339))
	}

	return w.Flush()
}

func publishTemplate(ctx context.Context, command *cli.Command, registry *templates.Registry) error {
	path := command.Args().First()
	if path == "" {
		return errors.New("template file is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}

	var tmpl models.WorkflowTemplate

	err = json.Unmarshal(data, &tmpl)
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", path, err)
	}

	published, err := registry.Publish(ctx, &tmpl)
	if err != nil {
		return err
	}

	fmt.Fprintf(command.Root().Writer, "Published %s version %d\n", published.AutomationID, published.Version)

	return nil
}

func seedTemplates(ctx context.Context, command *cli.Command, registry *templates.Registry) error {
	seeded, err := registry.Seed(ctx, templates.Catalog())
	if err != nil {
		return err
	}

	fmt.Fprintf(command.Root().Writer, "Seeded %d automations\n", seeded)

	return nil
}
