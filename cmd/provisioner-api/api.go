// Package main provides the provisioner API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/dukex/provisioner/pkg/cmd"
	"github.com/dukex/provisioner/pkg/web"
)

type API struct {
	logger     *slog.Logger
	components *cmd.Components
	validate   *validator.Validate
}

func NewAPI(logger *slog.Logger, components *cmd.Components) *API {
	return &API{
		logger:     logger,
		components: components,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.components.Core,
		a.components.Onboarding,
		a.components.Templates,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			_, ok := a.components.Core.HealthCheck(c.Context())

			return ok
		},
	}))

	app.Get("/metrics", adaptor.HTTPHandler(a.components.Metrics.Handler()))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Provisioner API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	a.logger.Info("Starting API server", "port", port)

	return a.App().Listen(":" + strconv.Itoa(port))
}
