// Package cmd wires the provisioner components shared by every binary.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/dukex/provisioner/pkg/credentials"
	"github.com/dukex/provisioner/pkg/engine"
	"github.com/dukex/provisioner/pkg/eventbus"
	"github.com/dukex/provisioner/pkg/health"
	"github.com/dukex/provisioner/pkg/metrics"
	"github.com/dukex/provisioner/pkg/onboarding"
	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/dukex/provisioner/pkg/queue"
	"github.com/dukex/provisioner/pkg/services"
	"github.com/dukex/provisioner/pkg/templates"
)

var ErrEngineNotConfigured = errors.New("engine url and api key are required")

// Config is the union of settings the binaries accept. Engine settings may be
// empty for tools that never reach the engine.
type Config struct {
	ServiceName       string        `validate:"required"`
	DatabaseURL       string        `validate:"required"`
	EventBus          string        `validate:"required,oneof=kafka gochannel"`
	KafkaBrokers      string        `validate:"required_if=EventBus kafka"`
	EngineURL         string        `validate:"omitempty,url"`
	EngineAPIKey      string        `validate:"required_with=EngineURL"`
	EngineTimeout     time.Duration `validate:"min=0"`
	RedisURL          string        `validate:"omitempty,url"`
	CredentialTimeout time.Duration `validate:"min=0"`
	HourlyRate        float64       `validate:"min=0"`
}

// Components holds the shared object graph of a running binary.
type Components struct {
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Engine      *engine.Client
	Credentials *credentials.Service
	Templates   *templates.Registry
	History     *health.History
	Metrics     *metrics.Registry
	Core        *services.Core
	Onboarding  *onboarding.Machine

	redis  *redis.Client
	logger *slog.Logger
}

func NewComponents(ctx context.Context, cfg Config, logger *slog.Logger) (*Components, error) {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Components{
		Metrics: metrics.NewRegistry(),
		logger:  logger,
	}

	c.Persistence, err = NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	c.EventBus, err = NewEventBus(cfg.EventBus, cfg.KafkaBrokers, cfg.ServiceName, logger)
	if err != nil {
		_ = c.Close(ctx)

		return nil, err
	}

	opts := []credentials.Option{}
	if cfg.CredentialTimeout > 0 {
		opts = append(opts, credentials.WithTimeout(cfg.CredentialTimeout))
	}

	if cfg.RedisURL != "" {
		c.redis, err = credentials.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			_ = c.Close(ctx)

			return nil, err
		}

		opts = append(opts, credentials.WithCache(credentials.NewRedisCache(c.redis), credentials.DefaultCacheTTL))
	}

	c.Credentials = credentials.NewService(logger, opts...)
	c.Templates = templates.NewRegistry(c.Persistence.Templates(), logger)

	coreDeps := services.CoreDependencies{
		Persistence: c.Persistence,
		Credentials: c.Credentials,
		Metrics:     c.Metrics,
		HourlyRate:  cfg.HourlyRate,
	}

	if cfg.EngineURL != "" {
		c.Engine, err = engine.NewClient(engine.Config{
			BaseURL: cfg.EngineURL,
			APIKey:  cfg.EngineAPIKey,
			Timeout: cfg.EngineTimeout,
		}, logger)
		if err != nil {
			_ = c.Close(ctx)

			return nil, err
		}

		c.History = health.NewHistory(c.Engine, c.Persistence.Executions(), logger)
		coreDeps.Prober = c.Engine
		coreDeps.History = c.History
	}

	c.Core = services.NewCore(coreDeps, logger)
	c.Onboarding = onboarding.NewMachine(c.Persistence, c.Templates, c.Credentials, c.Core, c.EventBus, c.Metrics, logger)

	return c, nil
}

// Processor builds the queue processor. It needs a configured engine.
func (c *Components) Processor() (*queue.Processor, error) {
	if c.Engine == nil {
		return nil, ErrEngineNotConfigured
	}

	return queue.NewProcessor(queue.Dependencies{
		Persistence: c.Persistence,
		Engine:      c.Engine,
		Templates:   c.Templates,
		Readiness:   c.Credentials,
		History:     c.History,
		Publisher:   c.EventBus,
		Metrics:     c.Metrics,
	}, c.logger)
}

// Close releases every connection that was opened.
func (c *Components) Close(ctx context.Context) error {
	var errs []error

	if c.EventBus != nil {
		errs = append(errs, c.EventBus.Close())
	}

	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}

	if c.Persistence != nil {
		errs = append(errs, c.Persistence.Close(ctx))
	}

	return errors.Join(errs...)
}
