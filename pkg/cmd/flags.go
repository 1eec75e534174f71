package cmd

import (
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dukex/provisioner/pkg/stats"
)

// CommonFlags are accepted by every binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (postgres://... or file://path)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// EngineFlags configure the workflow engine connection.
func EngineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "engine-url",
			Usage:    "Base URL of the workflow engine API",
			Required: true,
			Sources:  cli.EnvVars("ENGINE_URL"),
		},
		&cli.StringFlag{
			Name:     "engine-api-key",
			Usage:    "API key for the workflow engine",
			Required: true,
			Sources:  cli.EnvVars("ENGINE_API_KEY"),
		},
		&cli.DurationFlag{
			Name:    "engine-timeout",
			Usage:   "Timeout of each engine request",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("ENGINE_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the credential validation cache (disabled when empty)",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.DurationFlag{
			Name:    "credential-timeout",
			Usage:   "Timeout of each provider credential check",
			Value:   10 * time.Second,
			Sources: cli.EnvVars("CREDENTIAL_TIMEOUT"),
		},
		&cli.FloatFlag{
			Name:    "hourly-rate",
			Usage:   "Hourly rate used for saved-cost estimates",
			Value:   stats.DefaultHourlyRate,
			Sources: cli.EnvVars("HOURLY_RATE"),
		},
	}
}

// ConfigFromCommand reads the flags of CommonFlags and, when defined,
// EngineFlags.
func ConfigFromCommand(command *cli.Command, serviceName string) Config {
	return Config{
		ServiceName:       serviceName,
		DatabaseURL:       command.String("database-url"),
		EventBus:          command.String("event-bus"),
		KafkaBrokers:      command.String("kafka-brokers"),
		EngineURL:         command.String("engine-url"),
		EngineAPIKey:      command.String("engine-api-key"),
		EngineTimeout:     command.Duration("engine-timeout"),
		RedisURL:          command.String("redis-url"),
		CredentialTimeout: command.Duration("credential-timeout"),
		HourlyRate:        command.Float("hourly-rate"),
	}
}
