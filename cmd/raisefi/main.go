package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Flags read their defaults from the environment, so load .env first.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to read .env file: %v", err)
	}

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "raisefi",
		Usage: "Crowdfunding factory CLI",
		Description: `A command-line tool for the raisefi server and its backing services.

Use this CLI to browse and create funds, donate, follow transactions,
and inspect the activity log, event stream and receipt tracking workflows.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Fund commands (HTTP API)
			fundsCommands(),
			// Activity log commands
			{
				Name:  "db",
				Usage: "Activity log commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
					listTransactionsCommand(),
					getTransactionCommand(),
				},
			},
			// Receipt tracking commands
			{
				Name:  "temporal",
				Usage: "Receipt tracking workflow commands",
				Subcommands: []*cli.Command{
					trackingStatusCommand(),
					cancelTrackingCommand(),
				},
			},
			// NATS event commands
			{
				Name:  "nats",
				Usage: "Fund event streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// SSE streaming commands
			streamCommand(),
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "raisefi server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue of the tracking worker",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "raisefi-tx-tracking",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
