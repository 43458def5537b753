package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/raisefi/service/temporal"
)

func trackingStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Query the receipt tracking workflow of a transaction",
		ArgsUsage: "<tx-hash>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}
			hash := c.Args().First()

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			result, err := tc.TrackingStatus(c.Context, hash)
			if errors.Is(err, temporal.ErrNotTracked) {
				return fmt.Errorf("no tracking workflow for %s", hash)
			}
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, result)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Workflow: %s\n", temporal.WorkflowID(hash))
			fmt.Fprintf(w, "Kind:     %s\n", result.Kind)
			fmt.Fprintf(w, "Status:   %s\n", result.Status)
			if result.Fund != "" {
				fmt.Fprintf(w, "Fund:     %s\n", result.Fund)
			}
			if result.BlockNumber != nil {
				fmt.Fprintf(w, "Block:    %d\n", *result.BlockNumber)
			}
			if result.Error != nil {
				fmt.Fprintf(w, "Error:    %s\n", *result.Error)
			}
			if !result.CompletedAt.IsZero() {
				fmt.Fprintf(w, "Done:     %s\n", result.CompletedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func cancelTrackingCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel the receipt tracking workflow of a transaction",
		ArgsUsage: "<tx-hash>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}
			hash := c.Args().First()

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			id := temporal.WorkflowID(hash)
			if err := tc.SDKClient().CancelWorkflow(c.Context, id, ""); err != nil {
				return fmt.Errorf("failed to cancel workflow: %w", err)
			}

			fmt.Fprintf(c.App.Writer, "✓ Tracking cancelled: %s\n", id)
			return nil
		},
	}
}

// getTemporalClient creates a Temporal client from CLI context.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	host := c.String("temporal-host")
	if host == "" {
		host = "localhost:7233"
	}
	namespace := c.String("temporal-namespace")
	if namespace == "" {
		namespace = "default"
	}
	taskQueue := c.String("temporal-task-queue")
	if taskQueue == "" {
		taskQueue = "raisefi-tx-tracking"
	}

	tc, err := temporal.NewClient(host, namespace, taskQueue, cliLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return tc, nil
}
