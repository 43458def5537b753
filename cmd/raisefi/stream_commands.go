package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/raisefi/client"
)

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream fund events via SSE (HTTP)",
		ArgsUsage: "[fund_address]",
		Description: `Follow the server's live fund events. Unlike "nats subscribe" this only
needs the server URL.

Example:
  raisefi stream 0x5FbDB2315678afecb367f032d93F642f64180aa3 --jq '.kind == "donation"'`,
		Flags: []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			filter, err := compileFilters(c.StringSlice("must-jq"), cliLogger())
			if err != nil {
				return err
			}

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fund := c.Args().First()
			jsonOutput := c.Bool("json")
			if !jsonOutput {
				target := fund
				if target == "" {
					target = "all funds"
				}
				fmt.Fprintf(c.App.ErrWriter, "📡 Streaming events for %s (Ctrl-C to exit)\n\n", target)
			}

			count := 0
			err = cl.Stream(ctx, fund, func(e *client.FundEvent) error {
				if !filter.Match(e) {
					return nil
				}
				count++
				if jsonOutput {
					data, err := json.Marshal(e)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, string(data))
					return nil
				}
				printFundEvent(c.App.Writer, e)
				fmt.Fprintln(c.App.Writer)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			if err != nil {
				return fmt.Errorf("stream failed: %w", err)
			}

			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "Received %d event(s)\n", count)
			}
			return nil
		},
	}
}
