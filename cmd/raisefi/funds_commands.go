package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/raisefi/client"
)

func fundsCommands() *cli.Command {
	return &cli.Command{
		Name:  "funds",
		Usage: "Browse, create and donate to funds through the HTTP API",
		Subcommands: []*cli.Command{
			listFundsCommand(),
			showFundCommand(),
			validateDraftCommand(),
			createFundCommand(),
			donateCommand(),
			waitCommand(),
			awaitCommand(),
		},
	}
}

func viewerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "viewer",
		Usage:   "Wallet address whose view of the funds to show",
		EnvVars: []string{"RAISEFI_WALLET"},
	}
}

func fromFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "from",
		Usage:    "Wallet address sending the transaction (must be the server's wallet)",
		EnvVars:  []string{"RAISEFI_WALLET"},
		Required: true,
	}
}

func jqFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:    "must-jq",
		Aliases: []string{"jq"},
		Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
	}
}

func waitFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "wait",
			Aliases: []string{"w"},
			Usage:   "Block until the transaction is mined",
		},
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "Polling interval while waiting",
			Value: 2 * time.Second,
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "How long to wait for the receipt",
			Value:   5 * time.Minute,
		},
	}
}

func draftFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "reason", Usage: "Fund reason (e.g. Medical, Education)"},
		&cli.StringFlag{Name: "title", Usage: "Fundraiser title"},
		&cli.StringFlag{Name: "description", Usage: "Fundraiser description"},
		&cli.StringFlag{Name: "period-days", Usage: "Fund period in days"},
		&cli.StringFlag{Name: "amount", Usage: "Target amount"},
	}
}

func draftFromFlags(c *cli.Context) client.Draft {
	return client.Draft{
		Reason:      c.String("reason"),
		Title:       c.String("title"),
		Description: c.String("description"),
		PeriodDays:  c.String("period-days"),
		Amount:      c.String("amount"),
	}
}

func newAPIClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	return client.NewClient(serverURL, nil, cliLogger()), nil
}

func listFundsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List the factory's active funds",
		Flags: []cli.Flag{
			viewerFlag(),
			&cli.StringFlag{
				Name:  "page",
				Usage: "Listing page: /donate hides the viewer's own funds, /my-fundraise shows only them",
			},
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Only show funds whose address contains this text",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			filter, err := compileFilters(c.StringSlice("must-jq"), cliLogger())
			if err != nil {
				return err
			}

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			funds, err := cl.ListFunds(c.Context, client.ListFundsParams{
				Viewer: c.String("viewer"),
				Page:   c.String("page"),
				Query:  c.String("query"),
			})
			if err != nil {
				return fmt.Errorf("failed to list funds: %w", err)
			}

			matched := make([]*client.Fund, 0, len(funds))
			for _, f := range funds {
				if filter.Match(f) {
					matched = append(matched, f)
				}
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, matched)
			}

			printFundTable(c.App.Writer, matched)
			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d funds\n", len(matched))
			return nil
		},
	}
}

func showFundCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Aliases:   []string{"get"},
		Usage:     "Show one fund",
		ArgsUsage: "<fund-address>",
		Flags:     []cli.Flag{viewerFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: fund address")
			}

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			fund, err := cl.GetFund(c.Context, c.Args().First(), c.String("viewer"))
			if err != nil {
				return fmt.Errorf("failed to get fund: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, fund)
			}
			printFundDetailed(c.App.Writer, fund)
			return nil
		},
	}
}

func validateDraftCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate a fund creation draft without sending it",
		Flags: append(draftFlags(), &cli.StringFlag{
			Name:    "from",
			Usage:   "Wallet address that would create the fund",
			EnvVars: []string{"RAISEFI_WALLET"},
		}),
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			check, err := cl.ValidateDraft(c.Context, c.String("from"), draftFromFlags(c))
			if err != nil {
				return fmt.Errorf("failed to validate draft: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, check)
			}

			w := c.App.Writer
			if len(check.Errors) == 0 {
				fmt.Fprintln(w, "✓ Draft is valid")
			}
			for field, msg := range check.Errors {
				fmt.Fprintf(w, "✗ %s: %s\n", field, msg)
			}
			if check.Ready {
				fmt.Fprintln(w, "Ready to submit")
			} else if check.Reason != "" {
				fmt.Fprintf(w, "Not ready: %s\n", check.Reason)
			}
			return nil
		},
	}
}

func createFundCommand() *cli.Command {
	flags := append(draftFlags(), fromFlag())
	return &cli.Command{
		Name:  "create",
		Usage: "Create a fund through the factory",
		Description: `Sends createFund from the server's wallet. The media proof is only
collected by the web wizard; the API validates the text fields.

Example:
  raisefi funds create --from 0xf39F... --reason Medical --title "Help Ana" \
    --description "Surgery costs for my sister" --period-days 30 --amount 2000 --wait`,
		Flags: append(flags, waitFlags()...),
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			sub, err := cl.CreateFund(c.Context, c.String("from"), draftFromFlags(c))
			if err != nil {
				return fmt.Errorf("failed to create fund: %w", err)
			}
			return reportSubmitted(c, cl, sub)
		},
	}
}

func donateCommand() *cli.Command {
	return &cli.Command{
		Name:      "donate",
		Usage:     "Donate native currency to a fund",
		ArgsUsage: "<fund-address> <amount>",
		Flags:     append([]cli.Flag{fromFlag()}, waitFlags()...),
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: fund address and amount")
			}

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			sub, err := cl.Donate(c.Context, c.Args().Get(0), c.String("from"), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to donate: %w", err)
			}
			return reportSubmitted(c, cl, sub)
		},
	}
}

// reportSubmitted prints a sent transaction and, with --wait, its outcome.
func reportSubmitted(c *cli.Context, cl *client.Client, sub *client.Submitted) error {
	w := c.App.Writer
	jsonOutput := c.Bool("json")

	if !c.Bool("wait") {
		if jsonOutput {
			return outputJSON(w, sub)
		}
		fmt.Fprintf(w, "✓ Transaction sent: %s\n", sub.Hash)
		fmt.Fprintf(w, "  Kind:   %s\n", sub.Kind)
		fmt.Fprintf(w, "  From:   %s\n", sub.From)
		if sub.Fund != "" {
			fmt.Fprintf(w, "  Fund:   %s\n", sub.Fund)
		}
		fmt.Fprintf(w, "  Amount: %s\n", sub.Amount)
		return nil
	}

	if !jsonOutput {
		fmt.Fprintf(c.App.ErrWriter, "Transaction sent: %s, waiting for receipt...\n", sub.Hash)
	}
	return waitAndReport(c, cl, sub.Hash)
}

func waitCommand() *cli.Command {
	return &cli.Command{
		Name:      "wait",
		Usage:     "Poll the server until a transaction is mined",
		ArgsUsage: "<tx-hash>",
		Flags:     waitFlags()[1:],
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			return waitAndReport(c, cl, c.Args().First())
		},
	}
}

func waitAndReport(c *cli.Context, cl *client.Client, hash string) error {
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	status, err := cl.WaitMined(ctx, hash, c.Duration("interval"))
	if err != nil {
		return fmt.Errorf("failed to wait for transaction: %w", err)
	}

	if c.Bool("json") {
		if err := outputJSON(c.App.Writer, status); err != nil {
			return err
		}
	} else {
		printTransactionStatus(c.App.Writer, status)
	}

	if status.Status() == "failed" {
		return fmt.Errorf("transaction %s failed", hash)
	}
	return nil
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a matching event arrives on a fund's live stream",
		ArgsUsage: "[fund-address]",
		Description: `Subscribes to the server's SSE stream and exits on the first event that
matches every filter. Without a fund address all funds are watched.

Example:
  raisefi funds await 0xA1... --jq '.type == "confirmed"' --jq '.kind == "donation"'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "hash",
				Usage: "Wait for the confirmed or failed event of this transaction",
			},
			jqFlag(),
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for the event",
			},
		},
		Action: func(c *cli.Context) error {
			hash := c.String("hash")
			exprs := c.StringSlice("must-jq")
			if hash == "" && len(exprs) == 0 {
				return fmt.Errorf("must specify at least one filter: --hash or --must-jq")
			}

			logger := cliLogger()
			filter, err := compileFilters(exprs, logger)
			if err != nil {
				return err
			}

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			fund := c.Args().First()
			jsonOutput := c.Bool("json")
			if !jsonOutput {
				target := fund
				if target == "" {
					target = "all funds"
				}
				fmt.Fprintf(c.App.ErrWriter, "Waiting for event on %s...\n", target)
				if hash != "" {
					fmt.Fprintf(c.App.ErrWriter, "  Hash: %s\n", hash)
				}
				for _, expr := range exprs {
					fmt.Fprintf(c.App.ErrWriter, "  jq Filter: %s\n", expr)
				}
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			event, err := cl.Await(ctx, fund, func(e *client.FundEvent) bool {
				if hash != "" && (e.Hash != hash || e.Type == "submitted") {
					return false
				}
				return filter.Match(e)
			})
			if err != nil {
				return fmt.Errorf("failed to await event: %w", err)
			}

			if jsonOutput {
				return outputJSON(c.App.Writer, event)
			}
			printFundEvent(c.App.Writer, event)
			return nil
		},
	}
}

func printFundTable(out io.Writer, funds []*client.Fund) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tOWNER\tTARGET\tRAISED\tPROGRESS\tENDS ON\tDONATE")
	for _, f := range funds {
		if f.Loading {
			fmt.Fprintf(w, "%s\t(loading)\t\t\t\t\t\n", f.Address)
			continue
		}
		donate := "-"
		if f.ShowDonate {
			donate = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f%%\t%s\t%s\n",
			f.Address, f.Owner, f.TargetAmount, f.RaisedAmount, f.Progress, f.EndsOn, donate)
	}
	w.Flush()
}

func printFundDetailed(w io.Writer, f *client.Fund) {
	fmt.Fprintf(w, "Address:  %s\n", f.Address)
	if f.Loading {
		fmt.Fprintf(w, "Status:   loading\n")
		return
	}
	fmt.Fprintf(w, "Owner:    %s\n", f.Owner)
	fmt.Fprintf(w, "Target:   %s\n", f.TargetAmount)
	fmt.Fprintf(w, "Raised:   %s (%.1f%%)\n", f.RaisedAmount, f.Progress)
	fmt.Fprintf(w, "Ends On:  %s\n", f.EndsOn)
	fmt.Fprintf(w, "Claimed:  %t\n", f.Claimed)
	fmt.Fprintf(w, "Visible:  %t\n", f.Visible)
	if f.ShareURL != "" {
		fmt.Fprintf(w, "Share:    %s\n", f.ShareURL)
	}
}

func printTransactionStatus(w io.Writer, s *client.TransactionStatus) {
	fmt.Fprintf(w, "Hash:    %s\n", s.Hash)
	fmt.Fprintf(w, "Status:  %s\n", s.Status())
	if t := s.Tracking; t != nil {
		if t.Fund != "" {
			fmt.Fprintf(w, "Fund:    %s\n", t.Fund)
		}
		if t.BlockNumber != nil {
			fmt.Fprintf(w, "Block:   %d\n", *t.BlockNumber)
		}
		if t.Error != nil {
			fmt.Fprintf(w, "Error:   %s\n", *t.Error)
		}
		return
	}
	if t := s.Transaction; t != nil {
		if t.Fund != nil {
			fmt.Fprintf(w, "Fund:    %s\n", *t.Fund)
		}
		if t.BlockNumber != nil {
			fmt.Fprintf(w, "Block:   %d\n", *t.BlockNumber)
		}
		if t.Error != nil {
			fmt.Fprintf(w, "Error:   %s\n", *t.Error)
		}
	}
}

func printFundEvent(w io.Writer, e *client.FundEvent) {
	fmt.Fprintf(w, "Event:   %s %s\n", e.Kind, e.Type)
	fmt.Fprintf(w, "Hash:    %s\n", e.Hash)
	if e.Fund != "" {
		fmt.Fprintf(w, "Fund:    %s\n", e.Fund)
	}
	fmt.Fprintf(w, "From:    %s\n", e.From)
	fmt.Fprintf(w, "Amount:  %s\n", e.Amount)
	if e.BlockNumber != nil {
		fmt.Fprintf(w, "Block:   %d\n", *e.BlockNumber)
	}
	if e.Error != "" {
		fmt.Fprintf(w, "Error:   %s\n", e.Error)
	}
	if !e.PublishedAt.IsZero() {
		fmt.Fprintf(w, "At:      %s\n", e.PublishedAt.Format(time.RFC3339))
	}
}
