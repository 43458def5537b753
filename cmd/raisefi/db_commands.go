package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/raisefi/service/db"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the activity log schema if it does not exist",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(c.Context); err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "✓ Schema is up to date")
			return nil
		},
	}
}

func listTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transactions",
		Usage:   "List transactions from the activity log",
		Aliases: []string{"txs"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Filter by sender or fund address",
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Filter by kind (create_fund, donation)",
			},
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (pending, confirmed, failed)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of transactions",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Skip this many transactions",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			transactions, err := store.ListTransactions(c.Context, db.ListTransactionsParams{
				Address: c.String("address"),
				Kind:    c.String("kind"),
				Status:  c.String("status"),
				Limit:   int32(c.Int("limit")),
				Offset:  int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, transactions)
			}

			if len(transactions) == 0 {
				fmt.Fprintln(c.App.Writer, "No transactions found")
				return nil
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HASH\tKIND\tFROM\tFUND\tVALUE (WEI)\tSTATUS\tBLOCK\tCREATED")
			for _, txn := range transactions {
				block := "-"
				if txn.BlockNumber != nil {
					block = fmt.Sprintf("%d", *txn.BlockNumber)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					txn.Hash,
					txn.Kind,
					txn.FromAddress,
					formatOptionalAddress(txn.FundAddress),
					txn.ValueWei,
					txn.Status,
					block,
					txn.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d transactions\n", len(transactions))
			return nil
		},
	}
}

func getTransactionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-transaction",
		Usage:     "Show one transaction from the activity log",
		Aliases:   []string{"tx"},
		ArgsUsage: "<tx-hash>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			txn, err := store.GetTransaction(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, txn)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Hash:     %s\n", txn.Hash)
			fmt.Fprintf(w, "Kind:     %s\n", txn.Kind)
			fmt.Fprintf(w, "From:     %s\n", txn.FromAddress)
			fmt.Fprintf(w, "Fund:     %s\n", formatOptionalAddress(txn.FundAddress))
			if txn.TargetAmount != nil {
				fmt.Fprintf(w, "Target:   %s\n", *txn.TargetAmount)
			}
			if txn.PeriodDays != nil {
				fmt.Fprintf(w, "Period:   %s days\n", *txn.PeriodDays)
			}
			fmt.Fprintf(w, "Value:    %s wei\n", txn.ValueWei)
			fmt.Fprintf(w, "Status:   %s\n", txn.Status)
			if txn.BlockNumber != nil {
				fmt.Fprintf(w, "Block:    %d\n", *txn.BlockNumber)
			}
			if txn.Error != nil {
				fmt.Fprintf(w, "Error:    %s\n", *txn.Error)
			}
			fmt.Fprintf(w, "Created:  %s\n", txn.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Updated:  %s\n", txn.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

// getStore creates a database store from CLI context.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := db.Connect(context.Background(), dbURL)
	if err != nil {
		return nil, nil, err
	}

	return db.NewStore(pool, nil), pool.Close, nil
}

func formatOptionalAddress(addr *string) string {
	if addr != nil && *addr != "" {
		return *addr
	}
	return "(pending)"
}
