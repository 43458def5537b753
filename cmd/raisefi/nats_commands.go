package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/raisefi/service/nats"
)

// subscribeCommand streams fund events straight from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to fund events",
		ArgsUsage: "[fund_address]",
		Description: `Subscribe to fund events published to NATS JetStream.

Events are published to the subject funds.{fund_address}; createFund
transactions whose fund is not known yet use funds.pending. Without an
argument every fund is followed.

Example:
  raisefi nats subscribe 0x5FbDB2315678afecb367f032d93F642f64180aa3 --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "raisefi-cli",
			},
			&cli.BoolFlag{
				Name:  "new-only",
				Usage: "Skip events published before subscribing",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			filter, err := compileFilters(c.StringSlice("must-jq"), cliLogger())
			if err != nil {
				return err
			}

			subject := natspkg.StreamSubjects
			if c.NArg() == 1 {
				subject = natspkg.Subject(c.Args().First())
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}
			if c.Bool("new-only") {
				consumerConfig.DeliverPolicy = jetstream.DeliverNewPolicy
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return streamFundEvents(ctx, c, consumerConfig, filter)
		},
	}
}

func streamFundEvents(ctx context.Context, c *cli.Context, consumerConfig jetstream.ConsumerConfig, filter *jqFilter) error {
	natsURL := c.String("nats-url")
	jsonOutput := c.Bool("json")
	out := c.App.Writer

	nc, err := natspkg.Connect(natsURL, "raisefi-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(c.App.ErrWriter, "📡 Subscribing to: %s\n", consumerConfig.FilterSubject)
		fmt.Fprintf(c.App.ErrWriter, "   NATS: %s\n", natsURL)
		if consumerConfig.Durable != "" {
			fmt.Fprintf(c.App.ErrWriter, "   Consumer: %s (durable)\n", consumerConfig.Durable)
		}
		fmt.Fprintf(c.App.ErrWriter, "\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.FundEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(c.App.ErrWriter, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}
			msg.Ack()

			if !filter.Match(&event) {
				continue
			}
			count++

			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Fprintln(out, string(data))
				continue
			}
			fmt.Fprintf(out, "[%d] %s %s\n", count, event.Kind, event.Type)
			fmt.Fprintf(out, "   Hash:   %s\n", event.Hash)
			if event.Fund != "" {
				fmt.Fprintf(out, "   Fund:   %s\n", event.Fund)
			}
			fmt.Fprintf(out, "   From:   %s\n", event.From)
			fmt.Fprintf(out, "   Amount: %s\n", event.Amount)
			if event.BlockNumber != nil {
				fmt.Fprintf(out, "   Block:  %d\n", *event.BlockNumber)
			}
			if event.Error != "" {
				fmt.Fprintf(out, "   Error:  %s\n", event.Error)
			}
			fmt.Fprintf(out, "   Published: %s\n\n", event.PublishedAt.Format(time.RFC3339))

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "\nReceived %d event(s)\n", count)
			}
			return nil
		}
	}
}

func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the FUNDS JetStream stream",
		Description: `Show information about the JetStream stream including:
- Message count
- Consumers
- Storage usage
- Stream configuration

Example:
  raisefi nats inspect-stream`,
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "raisefi-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, info)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Description:  %s\n", info.Config.Description)
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
