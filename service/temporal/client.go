package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// ErrNotTracked is returned when no tracking workflow exists for a hash.
var ErrNotTracked = errors.New("transaction is not tracked")

// Client is a production implementation of Tracker that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartTracking starts a TrackTransactionWorkflow for a sent transaction.
// The workflow ID is derived from the hash, so a second start for the same
// hash fails.
func (c *Client) StartTracking(ctx context.Context, input TrackTransactionInput) error {
	id := WorkflowID(input.Hash)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
		Memo: map[string]interface{}{
			"kind":       input.Kind,
			"from":       input.From,
			"created_by": "raisefi",
		},
	}, TrackTransactionWorkflow, input)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to start tracking workflow",
			"hash", input.Hash,
			"workflow_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to start tracking %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "tracking workflow started",
		"hash", input.Hash,
		"kind", input.Kind,
		"workflow_id", id,
		"run_id", run.GetRunID(),
	)
	return nil
}

// TrackingStatus queries the tracking workflow of hash for its current state.
func (c *Client) TrackingStatus(ctx context.Context, hash string) (*TrackTransactionResult, error) {
	resp, err := c.client.QueryWorkflow(ctx, WorkflowID(hash), "", StatusQuery)
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrNotTracked
		}
		return nil, fmt.Errorf("failed to query tracking status: %w", err)
	}

	var result TrackTransactionResult
	if err := resp.Get(&result); err != nil {
		return nil, fmt.Errorf("failed to decode tracking status: %w", err)
	}
	return &result, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
