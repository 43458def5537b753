package temporal

import (
	"fmt"
	"strings"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/brojonat/raisefi/service/chain"
	"github.com/brojonat/raisefi/service/db"
	natspkg "github.com/brojonat/raisefi/service/nats"
)

var a *Activities // for type-safe activity invocation

// StatusQuery is the query name answered by TrackTransactionWorkflow.
const StatusQuery = "tracking-status"

const (
	defaultReceiptTimeout = 10 * time.Minute
	defaultPollInterval   = 3 * time.Second
)

// TrackTransactionInput describes a transaction sent by the server.
type TrackTransactionInput struct {
	Hash string `json:"hash"`
	Kind string `json:"kind"`
	From string `json:"from"`

	// Fund is the donation target; empty for createFund.
	Fund string `json:"fund,omitempty"`

	// Amount is the createFund target or the donated wei.
	Amount     string `json:"amount"`
	PeriodDays string `json:"period_days,omitempty"`

	SubmittedAt    time.Time     `json:"submitted_at"`
	ReceiptTimeout time.Duration `json:"receipt_timeout"`
	PollInterval   time.Duration `json:"poll_interval"`
}

// TrackTransactionResult is the tracked state of a transaction. It is also
// the answer to StatusQuery while the workflow runs.
type TrackTransactionResult struct {
	Hash        string    `json:"hash"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Fund        string    `json:"fund,omitempty"`
	BlockNumber *int64    `json:"block_number,omitempty"`
	Error       *string   `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// WorkflowID returns the tracking workflow ID for a transaction hash.
// The hash is lower-cased so any spelling of it maps to one workflow.
func WorkflowID(hash string) string {
	return "track-tx-" + strings.ToLower(hash)
}

// TrackTransactionWorkflow follows one sent transaction to its outcome.
//
// The workflow performs these steps:
// 1. Wait for the receipt (AwaitReceipt)
// 2. For createFund, find the deployed fund (ResolveCreatedFund)
// 3. Write the outcome to the activity log (RecordTransactionStatus)
// 4. Publish a confirmed or failed event (PublishFundEvent)
func TrackTransactionWorkflow(ctx workflow.Context, input TrackTransactionInput) (*TrackTransactionResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("TrackTransactionWorkflow started", "hash", input.Hash, "kind", input.Kind)

	result := &TrackTransactionResult{
		Hash:   input.Hash,
		Kind:   input.Kind,
		Status: db.StatusPending,
		Fund:   input.Fund,
	}

	if err := workflow.SetQueryHandler(ctx, StatusQuery, func() (*TrackTransactionResult, error) {
		return result, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to register status query: %w", err)
	}

	timeout := input.ReceiptTimeout
	if timeout <= 0 {
		timeout = defaultReceiptTimeout
	}
	interval := input.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	retry := &temporalsdk.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    3,
	}

	awaitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    interval * 10,
		RetryPolicy:         retry,
	})
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         retry,
	})

	// Step 1: receipt
	var receipt *AwaitReceiptResult
	err := workflow.ExecuteActivity(awaitCtx, a.AwaitReceipt, AwaitReceiptInput{
		Hash:         input.Hash,
		PollInterval: interval,
	}).Get(ctx, &receipt)

	switch {
	case err != nil:
		logger.Error("receipt wait failed", "hash", input.Hash, "error", err)
		msg := fmt.Sprintf("receipt wait failed: %v", err)
		result.Status = db.StatusFailed
		result.Error = &msg
	case !receipt.Success:
		msg := "transaction reverted"
		result.Status = db.StatusFailed
		result.Error = &msg
		result.BlockNumber = &receipt.BlockNumber
	default:
		result.Status = db.StatusConfirmed
		result.BlockNumber = &receipt.BlockNumber
	}

	// Step 2: created fund
	if result.Status == db.StatusConfirmed && input.Kind == chain.KindCreateFund {
		var resolved *ResolveCreatedFundResult
		err := workflow.ExecuteActivity(ctx, a.ResolveCreatedFund, ResolveCreatedFundInput{
			BlockNumber: receipt.BlockNumber,
			Owner:       input.From,
		}).Get(ctx, &resolved)
		if err != nil {
			logger.Warn("failed to resolve created fund", "hash", input.Hash, "error", err)
		} else if resolved.Fund != "" {
			result.Fund = resolved.Fund
		}
	}

	// Step 3: activity log
	record := RecordTransactionStatusInput{
		Hash:        input.Hash,
		Kind:        input.Kind,
		Status:      result.Status,
		BlockNumber: result.BlockNumber,
		Error:       result.Error,
	}
	if result.Fund != "" {
		fund := result.Fund
		record.Fund = &fund
	}
	if !input.SubmittedAt.IsZero() {
		record.Waited = workflow.Now(ctx).Sub(input.SubmittedAt)
	}
	if err := workflow.ExecuteActivity(ctx, a.RecordTransactionStatus, record).Get(ctx, nil); err != nil {
		logger.Error("failed to record transaction status", "hash", input.Hash, "error", err)
		return result, fmt.Errorf("failed to record transaction status: %w", err)
	}

	// Step 4: event
	eventType := natspkg.EventConfirmed
	if result.Status == db.StatusFailed {
		eventType = natspkg.EventFailed
	}
	event := natspkg.FundEvent{
		Type:        eventType,
		Kind:        input.Kind,
		Hash:        input.Hash,
		Fund:        result.Fund,
		From:        input.From,
		Amount:      input.Amount,
		PeriodDays:  input.PeriodDays,
		BlockNumber: result.BlockNumber,
		PublishedAt: workflow.Now(ctx),
	}
	if result.Error != nil {
		event.Error = *result.Error
	}
	if err := workflow.ExecuteActivity(ctx, a.PublishFundEvent, PublishFundEventInput{Event: event}).Get(ctx, nil); err != nil {
		// The outcome is already recorded; a missed event only affects live views.
		logger.Warn("failed to publish fund event", "hash", input.Hash, "error", err)
	}

	result.CompletedAt = workflow.Now(ctx)
	logger.Info("TrackTransactionWorkflow completed",
		"hash", input.Hash,
		"status", result.Status,
		"fund", result.Fund,
	)
	return result, nil
}
