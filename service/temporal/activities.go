package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.temporal.io/sdk/activity"

	"github.com/brojonat/raisefi/service/chain"
	"github.com/brojonat/raisefi/service/db"
	"github.com/brojonat/raisefi/service/metrics"
	natspkg "github.com/brojonat/raisefi/service/nats"
)

// AwaitReceiptInput contains parameters for the AwaitReceipt activity.
type AwaitReceiptInput struct {
	Hash         string        `json:"hash"`
	PollInterval time.Duration `json:"poll_interval"`
}

// AwaitReceiptResult describes a mined transaction.
type AwaitReceiptResult struct {
	Hash        string `json:"hash"`
	Success     bool   `json:"success"`
	BlockNumber int64  `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
}

// ResolveCreatedFundInput contains parameters for the ResolveCreatedFund activity.
type ResolveCreatedFundInput struct {
	BlockNumber int64  `json:"block_number"`
	Owner       string `json:"owner"`
}

// ResolveCreatedFundResult holds the fund created by a createFund
// transaction. Fund is empty when it could not be determined.
type ResolveCreatedFundResult struct {
	Fund       string `json:"fund"`
	Candidates int    `json:"candidates"`
}

// RecordTransactionStatusInput contains parameters for the RecordTransactionStatus activity.
type RecordTransactionStatusInput struct {
	Hash        string        `json:"hash"`
	Kind        string        `json:"kind"`
	Status      string        `json:"status"`
	BlockNumber *int64        `json:"block_number,omitempty"`
	Fund        *string       `json:"fund,omitempty"`
	Error       *string       `json:"error,omitempty"`
	Waited      time.Duration `json:"waited"`
}

// RecordTransactionStatusResult reports whether the activity log was updated.
type RecordTransactionStatusResult struct {
	Recorded bool `json:"recorded"`
}

// PublishFundEventInput contains the event to publish.
type PublishFundEventInput struct {
	Event natspkg.FundEvent `json:"event"`
}

// StoreInterface defines the database operations needed by activities.
type StoreInterface interface {
	UpdateTransactionStatus(context.Context, db.UpdateTransactionStatusParams) (*db.Transaction, error)
}

// ChainInterface defines the chain reads needed by activities.
type ChainInterface interface {
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	ActiveFundsAt(ctx context.Context, block *big.Int) ([]common.Address, error)
	FundDetails(ctx context.Context, fund common.Address) (*chain.FundDetails, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishFundEvent(ctx context.Context, event *natspkg.FundEvent) error
}

// Activities holds the dependencies needed by Temporal activities. Store
// and publisher are optional; when nil the matching activity is a no-op.
type Activities struct {
	store     StoreInterface
	chain     ChainInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
func NewActivities(store StoreInterface, chainClient ChainInterface, publisher PublisherInterface, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		chain:     chainClient,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// AwaitReceipt polls for the receipt of a sent transaction, heartbeating on
// every poll, until it is mined or the activity times out.
func (a *Activities) AwaitReceipt(ctx context.Context, input AwaitReceiptInput) (*AwaitReceiptResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("AwaitReceipt", time.Since(start).Seconds())
	}()

	interval := input.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	hash := common.HexToHash(input.Hash)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		receipt, err := a.chain.Receipt(ctx, hash)
		if err != nil {
			a.logger.WarnContext(ctx, "receipt lookup failed", "hash", input.Hash, "error", err)
			return nil, err
		}
		if receipt != nil {
			result := &AwaitReceiptResult{
				Hash:        input.Hash,
				Success:     receipt.Status == types.ReceiptStatusSuccessful,
				BlockNumber: receipt.BlockNumber.Int64(),
				GasUsed:     receipt.GasUsed,
			}
			a.logger.InfoContext(ctx, "transaction mined",
				"hash", input.Hash,
				"success", result.Success,
				"block", result.BlockNumber,
				"polls", polls,
			)
			return result, nil
		}

		activity.RecordHeartbeat(ctx, polls)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ResolveCreatedFund finds the fund a createFund transaction deployed by
// diffing the factory's active funds at the receipt block against the block
// before it. When several funds appeared in the same block the one owned by
// input.Owner is chosen.
func (a *Activities) ResolveCreatedFund(ctx context.Context, input ResolveCreatedFundInput) (*ResolveCreatedFundResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("ResolveCreatedFund", time.Since(start).Seconds())
	}()

	block := big.NewInt(input.BlockNumber)
	after, err := a.chain.ActiveFundsAt(ctx, block)
	if err != nil {
		return nil, fmt.Errorf("failed to read active funds at %d: %w", input.BlockNumber, err)
	}

	var before []common.Address
	if input.BlockNumber > 0 {
		before, err = a.chain.ActiveFundsAt(ctx, new(big.Int).Sub(block, common.Big1))
		if err != nil {
			return nil, fmt.Errorf("failed to read active funds at %d: %w", input.BlockNumber-1, err)
		}
	}

	added := newAddresses(before, after)
	result := &ResolveCreatedFundResult{Candidates: len(added)}

	switch len(added) {
	case 0:
		a.logger.WarnContext(ctx, "no new fund found in receipt block", "block", input.BlockNumber)
		return result, nil
	case 1:
		result.Fund = strings.ToLower(added[0].Hex())
		return result, nil
	}

	owner := common.HexToAddress(input.Owner)
	for _, addr := range added {
		details, err := a.chain.FundDetails(ctx, addr)
		if err != nil {
			return nil, err
		}
		if details.Owner == owner {
			result.Fund = strings.ToLower(addr.Hex())
			return result, nil
		}
	}

	a.logger.WarnContext(ctx, "could not attribute new fund to owner",
		"block", input.BlockNumber,
		"owner", input.Owner,
		"candidates", len(added),
	)
	return result, nil
}

// RecordTransactionStatus writes the outcome to the activity log and records
// outcome metrics.
func (a *Activities) RecordTransactionStatus(ctx context.Context, input RecordTransactionStatusInput) (*RecordTransactionStatusResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("RecordTransactionStatus", time.Since(start).Seconds())
	}()

	a.metrics.RecordTransactionOutcome(input.Kind, input.Status, input.Waited.Seconds())
	a.metrics.RecordWorkflowCompleted(input.Kind, input.Status)

	if a.store == nil {
		a.logger.DebugContext(ctx, "no store configured, skipping status write", "hash", input.Hash)
		return &RecordTransactionStatusResult{}, nil
	}

	_, err := a.store.UpdateTransactionStatus(ctx, db.UpdateTransactionStatusParams{
		Hash:        input.Hash,
		Status:      input.Status,
		BlockNumber: input.BlockNumber,
		FundAddress: input.Fund,
		Error:       input.Error,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to record transaction status",
			"hash", input.Hash,
			"status", input.Status,
			"error", err,
		)
		return nil, fmt.Errorf("failed to record transaction status: %w", err)
	}

	a.logger.InfoContext(ctx, "recorded transaction status",
		"hash", input.Hash,
		"kind", input.Kind,
		"status", input.Status,
	)
	return &RecordTransactionStatusResult{Recorded: true}, nil
}

// PublishFundEvent publishes the event to NATS.
func (a *Activities) PublishFundEvent(ctx context.Context, input PublishFundEventInput) error {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("PublishFundEvent", time.Since(start).Seconds())
	}()

	if a.publisher == nil {
		a.logger.DebugContext(ctx, "no publisher configured, skipping event", "hash", input.Event.Hash)
		return nil
	}

	event := input.Event
	if err := a.publisher.PublishFundEvent(ctx, &event); err != nil {
		return fmt.Errorf("failed to publish fund event: %w", err)
	}
	return nil
}

// newAddresses returns the members of after that are not in before, in
// after's order.
func newAddresses(before, after []common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(before))
	for _, addr := range before {
		seen[addr] = struct{}{}
	}

	var added []common.Address
	for _, addr := range after {
		if _, ok := seen[addr]; !ok {
			added = append(added, addr)
		}
	}
	return added
}
