package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/brojonat/raisefi/service/chain"
	"github.com/brojonat/raisefi/service/db"
	"github.com/brojonat/raisefi/service/donation"
	"github.com/brojonat/raisefi/service/fundraiser"
	"github.com/brojonat/raisefi/service/metrics"
	natspkg "github.com/brojonat/raisefi/service/nats"
	"github.com/brojonat/raisefi/service/temporal"
	"github.com/brojonat/raisefi/service/wallet"
)

// FundWriter sends the two write calls of the product.
type FundWriter interface {
	CreateFund(ctx context.Context, signer wallet.Signer, targetAmount, periodInDays *big.Int) (*types.Transaction, error)
	Fund(ctx context.Context, signer wallet.Signer, fund common.Address, value *big.Int) (*types.Transaction, error)
}

// TransactionStore is the activity log used by the server.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, params db.CreateTransactionParams) (*db.Transaction, error)
	GetTransaction(ctx context.Context, hash string) (*db.Transaction, error)
	ListTransactions(ctx context.Context, params db.ListTransactionsParams) ([]*db.Transaction, error)
}

// Submitted describes a transaction that was accepted by the node.
type Submitted struct {
	Hash string `json:"hash"`
	Kind string `json:"kind"`
	From string `json:"from"`
	Fund string `json:"fund,omitempty"`

	// Amount is the createFund target or the donated wei.
	Amount     string `json:"amount"`
	PeriodDays string `json:"period_days,omitempty"`
	Status     string `json:"status"`
}

// submitter sends writes on behalf of a connected identity and fans the
// result out to the activity log, the event stream and receipt tracking.
// Everything after the send is best effort: the transaction is already
// on its way and a failure there is only logged.
type submitter struct {
	writer         FundWriter
	signer         wallet.Signer
	store          TransactionStore
	publisher      natspkg.Publisher
	tracker        temporal.Tracker
	receiptTimeout time.Duration
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// createFund sends one createFund call.
func (s *submitter) createFund(ctx context.Context, identity common.Address, call *fundraiser.CreateFund) (*Submitted, error) {
	if err := wallet.Authorize(s.signer, identity); err != nil {
		return nil, err
	}
	if s.writer == nil {
		return nil, errors.New("chain writer not configured")
	}

	tx, err := s.writer.CreateFund(ctx, s.signer, call.TargetAmount, call.PeriodInDays)
	if err != nil {
		return nil, fmt.Errorf("failed to send createFund: %w", err)
	}

	sub := &Submitted{
		Hash:       tx.Hash().Hex(),
		Kind:       chain.KindCreateFund,
		From:       strings.ToLower(identity.Hex()),
		Amount:     call.TargetAmount.String(),
		PeriodDays: call.PeriodInDays.String(),
		Status:     db.StatusPending,
	}
	s.followUp(ctx, sub)
	return sub, nil
}

// donate sends one payable fund() call.
func (s *submitter) donate(ctx context.Context, identity common.Address, txn *donation.Transaction) (*Submitted, error) {
	if err := wallet.Authorize(s.signer, identity); err != nil {
		return nil, err
	}
	if s.writer == nil {
		return nil, errors.New("chain writer not configured")
	}

	tx, err := s.writer.Fund(ctx, s.signer, txn.Fund, txn.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to send fund: %w", err)
	}

	sub := &Submitted{
		Hash:   tx.Hash().Hex(),
		Kind:   chain.KindDonation,
		From:   strings.ToLower(identity.Hex()),
		Fund:   strings.ToLower(txn.Fund.Hex()),
		Amount: txn.Value.String(),
		Status: db.StatusPending,
	}
	s.followUp(ctx, sub)
	return sub, nil
}

func (s *submitter) followUp(ctx context.Context, sub *Submitted) {
	logger := s.logger.With("hash", sub.Hash, "kind", sub.Kind)

	if s.store != nil {
		params := db.CreateTransactionParams{
			Hash:        sub.Hash,
			Kind:        sub.Kind,
			FromAddress: sub.From,
			ValueWei:    "0",
		}
		if sub.Kind == chain.KindCreateFund {
			target, period := sub.Amount, sub.PeriodDays
			params.TargetAmount = &target
			params.PeriodDays = &period
		} else {
			fund := sub.Fund
			params.FundAddress = &fund
			params.ValueWei = sub.Amount
		}
		if _, err := s.store.CreateTransaction(ctx, params); err != nil {
			logger.ErrorContext(ctx, "failed to log transaction", "error", err)
		}
	}

	if s.publisher != nil {
		event := &natspkg.FundEvent{
			Type:        natspkg.EventSubmitted,
			Kind:        sub.Kind,
			Hash:        sub.Hash,
			Fund:        sub.Fund,
			From:        sub.From,
			Amount:      sub.Amount,
			PeriodDays:  sub.PeriodDays,
			PublishedAt: time.Now().UTC(),
		}
		if err := s.publisher.PublishFundEvent(ctx, event); err != nil {
			logger.WarnContext(ctx, "failed to publish submitted event", "error", err)
		}
	}

	if s.tracker != nil {
		err := s.tracker.StartTracking(ctx, temporal.TrackTransactionInput{
			Hash:           sub.Hash,
			Kind:           sub.Kind,
			From:           sub.From,
			Fund:           sub.Fund,
			Amount:         sub.Amount,
			PeriodDays:     sub.PeriodDays,
			SubmittedAt:    time.Now().UTC(),
			ReceiptTimeout: s.receiptTimeout,
		})
		if err != nil {
			logger.WarnContext(ctx, "failed to start receipt tracking", "error", err)
		}
	}

	logger.InfoContext(ctx, "transaction submitted", "from", sub.From, "fund", sub.Fund, "amount", sub.Amount)
}
