// Package chain wraps the factory and fund contracts behind a small
// typed client. All reads and writes go through go-ethereum's bound
// contract so any bind.ContractBackend (ethclient, simulated backend,
// test fake) can drive it.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/brojonat/raisefi/service/metrics"
	"github.com/brojonat/raisefi/service/wallet"
)

var (
	// ErrNoFactory is returned when no contract code exists at the factory address.
	ErrNoFactory = errors.New("no factory contract at configured address")
	// ErrNoFund is returned when no contract code exists at a fund address.
	ErrNoFund = errors.New("no fund contract at address")
)

// Transaction kinds, shared by the activity log, events and tracking.
const (
	KindCreateFund = "create_fund"
	KindDonation   = "donation"
)

// Backend is everything the client needs from an RPC connection.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// FundDetails is the decoded getDetails() tuple of one fund.
type FundDetails struct {
	Address      common.Address
	Owner        common.Address
	TargetAmount *big.Int
	Deadline     *big.Int // unix seconds
	RaisedAmount *big.Int
	Claimed      bool
}

// DeadlineTime converts the on-chain deadline to a time.Time.
func (d *FundDetails) DeadlineTime() time.Time {
	if d.Deadline == nil || !d.Deadline.IsInt64() {
		return time.Time{}
	}
	return time.Unix(d.Deadline.Int64(), 0).UTC()
}

// Client issues factory and fund calls.
type Client struct {
	backend Backend
	factory common.Address
	chainID *big.Int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClient creates a chain client bound to one factory on one chain.
// If metrics is nil, no metrics will be recorded.
func NewClient(backend Backend, factory common.Address, chainID int64, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		backend: backend,
		factory: factory,
		chainID: big.NewInt(chainID),
		metrics: m,
		logger:  logger,
	}
}

// Dial opens a JSON-RPC connection to rpcURL.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}
	return ec, nil
}

// Factory returns the factory address.
func (c *Client) Factory() common.Address { return c.factory }

// ChainID returns a copy of the configured chain id.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// ActiveFunds reads getActiveFunds() at the latest block.
func (c *Client) ActiveFunds(ctx context.Context) ([]common.Address, error) {
	return c.ActiveFundsAt(ctx, nil)
}

// ActiveFundsAt reads getActiveFunds() at a specific block (nil = latest).
// The order of the returned slice is the factory's order.
func (c *Client) ActiveFundsAt(ctx context.Context, block *big.Int) ([]common.Address, error) {
	contract := bind.NewBoundContract(c.factory, FactoryABI, c.backend, c.backend, c.backend)

	var out []interface{}
	err := c.call(ctx, contract, &bind.CallOpts{Context: ctx, BlockNumber: block}, &out, MethodGetActiveFunds)
	if err != nil {
		if errors.Is(err, bind.ErrNoCode) {
			return nil, fmt.Errorf("%w: %s", ErrNoFactory, c.factory.Hex())
		}
		return nil, fmt.Errorf("failed to read active funds: %w", err)
	}

	addrs := *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address)

	c.logger.DebugContext(ctx, "read active funds",
		"factory", c.factory.Hex(),
		"count", len(addrs),
		"block", block,
	)
	return addrs, nil
}

// FundDetails reads getDetails() of one fund.
func (c *Client) FundDetails(ctx context.Context, fund common.Address) (*FundDetails, error) {
	contract := bind.NewBoundContract(fund, FundABI, c.backend, c.backend, c.backend)

	var out []interface{}
	if err := c.call(ctx, contract, &bind.CallOpts{Context: ctx}, &out, MethodGetDetails); err != nil {
		if errors.Is(err, bind.ErrNoCode) {
			return nil, fmt.Errorf("%w: %s", ErrNoFund, fund.Hex())
		}
		return nil, fmt.Errorf("failed to read fund details for %s: %w", fund.Hex(), err)
	}
	if len(out) != 5 {
		return nil, fmt.Errorf("unexpected getDetails output length %d", len(out))
	}

	return &FundDetails{
		Address:      fund,
		Owner:        *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		TargetAmount: abi.ConvertType(out[1], new(big.Int)).(*big.Int),
		Deadline:     abi.ConvertType(out[2], new(big.Int)).(*big.Int),
		RaisedAmount: abi.ConvertType(out[3], new(big.Int)).(*big.Int),
		Claimed:      *abi.ConvertType(out[4], new(bool)).(*bool),
	}, nil
}

// CreateFund sends createFund(targetAmount, periodInDays) signed by signer.
// It returns once the transaction is accepted by the node, not when mined.
func (c *Client) CreateFund(ctx context.Context, signer wallet.Signer, targetAmount, periodInDays *big.Int) (*types.Transaction, error) {
	opts, err := signer.TransactOpts(ctx, c.chainID)
	if err != nil {
		return nil, err
	}

	contract := bind.NewBoundContract(c.factory, FactoryABI, c.backend, c.backend, c.backend)
	tx, err := c.transact(ctx, contract, opts, MethodCreateFund, targetAmount, periodInDays)
	c.metrics.RecordTransactionSubmitted(KindCreateFund, err)
	if err != nil {
		return nil, fmt.Errorf("createFund failed: %w", err)
	}

	c.logger.InfoContext(ctx, "createFund sent",
		"tx", tx.Hash().Hex(),
		"from", opts.From.Hex(),
		"target_amount", targetAmount.String(),
		"period_days", periodInDays.String(),
	)
	return tx, nil
}

// Fund sends a payable fund() call carrying value wei to the fund contract.
func (c *Client) Fund(ctx context.Context, signer wallet.Signer, fund common.Address, value *big.Int) (*types.Transaction, error) {
	opts, err := signer.TransactOpts(ctx, c.chainID)
	if err != nil {
		return nil, err
	}
	opts.Value = value

	contract := bind.NewBoundContract(fund, FundABI, c.backend, c.backend, c.backend)
	tx, err := c.transact(ctx, contract, opts, MethodFund)
	c.metrics.RecordTransactionSubmitted(KindDonation, err)
	if err != nil {
		return nil, fmt.Errorf("fund failed: %w", err)
	}

	c.logger.InfoContext(ctx, "fund sent",
		"tx", tx.Hash().Hex(),
		"from", opts.From.Hex(),
		"fund", fund.Hex(),
		"value_wei", value.String(),
	)
	return tx, nil
}

// Receipt returns the receipt for hash, or nil if it is not mined yet.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	start := time.Now()
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		c.metrics.RecordRPCCall("eth_getTransactionReceipt", time.Since(start).Seconds(), nil)
		return nil, nil
	}
	c.metrics.RecordRPCCall("eth_getTransactionReceipt", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt for %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}

// WaitMined polls for a receipt every interval until one exists or ctx ends.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash, interval time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := c.Receipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}

		c.logger.DebugContext(ctx, "transaction not yet mined", "tx", hash.Hex())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) call(ctx context.Context, contract *bind.BoundContract, opts *bind.CallOpts, out *[]interface{}, method string) error {
	start := time.Now()
	err := contract.Call(opts, out, method)
	c.metrics.RecordRPCCall(method, time.Since(start).Seconds(), err)
	if err != nil {
		c.logger.WarnContext(ctx, "contract call failed", "method", method, "error", err)
	}
	return err
}

func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error) {
	start := time.Now()
	tx, err := contract.Transact(opts, method, params...)
	c.metrics.RecordRPCCall(method, time.Since(start).Seconds(), err)
	if err != nil {
		c.logger.ErrorContext(ctx, "contract transaction failed", "method", method, "error", err)
	}
	return tx, err
}
