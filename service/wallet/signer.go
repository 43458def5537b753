// Package wallet holds the server-side signing identity used for
// createFund and fund() transactions.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrNotConnected means the caller has no wallet identity that can sign.
	ErrNotConnected = errors.New("wallet not connected")
	// ErrNoKey is returned when a signer is requested without a private key.
	ErrNoKey = errors.New("no wallet private key configured")
)

// Signer produces transaction options for one account.
type Signer interface {
	Address() common.Address
	TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)
}

// KeySigner signs with an in-memory secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner parses a hex private key (with or without 0x).
func NewKeySigner(hexKey string) (*KeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrNoKey
	}

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet private key: %w", err)
	}

	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

// TransactOpts returns keyed transactor options bound to ctx.
func (s *KeySigner) TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// Authorize checks that identity is connected and is the account the
// signer controls. The zero address counts as disconnected.
func Authorize(signer Signer, identity common.Address) error {
	if signer == nil || identity == (common.Address{}) {
		return ErrNotConnected
	}
	if identity != signer.Address() {
		return fmt.Errorf("%w: %s cannot sign for this server", ErrNotConnected, identity.Hex())
	}
	return nil
}

// ParseIdentity validates a hex address supplied by a user.
func ParseIdentity(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid wallet address %q", s)
	}
	return common.HexToAddress(s), nil
}
