// Package donation turns a donation draft into a payable fund() call.
package donation

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// EtherDecimals is the number of wei decimals in one native coin.
const EtherDecimals = 18

// ErrInvalidAmount is returned for amounts that are not positive decimals.
var ErrInvalidAmount = errors.New("invalid donation amount")

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(EtherDecimals), nil)

// Draft is the state of an open donation modal.
type Draft struct {
	Amount string `json:"amount"`
}

// Transaction is a derived fund() call ready to send.
type Transaction struct {
	Fund  common.Address `json:"fund"`
	Value *big.Int       `json:"value_wei"`
}

// Build derives the transaction for draft, or returns nil when any
// precondition fails: no fund, no connected identity, or an amount that
// is empty, non-numeric or not greater than zero.
func Build(draft Draft, fund, identity common.Address) *Transaction {
	if fund == (common.Address{}) || identity == (common.Address{}) {
		return nil
	}
	value, err := Validate(draft)
	if err != nil {
		return nil
	}
	return &Transaction{Fund: fund, Value: value}
}

// Validate parses the draft amount into wei.
func Validate(draft Draft) (*big.Int, error) {
	wei, err := ParseEther(draft.Amount)
	if err != nil {
		return nil, err
	}
	if wei.Sign() <= 0 {
		return nil, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return wei, nil
}

// ParseEther converts a decimal coin amount ("0.5", "12", ".25") to wei.
// At most 18 fractional digits are accepted.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return nil, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, s)
	}
	if len(frac) > EtherDecimals {
		return nil, fmt.Errorf("%w: too many decimal places in %q", ErrInvalidAmount, s)
	}

	wei := new(big.Int)
	if whole != "" {
		wei.SetString(whole, 10)
	}
	wei.Mul(wei, weiPerEther)

	if frac != "" {
		fracWei, _ := new(big.Int).SetString(frac+strings.Repeat("0", EtherDecimals-len(frac)), 10)
		wei.Add(wei, fracWei)
	}
	return wei, nil
}

// FormatEther renders wei as a decimal coin amount without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	neg := wei.Sign() < 0
	abs := new(big.Int).Abs(wei)

	q, r := new(big.Int).QuoRem(abs, weiPerEther, new(big.Int))
	out := q.String()
	if r.Sign() != 0 {
		digits := r.String()
		frac := strings.Repeat("0", EtherDecimals-len(digits)) + digits
		out += "." + strings.TrimRight(frac, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
