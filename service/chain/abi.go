package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract method names.
const (
	MethodGetActiveFunds = "getActiveFunds"
	MethodCreateFund     = "createFund"
	MethodGetDetails     = "getDetails"
	MethodFund           = "fund"
)

const factoryABIJSON = `[
  {"type":"function","name":"getActiveFunds","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"createFund","stateMutability":"nonpayable",
   "inputs":[{"name":"_targetAmount","type":"uint256"},{"name":"_fundingPeriodInDays","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]}
]`

const fundABIJSON = `[
  {"type":"function","name":"getDetails","stateMutability":"view","inputs":[],
   "outputs":[
     {"name":"owner","type":"address"},
     {"name":"targetAmount","type":"uint256"},
     {"name":"deadline","type":"uint256"},
     {"name":"raisedAmount","type":"uint256"},
     {"name":"claimed","type":"bool"}
   ]},
  {"type":"function","name":"fund","stateMutability":"payable","inputs":[],"outputs":[]}
]`

var (
	// FactoryABI is the subset of the fund factory interface the app calls.
	FactoryABI = mustParseABI(factoryABIJSON)
	// FundABI is the subset of a single fund (vault) interface the app calls.
	FundABI = mustParseABI(fundABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("chain: invalid ABI: " + err.Error())
	}
	return parsed
}
