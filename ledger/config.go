package ledger

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultGasLimit is the gas limit used for registry transactions.
const DefaultGasLimit = 300000

// DefaultReceiptPollInterval is how often a pending transaction is polled.
const DefaultReceiptPollInterval = time.Second

// defaultGasPrice is 0 for gas-free chains.
var defaultGasPrice = big.NewInt(0)

// Config holds configuration for the registry contract client.
type Config struct {
	// RPCURL is the JSON-RPC endpoint. Required to submit or read.
	RPCURL string
	// ContractAddress is the address of the ObjectRegistry contract.
	ContractAddress string
	// ChainID is the chain used for EIP-155 signing. Must be greater than 0.
	ChainID int64
	// GasPrice in wei. Defaults to 0 for gas-free chains.
	GasPrice *big.Int
	// GasLimit defaults to DefaultGasLimit.
	GasLimit uint64
	// NoWait returns right after broadcasting instead of waiting for the
	// receipt. Events are then only available through Receipt.
	NoWait bool
	// PollInterval defaults to DefaultReceiptPollInterval.
	PollInterval time.Duration
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.ContractAddress) {
		return errors.New("contract address is required")
	}
	if c.ChainID <= 0 {
		return errors.New("chain ID must be greater than 0, it's required")
	}

	return nil
}

// Standardize sets defaults for optional fields.
func (c *Config) Standardize() {
	if c.GasLimit == 0 {
		c.GasLimit = DefaultGasLimit
	}
	if c.GasPrice == nil {
		c.GasPrice = defaultGasPrice
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultReceiptPollInterval
	}
}
