package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrMissingClientID is returned when THIRDWEB_CLIENT_ID is not set.
// The RPC connection cannot be initialized without it, so startup must halt.
var ErrMissingClientID = errors.New("no client ID provided: THIRDWEB_CLIENT_ID is required")

const (
	defaultChainID         = 97 // BSC testnet
	defaultFundConcurrency = 8
	maxFundConcurrency     = 64
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	LogLevel    string
	MetricsAddr string

	// Chain configuration
	ClientID         string
	RPCURL           string
	ChainID          int64
	FactoryAddress   common.Address
	WalletPrivateKey string

	// Database configuration (optional, enables the activity log)
	DatabaseURL string

	// NATS configuration (optional, enables fund events and SSE)
	NATSURL string

	// Temporal configuration (optional, enables receipt tracking)
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Read path and session tuning
	FundReadConcurrency int
	DraftTTL            time.Duration
	ReceiptTimeout      time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")

	// The client identifier is the one thing we cannot run without.
	cfg.ClientID = strings.TrimSpace(os.Getenv("THIRDWEB_CLIENT_ID"))
	if cfg.ClientID == "" {
		errs = append(errs, ErrMissingClientID)
	}

	chainID, err := parseInt("CHAIN_ID", defaultChainID)
	if err != nil {
		errs = append(errs, err)
	} else if chainID <= 0 {
		errs = append(errs, fmt.Errorf("CHAIN_ID must be positive, got %d", chainID))
	} else {
		cfg.ChainID = int64(chainID)
	}

	cfg.RPCURL = os.Getenv("RPC_URL")
	if cfg.RPCURL == "" && cfg.ClientID != "" && cfg.ChainID > 0 {
		cfg.RPCURL = DefaultRPCURL(cfg.ChainID, cfg.ClientID)
	}

	factory := os.Getenv("FACTORY_ADDRESS")
	if factory == "" {
		errs = append(errs, fmt.Errorf("FACTORY_ADDRESS is required"))
	} else if !common.IsHexAddress(factory) {
		errs = append(errs, fmt.Errorf("FACTORY_ADDRESS: invalid address %q", factory))
	} else {
		cfg.FactoryAddress = common.HexToAddress(factory)
	}

	cfg.WalletPrivateKey = strings.TrimPrefix(os.Getenv("WALLET_PRIVATE_KEY"), "0x")

	// Optional backing services
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.TemporalHost = os.Getenv("TEMPORAL_HOST")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "raisefi-tx-tracking")

	concurrency, err := parseInt("FUND_READ_CONCURRENCY", defaultFundConcurrency)
	if err != nil {
		errs = append(errs, err)
	} else if concurrency < 1 || concurrency > maxFundConcurrency {
		errs = append(errs, fmt.Errorf("FUND_READ_CONCURRENCY must be between 1 and %d, got %d", maxFundConcurrency, concurrency))
	} else {
		cfg.FundReadConcurrency = concurrency
	}

	draftTTL, err := parseDuration("DRAFT_TTL", "30m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DraftTTL = draftTTL
	}

	receiptTimeout, err := parseDuration("RECEIPT_TIMEOUT", "10m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReceiptTimeout = receiptTimeout
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.ClientID == "" {
		errs = append(errs, ErrMissingClientID)
	}

	if c.RPCURL == "" {
		errs = append(errs, fmt.Errorf("RPCURL is required"))
	}

	if c.ChainID <= 0 {
		errs = append(errs, fmt.Errorf("ChainID must be positive"))
	}

	if c.FactoryAddress == (common.Address{}) {
		errs = append(errs, fmt.Errorf("FactoryAddress is required"))
	}

	if c.FundReadConcurrency < 1 || c.FundReadConcurrency > maxFundConcurrency {
		errs = append(errs, fmt.Errorf("FundReadConcurrency must be between 1 and %d", maxFundConcurrency))
	}

	if c.DraftTTL < time.Minute {
		errs = append(errs, fmt.Errorf("DraftTTL must be at least 1 minute"))
	}

	if c.TemporalHost != "" && c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required when TemporalHost is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// ReadOnly reports whether no server-side wallet key is configured.
func (c *Config) ReadOnly() bool {
	return c.WalletPrivateKey == ""
}

// DefaultRPCURL builds the thirdweb RPC edge URL for a chain.
func DefaultRPCURL(chainID int64, clientID string) string {
	return fmt.Sprintf("https://%d.rpc.thirdweb.com/%s", chainID, clientID)
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
