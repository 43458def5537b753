package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFactory = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func TestLoad_ValidConfig(t *testing.T) {
	os.Setenv("THIRDWEB_CLIENT_ID", "client-abc")
	os.Setenv("FACTORY_ADDRESS", testFactory)
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "client-abc", cfg.ClientID)
	assert.Equal(t, common.HexToAddress(testFactory), cfg.FactoryAddress)
	assert.Equal(t, int64(97), cfg.ChainID) // Default
	assert.Equal(t, "https://97.rpc.thirdweb.com/client-abc", cfg.RPCURL)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8, cfg.FundReadConcurrency)
	assert.Equal(t, 30*time.Minute, cfg.DraftTTL)
	assert.Equal(t, 10*time.Minute, cfg.ReceiptTimeout)
	assert.Equal(t, "raisefi-tx-tracking", cfg.TemporalTaskQueue)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
	assert.Empty(t, cfg.TemporalHost)
	assert.True(t, cfg.ReadOnly())
}

func TestLoad_MissingClientID(t *testing.T) {
	os.Setenv("FACTORY_ADDRESS", testFactory)
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.True(t, errors.Is(err, ErrMissingClientID))
	assert.Contains(t, err.Error(), "no client ID provided")
}

func TestLoad_BlankClientID(t *testing.T) {
	os.Setenv("THIRDWEB_CLIENT_ID", "   ")
	os.Setenv("FACTORY_ADDRESS", testFactory)
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingClientID)
}

func TestLoad_MissingFactory(t *testing.T) {
	os.Setenv("THIRDWEB_CLIENT_ID", "client-abc")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "FACTORY_ADDRESS is required")
}

func TestLoad_InvalidFactory(t *testing.T) {
	os.Setenv("THIRDWEB_CLIENT_ID", "client-abc")
	os.Setenv("FACTORY_ADDRESS", "not-an-address")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address")
}

func TestLoad_AggregatesErrors(t *testing.T) {
	os.Setenv("CHAIN_ID", "abc")
	os.Setenv("DRAFT_TTL", "soon")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no client ID provided")
	assert.Contains(t, err.Error(), "FACTORY_ADDRESS is required")
	assert.Contains(t, err.Error(), "CHAIN_ID: invalid integer")
	assert.Contains(t, err.Error(), "DRAFT_TTL: invalid duration")
}

func TestLoad_ConcurrencyBounds(t *testing.T) {
	os.Setenv("THIRDWEB_CLIENT_ID", "client-abc")
	os.Setenv("FACTORY_ADDRESS", testFactory)
	os.Setenv("FUND_READ_CONCURRENCY", "0")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FUND_READ_CONCURRENCY must be between 1 and 64")
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("THIRDWEB_CLIENT_ID", "client-abc")
	os.Setenv("FACTORY_ADDRESS", testFactory)
	os.Setenv("RPC_URL", "http://localhost:8545")
	os.Setenv("CHAIN_ID", "31337")
	os.Setenv("WALLET_PRIVATE_KEY", "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("DATABASE_URL", "postgres://localhost/raisefi")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("TEMPORAL_HOST", "temporal.example.com:7233")
	os.Setenv("FUND_READ_CONCURRENCY", "4")
	os.Setenv("DRAFT_TTL", "5m")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "http://localhost:8545", cfg.RPCURL)
	assert.Equal(t, int64(31337), cfg.ChainID)
	assert.Equal(t, "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", cfg.WalletPrivateKey)
	assert.False(t, cfg.ReadOnly())
	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://localhost/raisefi", cfg.DatabaseURL)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalHost)
	assert.Equal(t, 4, cfg.FundReadConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.DraftTTL)
}

func validConfig() *Config {
	return &Config{
		ClientID:            "client-abc",
		RPCURL:              "https://97.rpc.thirdweb.com/client-abc",
		ChainID:             97,
		FactoryAddress:      common.HexToAddress(testFactory),
		FundReadConcurrency: 8,
		DraftTTL:            30 * time.Minute,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingClientID(t *testing.T) {
	cfg := validConfig()
	cfg.ClientID = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingClientID)
}

func TestValidate_TemporalWithoutQueue(t *testing.T) {
	cfg := validConfig()
	cfg.TemporalHost = "localhost:7233"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TemporalTaskQueue is required")
}

func TestValidate_ShortDraftTTL(t *testing.T) {
	cfg := validConfig()
	cfg.DraftTTL = time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DraftTTL must be at least 1 minute")
}

func TestMustLoad_Panics(t *testing.T) {
	// Don't set required env vars
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	os.Setenv("THIRDWEB_CLIENT_ID", "client-abc")
	os.Setenv("FACTORY_ADDRESS", testFactory)
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	for _, key := range []string{
		"THIRDWEB_CLIENT_ID",
		"RPC_URL",
		"CHAIN_ID",
		"FACTORY_ADDRESS",
		"WALLET_PRIVATE_KEY",
		"SERVER_ADDR",
		"LOG_LEVEL",
		"DATABASE_URL",
		"NATS_URL",
		"TEMPORAL_HOST",
		"FUND_READ_CONCURRENCY",
		"DRAFT_TTL",
		"RECEIPT_TIMEOUT",
	} {
		os.Unsetenv(key)
	}
}
