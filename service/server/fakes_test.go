package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/raisefi/service/chain"
	"github.com/brojonat/raisefi/service/config"
	"github.com/brojonat/raisefi/service/db"
	"github.com/brojonat/raisefi/service/funds"
	natspkg "github.com/brojonat/raisefi/service/nats"
	"github.com/brojonat/raisefi/service/temporal"
	"github.com/brojonat/raisefi/service/wallet"
)

const hardhatKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	signerAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	otherAddr  = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	fundA      = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	fundB      = common.HexToAddress("0x00000000000000000000000000000000000000B2")
)

// Fri Mar 14 2025 00:00:00 UTC
const testDeadline = 1741910400

type fakeReader struct {
	addrs   []common.Address
	details map[common.Address]*chain.FundDetails
	listErr error
}

func (f *fakeReader) ActiveFunds(ctx context.Context) ([]common.Address, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.addrs, nil
}

func (f *fakeReader) FundDetails(ctx context.Context, fund common.Address) (*chain.FundDetails, error) {
	d, ok := f.details[fund]
	if !ok {
		return nil, chain.ErrNoFund
	}
	return d, nil
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		addrs: []common.Address{fundA, fundB},
		details: map[common.Address]*chain.FundDetails{
			fundA: {
				Address:      fundA,
				Owner:        signerAddr,
				TargetAmount: big.NewInt(100),
				Deadline:     big.NewInt(testDeadline),
				RaisedAmount: big.NewInt(40),
			},
			fundB: {
				Address:      fundB,
				Owner:        otherAddr,
				TargetAmount: big.NewInt(500),
				Deadline:     big.NewInt(testDeadline),
				RaisedAmount: big.NewInt(0),
			},
		},
	}
}

type createCall struct {
	target, period *big.Int
}

type fundCall struct {
	fund  common.Address
	value *big.Int
}

type fakeWriter struct {
	mu      sync.Mutex
	creates []createCall
	funds   []fundCall
	nonce   uint64
	err     error
}

func (f *fakeWriter) nextTx() *types.Transaction {
	f.nonce++
	return types.NewTx(&types.LegacyTx{Nonce: f.nonce, Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})
}

func (f *fakeWriter) CreateFund(ctx context.Context, signer wallet.Signer, target, period *big.Int) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.creates = append(f.creates, createCall{target: target, period: period})
	return f.nextTx(), nil
}

func (f *fakeWriter) Fund(ctx context.Context, signer wallet.Signer, fund common.Address, value *big.Int) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.funds = append(f.funds, fundCall{fund: fund, value: value})
	return f.nextTx(), nil
}

type memStore struct {
	mu   sync.Mutex
	rows map[string]*db.Transaction
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*db.Transaction)}
}

func (m *memStore) CreateTransaction(ctx context.Context, p db.CreateTransactionParams) (*db.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.Hash]; ok {
		return nil, errors.New("duplicate hash")
	}
	now := time.Now()
	txn := &db.Transaction{
		Hash:         p.Hash,
		Kind:         p.Kind,
		FromAddress:  strings.ToLower(p.FromAddress),
		FundAddress:  p.FundAddress,
		TargetAmount: p.TargetAmount,
		PeriodDays:   p.PeriodDays,
		ValueWei:     p.ValueWei,
		Status:       db.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.rows[p.Hash] = txn
	return txn, nil
}

func (m *memStore) GetTransaction(ctx context.Context, hash string) (*db.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.rows[hash]
	if !ok {
		return nil, db.ErrNotFound
	}
	return txn, nil
}

func (m *memStore) ListTransactions(ctx context.Context, p db.ListTransactionsParams) ([]*db.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*db.Transaction
	for _, txn := range m.rows {
		if p.Kind != "" && txn.Kind != p.Kind {
			continue
		}
		out = append(out, txn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out, nil
}

type testEnv struct {
	server    *Server
	handler   http.Handler
	reader    *fakeReader
	writer    *fakeWriter
	store     *memStore
	publisher *natspkg.MockPublisher
	tracker   *temporal.MockTracker
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestEnv builds a server over in-memory fakes. Options adjust the
// dependencies before the server is built.
func newTestEnv(t *testing.T, opts ...func(*Dependencies)) *testEnv {
	t.Helper()

	signer, err := wallet.NewKeySigner(hardhatKey)
	require.NoError(t, err)

	env := &testEnv{
		reader:    newFakeReader(),
		writer:    &fakeWriter{},
		store:     newMemStore(),
		publisher: natspkg.NewMockPublisher(),
		tracker:   temporal.NewMockTracker(),
	}

	cfg := &config.Config{ChainID: 97, DraftTTL: 30 * time.Minute, ReceiptTimeout: time.Minute}
	deps := Dependencies{
		Funds:     funds.NewService(env.reader, 4, testLogger()),
		Writer:    env.writer,
		Signer:    signer,
		Store:     env.store,
		Publisher: env.publisher,
		Tracker:   env.tracker,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.server = New(":0", cfg, deps, testLogger())
	require.NoError(t, env.server.WithTemplates())
	env.handler = env.server.Handler()
	return env
}

// do sends one request, carrying the session cookie when given.
func (e *testEnv) do(method, path string, body io.Reader, contentType string, session *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if session != nil {
		req.AddCookie(session)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func sessionCookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}
