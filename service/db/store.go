package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/raisefi/service/metrics"
)

//go:embed schema.sql
var schemaSQL string

// Transaction status values.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when no row matches a lookup.
var ErrNotFound = errors.New("transaction not found")

const table = "fund_transactions"

const transactionColumns = `hash, kind, from_address, fund_address,
	target_amount::text, period_days::text, value_wei::text,
	status, block_number, error, created_at, updated_at`

// Store provides database operations for the activity log.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Transaction is one createFund or fund() transaction sent by this service.
type Transaction struct {
	Hash         string
	Kind         string
	FromAddress  string
	FundAddress  *string // nil for createFund until the new fund is resolved
	TargetAmount *string
	PeriodDays   *string
	ValueWei     string
	Status       string
	BlockNumber  *int64
	Error        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateTransactionParams contains the parameters for logging a sent transaction.
type CreateTransactionParams struct {
	Hash         string
	Kind         string
	FromAddress  string
	FundAddress  *string
	TargetAmount *string
	PeriodDays   *string
	ValueWei     string
}

// ListTransactionsParams filters and paginates the activity log. Address
// matches either the sender or the fund.
type ListTransactionsParams struct {
	Address string
	Kind    string
	Status  string
	Limit   int32
	Offset  int32
}

// UpdateTransactionStatusParams records the outcome of a mined transaction.
type UpdateTransactionStatusParams struct {
	Hash        string
	Status      string
	BlockNumber *int64
	FundAddress *string // only applied when non-nil
	Error       *string
}

// CreateTransaction inserts a pending transaction.
func (s *Store) CreateTransaction(ctx context.Context, params CreateTransactionParams) (*Transaction, error) {
	start := time.Now()

	value := params.ValueWei
	if value == "" {
		value = "0"
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO fund_transactions
			(hash, kind, from_address, fund_address, target_amount, period_days, value_wei, status)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7::text::numeric, 'pending')
		RETURNING `+transactionColumns,
		strings.ToLower(params.Hash),
		params.Kind,
		strings.ToLower(params.FromAddress),
		lowerPtr(params.FundAddress),
		params.TargetAmount,
		params.PeriodDays,
		value,
	)

	txn, err := scanTransaction(row)
	s.metrics.RecordDBQuery("insert", table, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction %s: %w", params.Hash, err)
	}
	return txn, nil
}

// GetTransaction retrieves a transaction by hash.
func (s *Store) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	start := time.Now()
	hash = strings.ToLower(hash)

	row := s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM fund_transactions WHERE hash = $1`, hash)
	txn, err := scanTransaction(row)
	s.metrics.RecordDBQuery("select", table, time.Since(start).Seconds(), err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", hash, err)
	}
	return txn, nil
}

// ListTransactions returns the newest transactions first.
func (s *Store) ListTransactions(ctx context.Context, params ListTransactionsParams) ([]*Transaction, error) {
	start := time.Now()

	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM fund_transactions
		WHERE ($1 = '' OR from_address = $1 OR fund_address = $1)
		  AND ($2 = '' OR kind = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC, hash
		LIMIT $4 OFFSET $5`,
		strings.ToLower(params.Address),
		params.Kind,
		params.Status,
		limit,
		params.Offset,
	)
	if err != nil {
		s.metrics.RecordDBQuery("list", table, time.Since(start).Seconds(), err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			s.metrics.RecordDBQuery("list", table, time.Since(start).Seconds(), err)
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, txn)
	}
	err = rows.Err()
	s.metrics.RecordDBQuery("list", table, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return out, nil
}

// UpdateTransactionStatus records a receipt outcome.
func (s *Store) UpdateTransactionStatus(ctx context.Context, params UpdateTransactionStatusParams) (*Transaction, error) {
	start := time.Now()

	row := s.pool.QueryRow(ctx, `
		UPDATE fund_transactions
		SET status = $2,
		    block_number = COALESCE($3, block_number),
		    fund_address = COALESCE($4, fund_address),
		    error = $5,
		    updated_at = now()
		WHERE hash = $1
		RETURNING `+transactionColumns,
		strings.ToLower(params.Hash),
		params.Status,
		params.BlockNumber,
		lowerPtr(params.FundAddress),
		params.Error,
	)

	txn, err := scanTransaction(row)
	s.metrics.RecordDBQuery("update", table, time.Since(start).Seconds(), err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction %s: %w", params.Hash, err)
	}
	return txn, nil
}

// CountPending returns the number of transactions still awaiting a receipt.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	start := time.Now()

	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM fund_transactions WHERE status = 'pending'`).Scan(&n)
	s.metrics.RecordDBQuery("count", table, time.Since(start).Seconds(), err)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending transactions: %w", err)
	}
	return n, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.Hash,
		&t.Kind,
		&t.FromAddress,
		&t.FundAddress,
		&t.TargetAmount,
		&t.PeriodDays,
		&t.ValueWei,
		&t.Status,
		&t.BlockNumber,
		&t.Error,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func lowerPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.ToLower(*s)
	return &v
}
