package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ErrNotFound is returned when the server reports 404 for a fund or transaction.
var ErrNotFound = errors.New("not found")

// Fund is one fund as reported by the server.
type Fund struct {
	Address      string     `json:"address"`
	Loading      bool       `json:"loading"`
	Owner        string     `json:"owner,omitempty"`
	TargetAmount string     `json:"target_amount,omitempty"`
	RaisedAmount string     `json:"raised_amount,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	EndsOn       string     `json:"ends_on,omitempty"`
	Claimed      bool       `json:"claimed"`
	Progress     float64    `json:"progress"`
	Visible      bool       `json:"visible"`
	ShowDonate   bool       `json:"show_donate"`
	ShareURL     string     `json:"share_url"`
}

// Draft is a fund creation draft, keyed by the wizard's field names.
type Draft struct {
	Reason      string `json:"fundReason"`
	Title       string `json:"fundRaiserTitle"`
	Description string `json:"fundRaiserDescription"`
	PeriodDays  string `json:"fundPeriodInDays"`
	Amount      string `json:"fundAmount"`
}

// DraftCheck is the server's verdict on a draft.
type DraftCheck struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors"`
	Ready  bool              `json:"ready"`
	Reason string            `json:"reason,omitempty"`
}

// Submitted describes a transaction the server sent.
type Submitted struct {
	Hash       string `json:"hash"`
	Kind       string `json:"kind"`
	From       string `json:"from"`
	Fund       string `json:"fund,omitempty"`
	Amount     string `json:"amount"`
	PeriodDays string `json:"period_days,omitempty"`
	Status     string `json:"status"`
}

// Transaction is one row of the server's activity log.
type Transaction struct {
	Hash         string    `json:"hash"`
	Kind         string    `json:"kind"`
	From         string    `json:"from"`
	Fund         *string   `json:"fund,omitempty"`
	TargetAmount *string   `json:"target_amount,omitempty"`
	PeriodDays   *string   `json:"period_days,omitempty"`
	ValueWei     string    `json:"value_wei"`
	Status       string    `json:"status"`
	BlockNumber  *int64    `json:"block_number,omitempty"`
	Error        *string   `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Tracking is the live receipt tracking state of a transaction.
type Tracking struct {
	Hash        string    `json:"hash"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Fund        string    `json:"fund,omitempty"`
	BlockNumber *int64    `json:"block_number,omitempty"`
	Error       *string   `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// TransactionStatus combines the activity log row and the tracking state.
// Either may be nil when the server has that feature disabled.
type TransactionStatus struct {
	Hash        string       `json:"hash"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Tracking    *Tracking    `json:"tracking,omitempty"`
}

// Status returns the most current status known for the transaction.
func (s *TransactionStatus) Status() string {
	if s.Tracking != nil {
		return s.Tracking.Status
	}
	if s.Transaction != nil {
		return s.Transaction.Status
	}
	return ""
}

// ListFundsParams narrows a fund listing.
type ListFundsParams struct {
	Viewer string // wallet identity used for visibility
	Page   string // "/donate" or "/my-fundraise"
	Query  string // address substring
}

// ListTransactionsParams filters the activity log.
type ListTransactionsParams struct {
	Address string
	Kind    string
	Status  string
	Limit   int
	Offset  int
}

// Client is the HTTP client for the raisefi server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new raisefi client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListFunds lists the factory's active funds.
func (c *Client) ListFunds(ctx context.Context, params ListFundsParams) ([]*Fund, error) {
	q := url.Values{}
	if params.Viewer != "" {
		q.Set("viewer", params.Viewer)
	}
	if params.Page != "" {
		q.Set("page", params.Page)
	}
	if params.Query != "" {
		q.Set("q", params.Query)
	}

	var response struct {
		Funds []*Fund `json:"funds"`
	}
	if err := c.do(ctx, "GET", withQuery("/api/v1/funds", q), nil, http.StatusOK, &response); err != nil {
		return nil, err
	}

	c.logger.Debug("funds listed", "count", len(response.Funds))
	return response.Funds, nil
}

// GetFund reads one fund.
func (c *Client) GetFund(ctx context.Context, address, viewer string) (*Fund, error) {
	q := url.Values{}
	if viewer != "" {
		q.Set("viewer", viewer)
	}

	var fund Fund
	path := withQuery("/api/v1/funds/"+url.PathEscape(address), q)
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &fund); err != nil {
		return nil, err
	}
	return &fund, nil
}

// CreateFund asks the server to send createFund for draft on behalf of from.
func (c *Client) CreateFund(ctx context.Context, from string, draft Draft) (*Submitted, error) {
	body := struct {
		From string `json:"from"`
		Draft
	}{From: from, Draft: draft}

	var sub Submitted
	if err := c.do(ctx, "POST", "/api/v1/funds", body, http.StatusAccepted, &sub); err != nil {
		return nil, err
	}

	c.logger.Debug("createFund submitted", "hash", sub.Hash, "from", from)
	return &sub, nil
}

// Donate asks the server to send amount (in whole coin units, e.g. "0.5")
// to fund on behalf of from.
func (c *Client) Donate(ctx context.Context, fund, from, amount string) (*Submitted, error) {
	body := map[string]string{
		"from":   from,
		"amount": amount,
	}

	var sub Submitted
	path := "/api/v1/funds/" + url.PathEscape(fund) + "/donations"
	if err := c.do(ctx, "POST", path, body, http.StatusAccepted, &sub); err != nil {
		return nil, err
	}

	c.logger.Debug("donation submitted", "hash", sub.Hash, "fund", fund, "amount", amount)
	return &sub, nil
}

// ValidateDraft runs the server's wizard validators over draft.
func (c *Client) ValidateDraft(ctx context.Context, from string, draft Draft) (*DraftCheck, error) {
	body := struct {
		From string `json:"from,omitempty"`
		Draft
	}{From: from, Draft: draft}

	var check DraftCheck
	if err := c.do(ctx, "POST", "/api/v1/drafts/validate", body, http.StatusOK, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// ListTransactions lists the activity log.
func (c *Client) ListTransactions(ctx context.Context, params ListTransactionsParams) ([]*Transaction, error) {
	q := url.Values{}
	if params.Address != "" {
		q.Set("address", params.Address)
	}
	if params.Kind != "" {
		q.Set("kind", params.Kind)
	}
	if params.Status != "" {
		q.Set("status", params.Status)
	}
	if params.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", params.Offset))
	}

	var response struct {
		Transactions []*Transaction `json:"transactions"`
	}
	if err := c.do(ctx, "GET", withQuery("/api/v1/transactions", q), nil, http.StatusOK, &response); err != nil {
		return nil, err
	}
	return response.Transactions, nil
}

// GetTransaction reads one transaction's logged and tracked state.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*TransactionStatus, error) {
	var status TransactionStatus
	if err := c.do(ctx, "GET", "/api/v1/transactions/"+url.PathEscape(hash), nil, http.StatusOK, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WaitMined polls GetTransaction every interval until the transaction is
// no longer pending or ctx is done.
func (c *Client) WaitMined(ctx context.Context, hash string, interval time.Duration) (*TransactionStatus, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.GetTransaction(ctx, hash)
		switch {
		case err == nil && status.Status() != "" && status.Status() != "pending":
			return status, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return nil, err
		}

		c.logger.Debug("transaction still pending", "hash", hash)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// do sends a JSON request and decodes a JSON response into out when the
// status matches want.
func (c *Client) do(ctx context.Context, method, path string, in interface{}, want int, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, errResp.Error)
	}
	return fmt.Errorf("request failed: %s", errResp.Error)
}
