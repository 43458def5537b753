package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/ethereum/go-ethereum/common"

	"github.com/brojonat/raisefi/service/chain"
	"github.com/brojonat/raisefi/service/db"
	"github.com/brojonat/raisefi/service/donation"
	"github.com/brojonat/raisefi/service/fundraiser"
	"github.com/brojonat/raisefi/service/funds"
	"github.com/brojonat/raisefi/service/temporal"
	"github.com/brojonat/raisefi/service/wallet"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 100
	defaultListLimit   = 100
	maxListLimit       = 1000
)

var (
	validAddressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	validHashRegex    = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// fundResponse is the JSON response format for a fund.
type fundResponse struct {
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

func cardToResponse(c funds.Card) fundResponse {
	resp := fundResponse{
		Address:    c.Address.Hex(),
		Loading:    c.Loading(),
		Visible:    c.Visible,
		ShowDonate: c.ShowDonate,
		ShareURL:   c.ShareURL,
	}
	if c.Details != nil {
		fillDetails(&resp, c.Details)
	}
	return resp
}

func fillDetails(resp *fundResponse, d *chain.FundDetails) {
	deadline := d.DeadlineTime()
	resp.Owner = d.Owner.Hex()
	resp.TargetAmount = d.TargetAmount.String()
	resp.RaisedAmount = d.RaisedAmount.String()
	resp.Deadline = &deadline
	resp.EndsOn = funds.FormatDeadline(deadline)
	resp.Claimed = d.Claimed
	resp.Progress = funds.Progress(d.RaisedAmount, d.TargetAmount)
}

// handleListFunds returns a handler that lists the active funds.
// GET /api/v1/funds?viewer=ADDRESS&page=PATH&q=SEARCH
func handleListFunds(svc *funds.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		var viewer common.Address
		if v := query.Get("viewer"); v != "" {
			if err := validateAddress(v); err != nil {
				writeError(w, "invalid viewer: "+err.Error(), http.StatusBadRequest)
				return
			}
			viewer = common.HexToAddress(v)
		}

		page := query.Get("page")
		if page == "" {
			page = "/donate"
		}

		listing := svc.Listing(r.Context(), viewer, page).Filter(query.Get("q"))
		if listing.Loading {
			writeError(w, "failed to read active funds", http.StatusBadGateway)
			return
		}

		resp := make([]fundResponse, len(listing.Cards))
		for i, c := range listing.Cards {
			resp[i] = cardToResponse(c)
		}

		logger.DebugContext(r.Context(), "funds listed", "count", len(resp))

		writeJSON(w, map[string]interface{}{
			"funds": resp,
			"count": len(resp),
		}, http.StatusOK)
	})
}

// handleGetFund returns a handler that reads one fund.
// GET /api/v1/funds/{address}?viewer=ADDRESS
func handleGetFund(svc *funds.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		fund := common.HexToAddress(address)

		detail, err := svc.Detail(r.Context(), fund)
		if err != nil {
			if errors.Is(err, chain.ErrNoFund) {
				writeError(w, "fund not found", http.StatusNotFound)
				return
			}
			logger.ErrorContext(r.Context(), "failed to read fund", "fund", address, "error", err)
			writeError(w, "failed to read fund", http.StatusBadGateway)
			return
		}

		resp := fundResponse{Address: fund.Hex(), ShareURL: funds.ShareURL(fund), ShowDonate: true}
		fillDetails(&resp, detail.Details)
		if v := r.URL.Query().Get("viewer"); validateAddress(v) == nil {
			resp.Visible = funds.VisibleTo(detail.Details.Owner, common.HexToAddress(v))
		}

		writeJSON(w, resp, http.StatusOK)
	})
}

// createFundRequest is the body of POST /api/v1/funds.
type createFundRequest struct {
	From string `json:"from"`
	fundraiser.Draft
}

// handleCreateFund returns a handler that sends createFund for a complete draft.
// POST /api/v1/funds
func handleCreateFund(submit *submitter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req createFundRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}

		if err := validateAddress(req.From); err != nil {
			writeError(w, "invalid from: "+err.Error(), http.StatusBadRequest)
			return
		}
		identity := common.HexToAddress(req.From)

		call, err := fundraiser.Prepare(req.Draft, identity)
		if err != nil {
			logger.DebugContext(r.Context(), "draft not ready", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		sub, err := submit.createFund(r.Context(), identity, call)
		if err != nil {
			writeSubmitError(w, r, err, logger)
			return
		}

		writeJSON(w, sub, http.StatusAccepted)
	})
}

type donateRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

// handleDonate returns a handler that sends a payable fund() call.
// POST /api/v1/funds/{address}/donations
func handleDonate(submit *submitter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req donateRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}
		if err := validateAddress(req.From); err != nil {
			writeError(w, "invalid from: "+err.Error(), http.StatusBadRequest)
			return
		}

		draft := donation.Draft{Amount: req.Amount}
		txn := donation.Build(draft, common.HexToAddress(address), common.HexToAddress(req.From))
		if txn == nil {
			msg := "invalid donation"
			if _, err := donation.Validate(draft); err != nil {
				msg = err.Error()
			}
			writeError(w, msg, http.StatusBadRequest)
			return
		}

		sub, err := submit.donate(r.Context(), common.HexToAddress(req.From), txn)
		if err != nil {
			writeSubmitError(w, r, err, logger)
			return
		}

		writeJSON(w, sub, http.StatusAccepted)
	})
}

// handleValidateDraft returns a handler that runs the wizard validators
// over a draft without sending anything.
// POST /api/v1/drafts/validate
func handleValidateDraft(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req createFundRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}

		resp := map[string]interface{}{
			"valid":  true,
			"errors": fundraiser.ValidationErrors{},
		}
		if err := req.Draft.Validate(); err != nil {
			var verrs fundraiser.ValidationErrors
			if errors.As(err, &verrs) {
				resp["errors"] = verrs
			}
			resp["valid"] = false
		}

		var identity common.Address
		if validateAddress(req.From) == nil {
			identity = common.HexToAddress(req.From)
		}
		if _, err := fundraiser.Prepare(req.Draft, identity); err != nil {
			resp["ready"] = false
			resp["reason"] = err.Error()
		} else {
			resp["ready"] = true
		}

		writeJSON(w, resp, http.StatusOK)
	})
}

// handleListTransactions returns a handler that lists logged transactions.
// GET /api/v1/transactions?address=ADDRESS&kind=KIND&status=STATUS&limit=N&offset=N
func handleListTransactions(store TransactionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "activity log is not enabled", http.StatusServiceUnavailable)
			return
		}

		query := r.URL.Query()
		address := query.Get("address")
		if address != "" {
			if err := validateAddress(address); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		kind := query.Get("kind")
		if kind != "" && kind != chain.KindCreateFund && kind != chain.KindDonation {
			writeError(w, fmt.Sprintf("invalid kind: must be %q or %q", chain.KindCreateFund, chain.KindDonation), http.StatusBadRequest)
			return
		}
		status := query.Get("status")
		if status != "" && status != db.StatusPending && status != db.StatusConfirmed && status != db.StatusFailed {
			writeError(w, "invalid status: must be pending, confirmed or failed", http.StatusBadRequest)
			return
		}

		// Parse limit (default 100, max 1000)
		limit := int32(defaultListLimit)
		if limitStr := query.Get("limit"); limitStr != "" {
			var parsedLimit int
			if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedLimit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsedLimit > maxListLimit {
				writeError(w, "limit cannot exceed 1000", http.StatusBadRequest)
				return
			}
			limit = int32(parsedLimit)
		}

		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			var parsedOffset int
			if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedOffset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsedOffset)
		}

		transactions, err := store.ListTransactions(r.Context(), db.ListTransactionsParams{
			Address: address,
			Kind:    kind,
			Status:  status,
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list transactions", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]transactionResponse, len(transactions))
		for i := range transactions {
			resp[i] = transactionToResponse(transactions[i])
		}

		writeJSON(w, map[string]interface{}{
			"transactions": resp,
			"count":        len(resp),
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	})
}

// handleGetTransaction returns a handler that reports one transaction from
// the activity log and, when tracking is enabled, its live tracking state.
// GET /api/v1/transactions/{hash}
func handleGetTransaction(store TransactionStore, tracker temporal.Tracker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := r.PathValue("hash")
		if !validHashRegex.MatchString(hash) {
			writeError(w, "invalid transaction hash: must be 0x followed by 64 hex characters", http.StatusBadRequest)
			return
		}
		// Hashes are logged and tracked in lower case.
		hash = strings.ToLower(hash)
		if store == nil && tracker == nil {
			writeError(w, "transaction tracking is not enabled", http.StatusServiceUnavailable)
			return
		}

		resp := map[string]interface{}{"hash": hash}
		found := false

		if store != nil {
			txn, err := store.GetTransaction(r.Context(), hash)
			switch {
			case err == nil:
				resp["transaction"] = transactionToResponse(txn)
				found = true
			case !errors.Is(err, db.ErrNotFound):
				logger.ErrorContext(r.Context(), "failed to get transaction", "hash", hash, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
		}

		if tracker != nil {
			status, err := tracker.TrackingStatus(r.Context(), hash)
			switch {
			case err == nil:
				resp["tracking"] = status
				found = true
			case !errors.Is(err, temporal.ErrNotTracked):
				logger.WarnContext(r.Context(), "failed to query tracking status", "hash", hash, "error", err)
			}
		}

		if !found {
			writeError(w, "transaction not found", http.StatusNotFound)
			return
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// transactionResponse is the JSON response format for a logged transaction.
type transactionResponse struct {
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

// transactionToResponse converts a logged Transaction to a response format.
func transactionToResponse(t *db.Transaction) transactionResponse {
	return transactionResponse{
		Hash:         t.Hash,
		Kind:         t.Kind,
		From:         t.FromAddress,
		Fund:         t.FundAddress,
		TargetAmount: t.TargetAmount,
		PeriodDays:   t.PeriodDays,
		ValueWei:     t.ValueWei,
		Status:       t.Status,
		BlockNumber:  t.BlockNumber,
		Error:        t.Error,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// decodeBody decodes a size-limited JSON body into dst, writing a 400 and
// returning false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.DebugContext(r.Context(), "failed to decode request", "error", err)
		if strings.Contains(err.Error(), "http: request body too large") {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// writeSubmitError maps a failed write to a status code.
func writeSubmitError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	if errors.Is(err, wallet.ErrNotConnected) {
		writeError(w, err.Error(), http.StatusForbidden)
		return
	}
	logger.ErrorContext(r.Context(), "transaction failed", "error", err)
	writeError(w, "transaction failed: "+err.Error(), http.StatusBadGateway)
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a hex account or contract address.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must be 0x followed by 40 hex characters")
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
