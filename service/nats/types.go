package nats

import (
	"strings"
	"time"

	"github.com/brojonat/raisefi/service/db"
)

// Event types.
const (
	EventSubmitted = "submitted"
	EventConfirmed = "confirmed"
	EventFailed    = "failed"
)

// PendingSubjectToken is used in place of a fund address when a
// createFund transaction has not resolved its fund yet.
const PendingSubjectToken = "pending"

// FundEvent is published to "funds.{fund_address}" (or "funds.pending")
// whenever a transaction sent by this service changes state.
type FundEvent struct {
	Type string `json:"type"`
	Kind string `json:"kind"`
	Hash string `json:"hash"`

	Fund string `json:"fund,omitempty"`
	From string `json:"from"`

	// Amount is the createFund target or the donated wei, as a decimal string.
	Amount      string `json:"amount"`
	PeriodDays  string `json:"period_days,omitempty"`
	BlockNumber *int64 `json:"block_number,omitempty"`
	Error       string `json:"error,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject the event is published on.
func (e *FundEvent) Subject() string {
	return Subject(e.Fund)
}

// Subject returns the subject for a fund address ("" means pending).
func Subject(fund string) string {
	if fund == "" {
		return SubjectPrefix + PendingSubjectToken
	}
	return SubjectPrefix + strings.ToLower(fund)
}

// FromDBTransaction converts an activity log row into an event of eventType.
func FromDBTransaction(eventType string, txn *db.Transaction) *FundEvent {
	event := &FundEvent{
		Type:        eventType,
		Kind:        txn.Kind,
		Hash:        txn.Hash,
		From:        txn.FromAddress,
		Amount:      txn.ValueWei,
		BlockNumber: txn.BlockNumber,
		PublishedAt: time.Now().UTC(),
	}

	if txn.FundAddress != nil {
		event.Fund = *txn.FundAddress
	}
	if txn.TargetAmount != nil {
		event.Amount = *txn.TargetAmount
	}
	if txn.PeriodDays != nil {
		event.PeriodDays = *txn.PeriodDays
	}
	if txn.Error != nil {
		event.Error = *txn.Error
	}

	return event
}
