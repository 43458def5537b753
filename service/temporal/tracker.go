package temporal

import "context"

// Tracker follows sent transactions to their on-chain outcome.
type Tracker interface {
	// StartTracking starts following one transaction.
	StartTracking(ctx context.Context, input TrackTransactionInput) error

	// TrackingStatus returns the current state of a tracked transaction,
	// or ErrNotTracked.
	TrackingStatus(ctx context.Context, hash string) (*TrackTransactionResult, error)
}

var _ Tracker = (*Client)(nil)
