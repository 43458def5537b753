package temporal

import (
	"context"
	"sync"

	"github.com/brojonat/raisefi/service/db"
)

// MockTracker is a mock implementation of Tracker for testing.
type MockTracker struct {
	mu       sync.Mutex
	started  map[string]TrackTransactionInput
	statuses map[string]*TrackTransactionResult
	startErr error
}

// NewMockTracker creates a new MockTracker.
func NewMockTracker() *MockTracker {
	return &MockTracker{
		started:  make(map[string]TrackTransactionInput),
		statuses: make(map[string]*TrackTransactionResult),
	}
}

// StartTracking records the input and reports the transaction as pending.
func (m *MockTracker) StartTracking(ctx context.Context, input TrackTransactionInput) error {
	if m.startErr != nil {
		return m.startErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.started[input.Hash] = input
	if _, ok := m.statuses[input.Hash]; !ok {
		m.statuses[input.Hash] = &TrackTransactionResult{
			Hash:   input.Hash,
			Kind:   input.Kind,
			Status: db.StatusPending,
			Fund:   input.Fund,
		}
	}
	return nil
}

// TrackingStatus returns the recorded status or ErrNotTracked.
func (m *MockTracker) TrackingStatus(ctx context.Context, hash string) (*TrackTransactionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statuses[hash]
	if !ok {
		return nil, ErrNotTracked
	}
	copied := *status
	return &copied, nil
}

// SetStartError makes StartTracking return an error.
func (m *MockTracker) SetStartError(err error) {
	m.startErr = err
}

// SetStatus overrides the status reported for a hash.
func (m *MockTracker) SetStatus(result *TrackTransactionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[result.Hash] = result
}

// Started returns the input StartTracking received for hash.
func (m *MockTracker) Started(hash string) (TrackTransactionInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	input, ok := m.started[hash]
	return input, ok
}

// StartedCount returns how many transactions are being tracked.
func (m *MockTracker) StartedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.started)
}
