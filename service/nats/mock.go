package nats

import (
	"context"
	"strings"
	"sync"
)

// MockPublisher is an in-memory Publisher for tests.
type MockPublisher struct {
	mu           sync.RWMutex
	events       []*FundEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishFundEvent records the event and returns any configured error.
func (m *MockPublisher) PublishFundEvent(ctx context.Context, event *FundEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.events = append(m.events, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Events returns a copy of all published events.
func (m *MockPublisher) Events() []*FundEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*FundEvent, len(m.events))
	copy(out, m.events)
	return out
}

// EventsForFund returns events published for one fund address.
func (m *MockPublisher) EventsForFund(fund string) []*FundEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*FundEvent
	for _, e := range m.events {
		if strings.EqualFold(e.Fund, fund) {
			out = append(out, e)
		}
	}
	return out
}

// SetPublishError configures the mock to fail PublishFundEvent.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
