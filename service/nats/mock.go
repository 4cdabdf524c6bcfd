package nats

import (
	"context"
	"slices"
	"sync"
)

var _ Publisher = (*MockPublisher)(nil)

// MockPublisher records events in memory. Like the JetStream stream it drops
// events whose MsgID was already published.
type MockPublisher struct {
	mu     sync.RWMutex
	events []*TransactionEvent
	seen   map[string]struct{}
	err    error
	closed bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{seen: make(map[string]struct{})}
}

func (m *MockPublisher) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	return m.PublishTransactionBatch(ctx, []*TransactionEvent{event})
}

// PublishTransactionBatch records events in order, skipping duplicates.
func (m *MockPublisher) PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	for _, event := range events {
		id := event.MsgID()
		if _, dup := m.seen[id]; dup {
			continue
		}
		m.seen[id] = struct{}{}
		m.events = append(m.events, event)
	}
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// FailWith makes every later publish return err. A nil err clears it.
func (m *MockPublisher) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Events returns a copy of everything published so far.
func (m *MockPublisher) Events() []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}

// EventsOn returns the events published on subject, e.g. "txns.BTC.bc1q...".
func (m *MockPublisher) EventsOn(subject string) []*TransactionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*TransactionEvent
	for _, event := range m.events {
		if event.Subject() == subject {
			out = append(out, event)
		}
	}
	return out
}

func (m *MockPublisher) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
