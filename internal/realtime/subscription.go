package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/karyadesign/karya-api/internal/observability"
)

// FilterFunc decides whether a decoded event applies to the subscriber.
type FilterFunc func(ChangeEvent) bool

// HandlerFunc consumes events that passed validation and the filter.
type HandlerFunc func(ChangeEvent)

type subscription struct {
	key    string
	cancel func()
	once   sync.Once
}

// Manager keeps at most one live feed subscription per key. Re-subscribing a
// key replaces the previous subscription, and the replaced handle's cancel
// becomes a no-op.
type Manager struct {
	feed   Feed
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

// NewManager constructs a subscription manager over the given feed.
func NewManager(feed Feed, logger zerolog.Logger) *Manager {
	return &Manager{
		feed:   feed,
		logger: logger.With().Str("component", "subscription_manager").Logger(),
		subs:   make(map[string]*subscription),
	}
}

// Subscribe opens a feed subscription under the given key. Raw payloads are
// decoded and validated first; malformed events are logged and dropped, never
// forwarded. The returned cancel is idempotent and survives replacement.
func (m *Manager) Subscribe(ctx context.Context, key, topic string, filter FilterFunc, handler HandlerFunc) (func(), error) {
	feedCancel, err := m.feed.Subscribe(ctx, topic, func(payload []byte) {
		event, err := DecodeChangeEvent(payload)
		if err != nil {
			observability.RealtimeEventsDropped().WithLabelValues("malformed").Inc()
			m.logger.Warn().Err(err).Str("key", key).Msg("dropping malformed change event")
			return
		}

		if filter != nil && !filter(event) {
			observability.RealtimeEventsDropped().WithLabelValues("filtered").Inc()
			return
		}

		handler(event)
	})
	if err != nil {
		return nil, err
	}

	sub := &subscription{key: key}
	sub.cancel = func() {
		sub.once.Do(func() {
			feedCancel()
			m.remove(key, sub)
		})
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		feedCancel()
		return func() {}, nil
	}
	if previous, exists := m.subs[key]; exists {
		m.mu.Unlock()
		previous.cancel()
		m.mu.Lock()
		// Close may have run while the lock was dropped; the new handle must
		// not outlive the manager.
		if m.closed {
			m.mu.Unlock()
			feedCancel()
			return func() {}, nil
		}
	}
	m.subs[key] = sub
	m.mu.Unlock()

	observability.RealtimeSubscriptionsActive().Inc()
	m.logger.Debug().Str("key", key).Str("topic", topic).Msg("subscription opened")

	return sub.cancel, nil
}

// Unsubscribe cancels the subscription registered under key, if any. Calling
// it for an unknown or already-removed key is a no-op.
func (m *Manager) Unsubscribe(key string) {
	m.mu.Lock()
	sub, exists := m.subs[key]
	m.mu.Unlock()

	if exists {
		sub.cancel()
	}
}

// Has reports whether a live subscription exists for the key.
func (m *Manager) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.subs[key]
	return exists
}

// Len returns the number of live subscriptions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close tears down every open subscription. A session teardown that misses
// this leaks dangling server-side subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	remaining := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		remaining = append(remaining, sub)
	}
	m.mu.Unlock()

	for _, sub := range remaining {
		sub.cancel()
	}
	m.logger.Debug().Int("count", len(remaining)).Msg("subscription manager closed")
}

// remove drops the map entry only when it still belongs to the cancelling
// subscription, so a stale cancel cannot evict a replacement.
func (m *Manager) remove(key string, sub *subscription) {
	m.mu.Lock()
	if current, exists := m.subs[key]; exists && current == sub {
		delete(m.subs, key)
	}
	m.mu.Unlock()

	observability.RealtimeSubscriptionsActive().Dec()
	m.logger.Debug().Str("key", key).Msg("subscription closed")
}
