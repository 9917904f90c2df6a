package realtime

import (
	"sort"
	"sync"

	"github.com/karyadesign/karya-api/internal/models"
)

// SessionCache is the per-viewer in-memory store of orders and per-order
// message sequences. It is owned by exactly one session; the mutex exists
// because feed consumers and request handlers run on separate goroutines.
type SessionCache struct {
	mu       sync.RWMutex
	orders   map[string]models.DesignOrder
	messages map[string][]models.ChatMessage
	seen     map[string]map[string]struct{}
}

// NewSessionCache constructs an empty cache.
func NewSessionCache() *SessionCache {
	return &SessionCache{
		orders:   make(map[string]models.DesignOrder),
		messages: make(map[string][]models.ChatMessage),
		seen:     make(map[string]map[string]struct{}),
	}
}

// Order returns the cached order for the id.
func (c *SessionCache) Order(id string) (models.DesignOrder, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	order, ok := c.orders[id]
	return order, ok
}

// Orders returns all cached orders, newest first.
func (c *SessionCache) Orders() []models.DesignOrder {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.DesignOrder, 0, len(c.orders))
	for _, order := range c.orders {
		out = append(out, order)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Messages returns a copy of the cached message sequence for the order.
func (c *SessionCache) Messages(orderID string) []models.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sequence := c.messages[orderID]
	out := make([]models.ChatMessage, len(sequence))
	copy(out, sequence)
	return out
}

// UpsertOrder stores the order unconditionally (bootstrap and inserts).
func (c *SessionCache) UpsertOrder(order models.DesignOrder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[order.ID] = order
}

// ReplaceOrder swaps the full order record only when the id is already
// tracked. Updates for unknown orders are ignored: the viewer is not
// following them.
func (c *SessionCache) ReplaceOrder(order models.DesignOrder) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, tracked := c.orders[order.ID]; !tracked {
		return false
	}
	c.orders[order.ID] = order
	return true
}

// ReplaceOrders rebuilds the order set from a full fetch.
func (c *SessionCache) ReplaceOrders(orders []models.DesignOrder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.orders = make(map[string]models.DesignOrder, len(orders))
	for _, order := range orders {
		c.orders[order.ID] = order
	}
}

// AppendMessage inserts the message into the order's sequence, keeping
// chronological order by creation time with arrival order breaking ties.
// Re-feeding a known message id is a no-op; the first call wins.
func (c *SessionCache) AppendMessage(message models.ChatMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids, ok := c.seen[message.OrderID]
	if !ok {
		ids = make(map[string]struct{})
		c.seen[message.OrderID] = ids
	}
	if _, duplicate := ids[message.ID]; duplicate {
		return false
	}
	ids[message.ID] = struct{}{}

	sequence := c.messages[message.OrderID]
	position := len(sequence)
	for position > 0 && sequence[position-1].CreatedAt.After(message.CreatedAt) {
		position--
	}

	sequence = append(sequence, models.ChatMessage{})
	copy(sequence[position+1:], sequence[position:])
	sequence[position] = message
	c.messages[message.OrderID] = sequence
	return true
}

// SetMessages rebuilds an order's message sequence from a history fetch.
func (c *SessionCache) SetMessages(orderID string, messages []models.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sequence := make([]models.ChatMessage, len(messages))
	copy(sequence, messages)
	sort.SliceStable(sequence, func(i, j int) bool {
		return sequence[i].CreatedAt.Before(sequence[j].CreatedAt)
	})

	ids := make(map[string]struct{}, len(sequence))
	for _, message := range sequence {
		ids[message.ID] = struct{}{}
	}

	c.messages[orderID] = sequence
	c.seen[orderID] = ids
}

// DropOrder forgets an order and its messages.
func (c *SessionCache) DropOrder(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.orders, orderID)
	delete(c.messages, orderID)
	delete(c.seen, orderID)
}
