package notifications

import (
	"sync"
	"time"
)

type Notification struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Log is an in-memory, append-only notification log. Notifications sit
// outside the consistency-critical path, so there is no durability and no
// delivery retry; duplicates are dropped by event id.
type Log struct {
	mu      sync.RWMutex
	entries []Notification
	seen    map[string]struct{}
}

func NewLog() *Log {
	return &Log{
		seen: make(map[string]struct{}),
	}
}

// Append records the notification. It returns false when a notification for
// the same event id was already recorded.
func (l *Log) Append(n Notification) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n.EventID != "" {
		if _, dup := l.seen[n.EventID]; dup {
			return false
		}
		l.seen[n.EventID] = struct{}{}
	}

	l.entries = append(l.entries, n)
	return true
}

// List returns a snapshot of all recorded notifications, oldest first.
func (l *Log) List() []Notification {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Notification, len(l.entries))
	copy(out, l.entries)
	return out
}

// ListByOrder returns the notifications recorded for one order.
func (l *Log) ListByOrder(orderID string) []Notification {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Notification
	for _, n := range l.entries {
		if n.OrderID == orderID {
			out = append(out, n)
		}
	}
	return out
}
