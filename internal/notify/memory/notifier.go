// Package memory keeps completion events in memory for local runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
)

// Notifier records completion events for inspection.
type Notifier struct {
	mu     sync.RWMutex
	limit  int
	events []screenshot.CompletionEvent
}

// New returns a Notifier that keeps every event.
func New() *Notifier {
	return &Notifier{}
}

// NewWithLimit returns a Notifier that keeps only the most recent limit events.
func NewWithLimit(limit int) *Notifier {
	return &Notifier{limit: limit}
}

// Notify records event, evicting the oldest when over the limit.
func (n *Notifier) Notify(_ context.Context, event screenshot.CompletionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	if n.limit > 0 && len(n.events) > n.limit {
		n.events = append(n.events[:0], n.events[len(n.events)-n.limit:]...)
	}
	return nil
}

// Events returns a copy of the recorded events.
func (n *Notifier) Events() []screenshot.CompletionEvent {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]screenshot.CompletionEvent, len(n.events))
	copy(out, n.events)
	return out
}
