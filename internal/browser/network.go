package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// idleTracker counts in-flight requests from CDP network events so navigation
// can wait for a quiet period.
type idleTracker struct {
	mu           sync.Mutex
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
	now          func() time.Time
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
		now:          time.Now,
	}
}

func (t *idleTracker) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.started(e.RequestID)
	case *network.EventLoadingFinished:
		t.finished(e.RequestID)
	case *network.EventLoadingFailed:
		t.finished(e.RequestID)
	}
}

func (t *idleTracker) started(id network.RequestID) {
	t.mu.Lock()
	t.inflight[id] = struct{}{}
	t.lastActivity = t.now()
	t.mu.Unlock()
}

func (t *idleTracker) finished(id network.RequestID) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.lastActivity = t.now()
	t.mu.Unlock()
}

// idleFor reports whether nothing is in flight and nothing changed for quiet.
func (t *idleTracker) idleFor(quiet time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) == 0 && t.now().Sub(t.lastActivity) >= quiet
}

func (t *idleTracker) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// wait blocks until the page has been idle for quiet or ctx ends.
func (t *idleTracker) wait(ctx context.Context, quiet time.Duration) error {
	poll := quiet / 5
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if t.idleFor(quiet) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("network idle wait (%d in flight): %w", t.inFlight(), ctx.Err())
		case <-ticker.C:
		}
	}
}
