// Package memory provides the bounded in-process capture queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
)

// Queue is a bounded in-memory queue with context-aware operations.
// After Close, Enqueue fails and Dequeue drains what is buffered before
// reporting screenshot.ErrQueueClosed.
type Queue struct {
	ch        chan screenshot.CaptureRequest
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a queue holding up to capacity pending requests.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan screenshot.CaptureRequest, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue buffers req, blocking until space frees up, the queue closes, or ctx ends.
func (q *Queue) Enqueue(ctx context.Context, req screenshot.CaptureRequest) error {
	select {
	case <-q.done:
		return screenshot.ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return screenshot.ErrQueueClosed
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (screenshot.CaptureRequest, error) {
	select {
	case req := <-q.ch:
		return req, nil
	default:
	}
	select {
	case <-ctx.Done():
		return screenshot.CaptureRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req := <-q.ch:
		return req, nil
	case <-q.done:
		select {
		case req := <-q.ch:
			return req, nil
		default:
			return screenshot.CaptureRequest{}, screenshot.ErrQueueClosed
		}
	}
}

// Len reports buffered requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops intake. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
