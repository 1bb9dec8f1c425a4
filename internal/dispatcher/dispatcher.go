// Package dispatcher manages worker fan-out over the capture queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
	"github.com/JakeFAU/fly-screenshotter/internal/worker"
)

// Dispatcher fans out queued captures to a pool of workers.
type Dispatcher struct {
	queue   screenshot.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue screenshot.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until every worker has returned.
// Workers return once the queue is closed and drained, or ctx ends.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, req screenshot.CaptureRequest) error {
	if err := d.queue.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Close stops intake; running workers finish the buffered requests.
func (d *Dispatcher) Close() {
	d.queue.Close()
}
