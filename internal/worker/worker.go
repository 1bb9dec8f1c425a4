// Package worker runs capture pipelines pulled from the queue.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/fly-screenshotter/internal/metrics"
	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
)

// Processor runs one capture to completion.
type Processor interface {
	Process(ctx context.Context, req screenshot.CaptureRequest) screenshot.Outcome
}

// Worker consumes capture requests one at a time.
type Worker struct {
	id        int
	queue     screenshot.Queue
	processor Processor
	logger    *zap.Logger
}

// New constructs a Worker.
func New(id int, queue screenshot.Queue, processor Processor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		processor: processor,
		logger:    logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming requests until the queue closes and drains or ctx ends.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, screenshot.ErrQueueClosed) || ctx.Err() != nil {
				w.logger.Debug("worker stopping", zap.Error(err))
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued capture",
			zap.String("request_id", req.ID),
			zap.String("project_id", req.ProjectID),
		)
		w.process(ctx, req)
	}
}

func (w *Worker) process(ctx context.Context, req screenshot.CaptureRequest) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("capture panicked",
				zap.String("request_id", req.ID),
				zap.Any("panic", r),
			)
		}
	}()
	w.processor.Process(ctx, req)
}
