// Package pipeline sequences one capture request through every stage and
// reports its outcome.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/fly-screenshotter/internal/logging"
	"github.com/JakeFAU/fly-screenshotter/internal/metrics"
	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
)

const (
	tracerName    = "github.com/JakeFAU/fly-screenshotter/internal/pipeline"
	notifyTimeout = 10 * time.Second
)

// Deps are the collaborators a Runner drives. Notifier and OnComplete are optional.
type Deps struct {
	Prober     screenshot.Prober
	Browser    screenshot.Browser
	Compressor screenshot.Compressor
	Publisher  screenshot.Publisher
	Spool      screenshot.Spool
	Clock      screenshot.Clock
	Notifier   screenshot.Notifier
	OnComplete func(screenshot.Outcome)
}

// Runner executes capture pipelines. It is safe for concurrent use.
type Runner struct {
	target screenshot.TargetSpec
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer
}

// New validates deps and builds a Runner.
func New(target screenshot.TargetSpec, deps Deps, logger *zap.Logger) (*Runner, error) {
	switch {
	case deps.Prober == nil:
		return nil, fmt.Errorf("prober is required")
	case deps.Browser == nil:
		return nil, fmt.Errorf("browser is required")
	case deps.Compressor == nil:
		return nil, fmt.Errorf("compressor is required")
	case deps.Publisher == nil:
		return nil, fmt.Errorf("publisher is required")
	case deps.Spool == nil:
		return nil, fmt.Errorf("spool is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	if target.Domain == "" {
		return nil, fmt.Errorf("target domain is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		target: target,
		deps:   deps,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Process runs req to completion and returns its outcome. Failures are
// reported through the outcome, never retried.
func (r *Runner) Process(ctx context.Context, req screenshot.CaptureRequest) screenshot.Outcome {
	start := time.Now()
	endpoint := r.target.Endpoint(req.ProjectID)
	log := logging.ForRequest(r.logger, req).With(zap.String("app_name", endpoint.AppName()))

	ctx, span := r.tracer.Start(ctx, "capture", trace.WithAttributes(
		attribute.String("request_id", req.ID),
		attribute.String("project_id", req.ProjectID),
	))
	defer span.End()

	out := screenshot.Outcome{Request: req, URL: endpoint.BaseURL()}
	out.Result, out.Stage, out.Err = r.run(ctx, req, endpoint, log)
	out.Duration = time.Since(start)
	if out.Err != nil {
		out.Status = screenshot.StatusFailed
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	} else {
		out.Status = screenshot.StatusSucceeded
		out.Stage = screenshot.StageDone
	}

	r.finish(ctx, out, log)
	return out
}

func (r *Runner) run(
	ctx context.Context,
	req screenshot.CaptureRequest,
	endpoint screenshot.TargetEndpoint,
	log *zap.Logger,
) (result screenshot.PublishResult, stage screenshot.Stage, err error) {
	healthURL := endpoint.HealthCheckURL(r.deps.Clock.Now())
	if err := r.stage(ctx, screenshot.StageProbe, log, func(ctx context.Context) error {
		return r.deps.Prober.Probe(ctx, healthURL)
	}); err != nil {
		return result, screenshot.StageProbe, err
	}

	path, err := r.deps.Spool.NewPath(req.ProjectID, req.ID)
	if err != nil {
		return result, screenshot.StageCapture, screenshot.Wrap(screenshot.ErrCapture, fmt.Errorf("allocate artifact path: %w", err))
	}
	defer r.cleanup(ctx, path, log)

	var session screenshot.Session
	if err := r.stage(ctx, screenshot.StageLaunch, log, func(ctx context.Context) error {
		var launchErr error
		session, launchErr = r.deps.Browser.Launch(ctx)
		return launchErr
	}); err != nil {
		return result, screenshot.StageLaunch, err
	}
	closed := false
	defer func() {
		if !closed {
			r.closeSession(ctx, session, log)
		}
	}()

	shotURL := endpoint.ScreenshotURL(r.deps.Clock.Now())
	steps := []struct {
		stage screenshot.Stage
		fn    func(context.Context) error
	}{
		{screenshot.StageNavigate, func(ctx context.Context) error { return session.Navigate(ctx, shotURL) }},
		{screenshot.StageSettle, session.AwaitSettle},
		{screenshot.StageCapture, func(ctx context.Context) error { return session.Capture(ctx, path) }},
	}
	for _, step := range steps {
		if err := r.stage(ctx, step.stage, log, step.fn); err != nil {
			return result, step.stage, err
		}
	}

	r.closeSession(ctx, session, log)
	closed = true

	var payload screenshot.CompressedPayload
	if err := r.stage(ctx, screenshot.StageCompress, log, func(ctx context.Context) error {
		var compressErr error
		payload, compressErr = r.deps.Compressor.Compress(ctx, path)
		return compressErr
	}); err != nil {
		return result, screenshot.StageCompress, err
	}

	if err := r.stage(ctx, screenshot.StagePublish, log, func(ctx context.Context) error {
		var publishErr error
		result, publishErr = r.deps.Publisher.Publish(ctx, req.ProjectID, payload)
		return publishErr
	}); err != nil {
		return result, screenshot.StagePublish, err
	}
	return result, screenshot.StageDone, nil
}

// stage runs fn as one named pipeline stage with logging, metrics and a span.
func (r *Runner) stage(ctx context.Context, stage screenshot.Stage, log *zap.Logger, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "stage."+string(stage))
	defer span.End()

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()
	err := classify(stage, fn(ctx))
	elapsed := time.Since(start)
	runtime.ReadMemStats(&after)

	metrics.ObserveStage(string(stage), err, elapsed)
	fields := []zap.Field{
		zap.String("stage", string(stage)),
		zap.Duration("duration", elapsed),
		zap.Int64("heap_delta_bytes", int64(after.HeapAlloc)-int64(before.HeapAlloc)),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("stage failed", append(fields, zap.Error(err))...)
		return err
	}
	log.Info("stage completed", fields...)
	return nil
}

func (r *Runner) closeSession(ctx context.Context, session screenshot.Session, log *zap.Logger) {
	_ = r.stage(ctx, screenshot.StageClose, log, func(context.Context) error {
		if err := session.Close(); err != nil {
			log.Warn("browser close failed", zap.Error(err))
		}
		return nil
	})
}

func (r *Runner) cleanup(ctx context.Context, path string, log *zap.Logger) {
	_ = r.stage(ctx, screenshot.StageCleanup, log, func(context.Context) error {
		if err := r.deps.Spool.Remove(path); err != nil {
			log.Warn("artifact cleanup failed", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

func (r *Runner) finish(ctx context.Context, out screenshot.Outcome, log *zap.Logger) {
	metrics.ObserveCapture(string(out.Status), string(out.Stage), screenshot.KindLabel(out.Err), out.Duration)

	if out.Err != nil {
		log.Error("capture failed",
			zap.String("stage", string(out.Stage)),
			zap.Duration("duration", out.Duration),
			zap.Error(out.Err),
		)
	} else {
		log.Info("capture succeeded",
			zap.String("url", out.Result.ReferenceURL),
			logging.Bytes("size", out.Result.FinalByteSize),
			zap.Duration("duration", out.Duration),
		)
	}

	if r.deps.Notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		if err := r.deps.Notifier.Notify(nctx, out.Event()); err != nil {
			log.Warn("completion notification failed", zap.Error(err))
		}
		cancel()
	}
	if r.deps.OnComplete != nil {
		r.deps.OnComplete(out)
	}
}

// classify attaches the stage's default error kind when err carries none.
func classify(stage screenshot.Stage, err error) error {
	if err == nil || screenshot.Kind(err) != nil {
		return err
	}
	switch stage {
	case screenshot.StageProbe:
		return screenshot.Wrap(screenshot.ErrTargetUnavailable, err)
	case screenshot.StageLaunch:
		return screenshot.Wrap(screenshot.ErrBrowserLaunch, err)
	case screenshot.StageNavigate, screenshot.StageSettle:
		return screenshot.Wrap(screenshot.ErrNavigation, err)
	case screenshot.StageCapture:
		return screenshot.Wrap(screenshot.ErrCapture, err)
	case screenshot.StageCompress:
		return screenshot.Wrap(screenshot.ErrImageProcessing, err)
	case screenshot.StagePublish:
		return screenshot.Wrap(screenshot.ErrPublish, err)
	default:
		return err
	}
}
