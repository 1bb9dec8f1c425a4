// Package browser drives isolated headless Chrome sessions through navigation,
// settling, and full-page capture.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/fly-screenshotter/internal/metrics"
	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
)

// Config controls browser launch and per-operation limits.
type Config struct {
	MaxParallel     int
	NoSandbox       bool
	ExecPath        string
	UserAgent       string
	ViewportWidth   int
	ViewportHeight  int
	LaunchTimeout   time.Duration
	NavTimeout      time.Duration
	CaptureTimeout  time.Duration
	NetworkIdle     time.Duration
	SettleTimeout   time.Duration
	SettleDelay     time.Duration
	SettleSelectors []string
}

func (c *Config) applyDefaults() {
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1920
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 1080
	}
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = 20 * time.Second
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = 30 * time.Second
	}
}

// Manager launches one browser process per session and bounds how many run at once.
type Manager struct {
	cfg    Config
	sem    *semaphore.Weighted
	drv    driver
	logger *zap.Logger
}

// New creates a Manager backed by chromedp.
func New(cfg Config, logger *zap.Logger) (*Manager, error) {
	if cfg.MaxParallel <= 0 {
		return nil, fmt.Errorf("max parallel must be > 0")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxParallel)),
		drv:    &chromedpDriver{opts: allocatorOptions(cfg)},
		logger: logger,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Launch starts a fresh browser and returns a session in StateLaunched.
// The browser outlives ctx; only Session.Close tears it down.
func (m *Manager) Launch(ctx context.Context) (screenshot.Session, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, screenshot.Wrap(screenshot.ErrBrowserLaunch, fmt.Errorf("wait for browser slot: %w", err))
	}

	tabCtx, teardown := m.drv.start(context.WithoutCancel(ctx))
	tracker := newIdleTracker()
	m.drv.listen(tabCtx, tracker.handle)

	fail := func(err error) (screenshot.Session, error) {
		teardown()
		m.sem.Release(1)
		return nil, err
	}

	// The first run on a chromedp context starts the browser, so it must not
	// carry a deadline; the launch timeout is enforced here instead.
	started := make(chan error, 1)
	go func() {
		started <- m.drv.run(tabCtx, m.setupAction())
	}()

	timer := time.NewTimer(m.cfg.LaunchTimeout)
	defer timer.Stop()

	select {
	case err := <-started:
		if err != nil {
			return fail(screenshot.Wrap(screenshot.ErrBrowserLaunch, fmt.Errorf("start browser: %w", err)))
		}
	case <-timer.C:
		return fail(fmt.Errorf("%w: browser did not start within %s", screenshot.ErrBrowserLaunch, m.cfg.LaunchTimeout))
	case <-ctx.Done():
		return fail(screenshot.Wrap(screenshot.ErrBrowserLaunch, fmt.Errorf("launch canceled: %w", ctx.Err())))
	}

	metrics.IncActiveSessions()
	return &Session{
		mgr:      m,
		ctx:      tabCtx,
		teardown: teardown,
		tracker:  tracker,
		state:    StateLaunched,
		logger:   m.logger,
	}, nil
}

func (m *Manager) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		err := emulation.SetDeviceMetricsOverride(int64(m.cfg.ViewportWidth), int64(m.cfg.ViewportHeight), 1, false).Do(ctx)
		if err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if m.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(m.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// driver isolates the chromedp calls a session makes so tests can run without Chrome.
type driver interface {
	start(parent context.Context) (context.Context, context.CancelFunc)
	listen(ctx context.Context, fn func(ev any))
	run(ctx context.Context, actions ...chromedp.Action) error
	screenshot(ctx context.Context) ([]byte, error)
	shutdown(ctx context.Context) error
}

type chromedpDriver struct {
	opts []chromedp.ExecAllocatorOption
}

func (d *chromedpDriver) start(parent context.Context) (context.Context, context.CancelFunc) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, d.opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	return tabCtx, func() {
		tabCancel()
		allocCancel()
	}
}

func (d *chromedpDriver) listen(ctx context.Context, fn func(ev any)) {
	chromedp.ListenTarget(ctx, fn)
}

func (d *chromedpDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := chromedp.Run(ctx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (d *chromedpDriver) screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("chromedp screenshot: %w", err)
	}
	return buf, nil
}

func (d *chromedpDriver) shutdown(ctx context.Context) error {
	if err := chromedp.Cancel(ctx); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
