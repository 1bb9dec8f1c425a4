package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/fly-screenshotter/internal/metrics"
	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
)

const closeTimeout = 5 * time.Second

// Session is one launched browser. It is not safe for concurrent navigation.
type Session struct {
	mgr      *Manager
	ctx      context.Context
	teardown context.CancelFunc
	tracker  *idleTracker
	logger   *zap.Logger

	mu    sync.Mutex
	state State

	closeOnce sync.Once
	closeErr  error
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) check(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return checkTransition(s.state, to)
}

func (s *Session) set(to State) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = to
	}
	s.mu.Unlock()
}

// opContext derives a bounded context on the tab that also ends when ctx does.
func (s *Session) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(s.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// Navigate loads url and waits until the network has been quiet for NetworkIdle.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.check(StateNavigated); err != nil {
		return err
	}
	opCtx, cancel := s.opContext(ctx, s.mgr.cfg.NavTimeout)
	defer cancel()

	if err := s.mgr.drv.run(opCtx, chromedp.Navigate(url)); err != nil {
		return screenshot.Wrap(screenshot.ErrNavigation, fmt.Errorf("navigate %s: %w", url, err))
	}
	if err := s.tracker.wait(opCtx, s.mgr.cfg.NetworkIdle); err != nil {
		return screenshot.Wrap(screenshot.ErrNavigation, fmt.Errorf("navigate %s: %w", url, err))
	}
	s.set(StateNavigated)
	return nil
}

// AwaitSettle waits for each loading indicator to disappear, then pauses for
// SettleDelay. Indicators that outlive SettleTimeout are logged and ignored.
func (s *Session) AwaitSettle(ctx context.Context) error {
	if err := s.check(StateSettled); err != nil {
		return err
	}
	for _, selector := range s.mgr.cfg.SettleSelectors {
		selCtx, cancel := s.opContext(ctx, s.mgr.cfg.SettleTimeout)
		err := s.mgr.drv.run(selCtx, chromedp.WaitNotPresent(selector, chromedp.ByQuery))
		cancel()
		if ctx.Err() != nil {
			return screenshot.Wrap(screenshot.ErrNavigation, fmt.Errorf("settle canceled: %w", ctx.Err()))
		}
		if err != nil {
			s.logger.Warn("loading indicator still present, continuing",
				zap.String("selector", selector),
				zap.Duration("settle_timeout", s.mgr.cfg.SettleTimeout),
				zap.Error(err),
			)
		}
	}
	if delay := s.mgr.cfg.SettleDelay; delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return screenshot.Wrap(screenshot.ErrNavigation, fmt.Errorf("settle canceled: %w", ctx.Err()))
		case <-s.ctx.Done():
			return screenshot.Wrap(screenshot.ErrNavigation, fmt.Errorf("browser gone during settle: %w", s.ctx.Err()))
		case <-timer.C:
		}
	}
	s.set(StateSettled)
	return nil
}

// Capture writes a full-page PNG of the current page to path.
func (s *Session) Capture(ctx context.Context, path string) error {
	if err := s.check(StateCaptured); err != nil {
		return err
	}
	opCtx, cancel := s.opContext(ctx, s.mgr.cfg.CaptureTimeout)
	defer cancel()

	buf, err := s.mgr.drv.screenshot(opCtx)
	if err != nil {
		return screenshot.Wrap(screenshot.ErrCapture, err)
	}
	if len(buf) == 0 {
		return fmt.Errorf("%w: browser returned an empty screenshot", screenshot.ErrCapture)
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return screenshot.Wrap(screenshot.ErrCapture, fmt.Errorf("write artifact: %w", err))
	}
	s.set(StateCaptured)
	return nil
}

// Close terminates the browser and frees its launch slot. Later calls return
// the first call's result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(s.ctx, closeTimeout)
		s.closeErr = s.mgr.drv.shutdown(closeCtx)
		cancel()
		s.teardown()
		s.mgr.sem.Release(1)
		metrics.DecActiveSessions()

		s.mu.Lock()
		from := s.state
		s.state = StateClosed
		s.mu.Unlock()
		s.logger.Debug("browser session closed", zap.Stringer("from_state", from), zap.Error(s.closeErr))
	})
	return s.closeErr
}
