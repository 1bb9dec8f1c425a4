package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
)

// fakeDriver replays scripted results per run call: call 0 is the launch setup,
// call 1 navigation, later calls settle waits.
type fakeDriver struct {
	mu          sync.Mutex
	runErrs     map[int]error
	blockLaunch bool
	calls       int
	png         []byte
	shotErr     error
	shutdowns   int
	listener    func(ev any)
}

func (f *fakeDriver) start(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(parent)
}

func (f *fakeDriver) listen(_ context.Context, fn func(ev any)) {
	f.mu.Lock()
	f.listener = fn
	f.mu.Unlock()
}

func (f *fakeDriver) run(ctx context.Context, _ ...chromedp.Action) error {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	block := f.blockLaunch && idx == 0
	err := f.runErrs[idx]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeDriver) screenshot(context.Context) ([]byte, error) {
	return f.png, f.shotErr
}

func (f *fakeDriver) shutdown(context.Context) error {
	f.mu.Lock()
	f.shutdowns++
	f.mu.Unlock()
	return nil
}

func newTestManager(t *testing.T, drv *fakeDriver, maxParallel int) *Manager {
	t.Helper()
	cfg := Config{
		MaxParallel:     maxParallel,
		LaunchTimeout:   200 * time.Millisecond,
		NavTimeout:      200 * time.Millisecond,
		CaptureTimeout:  200 * time.Millisecond,
		NetworkIdle:     10 * time.Millisecond,
		SettleTimeout:   50 * time.Millisecond,
		SettleDelay:     10 * time.Millisecond,
		SettleSelectors: []string{".spinner"},
	}
	cfg.applyDefaults()
	return &Manager{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(maxParallel)),
		drv:    drv,
		logger: zap.NewNop(),
	}
}

func TestNewValidatesParallelism(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: 0}, nil)
	require.Error(t, err)

	m, err := New(Config{MaxParallel: 2, NoSandbox: true, ExecPath: "/usr/bin/chromium"}, nil)
	require.NoError(t, err)
	require.Equal(t, 1920, m.cfg.ViewportWidth)
	require.Equal(t, 1080, m.cfg.ViewportHeight)
	require.Equal(t, 20*time.Second, m.cfg.LaunchTimeout)
	require.Equal(t, 30*time.Second, m.cfg.NavTimeout)
	require.Len(t, allocatorOptions(m.cfg), len(chromedp.DefaultExecAllocatorOptions)+9)
}

func TestSessionFullLifecycle(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{png: []byte("\x89PNG fake")}
	m := newTestManager(t, drv, 1)
	ctx := context.Background()

	sess, err := m.Launch(ctx)
	require.NoError(t, err)
	s := sess.(*Session)
	require.Equal(t, StateLaunched, s.State())

	require.NoError(t, sess.Navigate(ctx, "https://preview-p1.fly.dev?_screenshot=1"))
	require.Equal(t, StateNavigated, s.State())

	require.NoError(t, sess.AwaitSettle(ctx))
	require.Equal(t, StateSettled, s.State())

	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, sess.Capture(ctx, path))
	require.Equal(t, StateCaptured, s.State())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, drv.png, data)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	require.Equal(t, StateClosed, s.State())
	require.Equal(t, 1, drv.shutdowns)
}

func TestSessionRejectsOutOfOrderCalls(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &fakeDriver{png: []byte("x")}, 1)
	ctx := context.Background()
	sess, err := m.Launch(ctx)
	require.NoError(t, err)
	defer sess.Close() //nolint:errcheck // test cleanup

	require.ErrorIs(t, sess.AwaitSettle(ctx), screenshot.ErrInvalidState)
	require.ErrorIs(t, sess.Capture(ctx, filepath.Join(t.TempDir(), "a.png")), screenshot.ErrInvalidState)

	require.NoError(t, sess.Navigate(ctx, "https://example.com"))
	require.ErrorIs(t, sess.Navigate(ctx, "https://example.com"), screenshot.ErrInvalidState)

	require.NoError(t, sess.Close())
	require.ErrorIs(t, sess.AwaitSettle(ctx), screenshot.ErrInvalidState)
}

func TestLaunchFailureReleasesSlot(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{runErrs: map[int]error{0: errors.New("chrome not found")}}
	m := newTestManager(t, drv, 1)

	_, err := m.Launch(context.Background())
	require.ErrorIs(t, err, screenshot.ErrBrowserLaunch)
	require.True(t, m.sem.TryAcquire(1), "slot should be released after a failed launch")
}

func TestLaunchTimeout(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &fakeDriver{blockLaunch: true}, 1)
	start := time.Now()
	_, err := m.Launch(context.Background())
	require.ErrorIs(t, err, screenshot.ErrBrowserLaunch)
	require.Less(t, time.Since(start), 2*time.Second)
	require.True(t, m.sem.TryAcquire(1))
}

func TestLaunchWaitsForSlot(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &fakeDriver{}, 1)
	first, err := m.Launch(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.Launch(ctx)
	require.ErrorIs(t, err, screenshot.ErrBrowserLaunch)

	require.NoError(t, first.Close())
	second, err := m.Launch(context.Background())
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestNavigateFailureIsNavigationError(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{runErrs: map[int]error{1: errors.New("net::ERR_NAME_NOT_RESOLVED")}}
	m := newTestManager(t, drv, 1)
	sess, err := m.Launch(context.Background())
	require.NoError(t, err)
	defer sess.Close() //nolint:errcheck // test cleanup

	err = sess.Navigate(context.Background(), "https://missing.example")
	require.ErrorIs(t, err, screenshot.ErrNavigation)
	require.Equal(t, StateLaunched, sess.(*Session).State())
}

func TestNavigateTimesOutWhileRequestsInFlight(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{}
	m := newTestManager(t, drv, 1)
	sess, err := m.Launch(context.Background())
	require.NoError(t, err)
	defer sess.Close() //nolint:errcheck // test cleanup

	drv.listener(&network.EventRequestWillBeSent{RequestID: "long-poll"})
	err = sess.Navigate(context.Background(), "https://example.com")
	require.ErrorIs(t, err, screenshot.ErrNavigation)
}

func TestSettleTimeoutIsNotAnError(t *testing.T) {
	t.Parallel()

	drv := &fakeDriver{runErrs: map[int]error{2: context.DeadlineExceeded}}
	m := newTestManager(t, drv, 1)
	ctx := context.Background()
	sess, err := m.Launch(ctx)
	require.NoError(t, err)
	defer sess.Close() //nolint:errcheck // test cleanup

	require.NoError(t, sess.Navigate(ctx, "https://example.com"))
	require.NoError(t, sess.AwaitSettle(ctx))
}

func TestCaptureErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		drv  *fakeDriver
	}{
		{"empty", &fakeDriver{}},
		{"driver error", &fakeDriver{shotErr: errors.New("target closed")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := newTestManager(t, tc.drv, 1)
			ctx := context.Background()
			sess, err := m.Launch(ctx)
			require.NoError(t, err)
			defer sess.Close() //nolint:errcheck // test cleanup
			require.NoError(t, sess.Navigate(ctx, "https://example.com"))
			require.NoError(t, sess.AwaitSettle(ctx))

			path := filepath.Join(t.TempDir(), "shot.png")
			require.ErrorIs(t, sess.Capture(ctx, path), screenshot.ErrCapture)
			_, statErr := os.Stat(path)
			require.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	require.NoError(t, checkTransition(StateLaunched, StateNavigated))
	require.NoError(t, checkTransition(StateNavigated, StateSettled))
	require.NoError(t, checkTransition(StateCaptured, StateClosed))
	require.NoError(t, checkTransition(StateUninitialized, StateClosed))
	require.ErrorIs(t, checkTransition(StateLaunched, StateCaptured), screenshot.ErrInvalidState)
	require.ErrorIs(t, checkTransition(StateClosed, StateLaunched), screenshot.ErrInvalidState)
	require.Equal(t, "settled", StateSettled.String())
}
