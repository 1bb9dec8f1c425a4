package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/fly-screenshotter/internal/artifact"
	"github.com/JakeFAU/fly-screenshotter/internal/clock"
	"github.com/JakeFAU/fly-screenshotter/internal/compress"
	notifymemory "github.com/JakeFAU/fly-screenshotter/internal/notify/memory"
	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
	"github.com/JakeFAU/fly-screenshotter/internal/spool"
	"github.com/JakeFAU/fly-screenshotter/internal/storage/memory"
)

type fakeProber struct {
	err  error
	urls []string
}

func (p *fakeProber) Probe(_ context.Context, url string) error {
	p.urls = append(p.urls, url)
	return p.err
}

type fakeSession struct {
	navErr     error
	captureErr error
	png        []byte
	navURL     string
	closes     int
	calls      []string
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.calls = append(s.calls, "navigate")
	s.navURL = url
	return s.navErr
}

func (s *fakeSession) AwaitSettle(context.Context) error {
	s.calls = append(s.calls, "settle")
	return nil
}

func (s *fakeSession) Capture(_ context.Context, path string) error {
	s.calls = append(s.calls, "capture")
	if s.captureErr != nil {
		return s.captureErr
	}
	return os.WriteFile(path, s.png, 0o600)
}

func (s *fakeSession) Close() error {
	s.calls = append(s.calls, "close")
	s.closes++
	return nil
}

type fakeBrowser struct {
	session  *fakeSession
	err      error
	launches int
}

func (b *fakeBrowser) Launch(context.Context) (screenshot.Session, error) {
	b.launches++
	if b.err != nil {
		return nil, b.err
	}
	return b.session, nil
}

type fixedCompressor struct {
	payload screenshot.CompressedPayload
	err     error
	paths   []string
}

func (c *fixedCompressor) Compress(_ context.Context, path string) (screenshot.CompressedPayload, error) {
	c.paths = append(c.paths, path)
	return c.payload, c.err
}

type harness struct {
	prober   *fakeProber
	browser  *fakeBrowser
	session  *fakeSession
	objects  *memory.ObjectStore
	projects *memory.ProjectStore
	notifier *notifymemory.Notifier
	spoolDir string
	deps     Deps

	mu       sync.Mutex
	outcomes []screenshot.Outcome
}

func flatPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{250, 250, 252, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	sp, err := spool.New(dir)
	require.NoError(t, err)

	h := &harness{
		prober:   &fakeProber{},
		session:  &fakeSession{png: flatPNG(t, 1920, 1080)},
		objects:  memory.NewObjectStore(),
		projects: memory.NewProjectStore(),
		notifier: notifymemory.New(),
		spoolDir: dir,
	}
	h.browser = &fakeBrowser{session: h.session}

	clk := clock.NewFixed(time.UnixMilli(1700000000000).UTC())
	pub, err := artifact.New(h.objects, h.projects, clk, artifact.Config{Prefix: "screenshots"}, zap.NewNop())
	require.NoError(t, err)

	h.deps = Deps{
		Prober:     h.prober,
		Browser:    h.browser,
		Compressor: compress.New(compress.DefaultConfig(), zap.NewNop()),
		Publisher:  pub,
		Spool:      sp,
		Clock:      clk,
		Notifier:   h.notifier,
		OnComplete: func(out screenshot.Outcome) {
			h.mu.Lock()
			h.outcomes = append(h.outcomes, out)
			h.mu.Unlock()
		},
	}
	return h
}

func (h *harness) runner(t *testing.T, logger *zap.Logger) *Runner {
	t.Helper()
	r, err := New(screenshot.TargetSpec{AppPrefix: "preview", Domain: "fly.dev"}, h.deps, logger)
	require.NoError(t, err)
	return r
}

func (h *harness) spoolEntries(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(h.spoolDir)
	require.NoError(t, err)
	return entries
}

func TestProcessSucceeds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	out := h.runner(t, nil).Process(context.Background(), screenshot.CaptureRequest{ID: "req-1", ProjectID: "abc123"})

	require.NoError(t, out.Err)
	require.Equal(t, screenshot.StatusSucceeded, out.Status)
	require.Equal(t, screenshot.StageDone, out.Stage)
	require.Equal(t, "https://preview-abc123.fly.dev", out.URL)
	require.Equal(t, []string{"https://preview-abc123.fly.dev?_health_check=1700000000000"}, h.prober.urls)
	require.Equal(t, "https://preview-abc123.fly.dev?_screenshot=1700000000000", h.session.navURL)
	require.Equal(t, []string{"navigate", "settle", "capture", "close"}, h.session.calls)

	obj, ok := h.objects.Get("screenshots/abc123.jpg")
	require.True(t, ok)
	require.Equal(t, screenshot.ContentTypeJPEG, obj.ContentType)
	require.LessOrEqual(t, len(obj.Data), 30*1024)
	require.Equal(t, len(obj.Data), out.Result.FinalByteSize)

	rec, ok := h.projects.Get("abc123")
	require.True(t, ok)
	require.Equal(t, out.Result.ReferenceURL, rec.ScreenshotURL)

	require.Empty(t, h.spoolEntries(t))
	events := h.notifier.Events()
	require.Len(t, events, 1)
	require.Equal(t, screenshot.StatusSucceeded, events[0].Status)
	require.Len(t, h.outcomes, 1)
}

func TestProcessProbeFailureSkipsBrowser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.prober.err = screenshot.Wrap(screenshot.ErrTargetUnavailable, errors.New("status 503"))
	core, logs := observer.New(zap.InfoLevel)

	out := h.runner(t, zap.New(core)).Process(context.Background(), screenshot.CaptureRequest{ID: "req-2", ProjectID: "xyz"})

	require.ErrorIs(t, out.Err, screenshot.ErrTargetUnavailable)
	require.Equal(t, screenshot.StatusFailed, out.Status)
	require.Equal(t, screenshot.StageProbe, out.Stage)
	require.Zero(t, h.browser.launches)
	require.Empty(t, h.spoolEntries(t))
	require.Empty(t, h.objects.Keys())
	_, ok := h.projects.Get("xyz")
	require.False(t, ok)

	failed := logs.FilterMessage("capture failed").All()
	require.Len(t, failed, 1)
	require.Equal(t, "probe", failed[0].ContextMap()["stage"])
	require.Equal(t, "xyz", failed[0].ContextMap()["project_id"])
}

func TestProcessNavigationTimeoutClosesSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.session.navErr = screenshot.Wrap(screenshot.ErrNavigation, context.DeadlineExceeded)

	out := h.runner(t, nil).Process(context.Background(), screenshot.CaptureRequest{ID: "req-3", ProjectID: "slow"})

	require.ErrorIs(t, out.Err, screenshot.ErrNavigation)
	require.ErrorIs(t, out.Err, context.DeadlineExceeded)
	require.Equal(t, screenshot.StageNavigate, out.Stage)
	require.Equal(t, 1, h.session.closes)
	require.Equal(t, []string{"navigate", "close"}, h.session.calls)
	require.Empty(t, h.spoolEntries(t))
	require.Empty(t, h.objects.Keys())
}

func TestProcessRemovesArtifactOnLaterFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*harness)
		stage  screenshot.Stage
		kind   error
	}{
		{
			name:   "launch",
			mutate: func(h *harness) { h.browser.err = errors.New("chrome not found") },
			stage:  screenshot.StageLaunch,
			kind:   screenshot.ErrBrowserLaunch,
		},
		{
			name:   "capture",
			mutate: func(h *harness) { h.session.captureErr = screenshot.Wrap(screenshot.ErrCapture, errors.New("empty")) },
			stage:  screenshot.StageCapture,
			kind:   screenshot.ErrCapture,
		},
		{
			name:   "compress",
			mutate: func(h *harness) { h.session.png = []byte("not a png") },
			stage:  screenshot.StageCompress,
			kind:   screenshot.ErrImageProcessing,
		},
		{
			name: "publish",
			mutate: func(h *harness) {
				h.deps.Compressor = &fixedCompressor{payload: screenshot.CompressedPayload{}}
			},
			stage: screenshot.StagePublish,
			kind:  screenshot.ErrPublish,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			tc.mutate(h)

			out := h.runner(t, nil).Process(context.Background(), screenshot.CaptureRequest{ID: "r", ProjectID: "p"})
			require.ErrorIs(t, out.Err, tc.kind)
			require.Equal(t, tc.stage, out.Stage)
			require.Equal(t, screenshot.StatusFailed, out.Status)
			require.Empty(t, h.spoolEntries(t))
			if tc.stage != screenshot.StageLaunch {
				require.Equal(t, 1, h.session.closes)
			}

			events := h.notifier.Events()
			require.Len(t, events, 1)
			require.Equal(t, tc.stage, events[0].Stage)
			require.NotEmpty(t, events[0].Error)
		})
	}
}

func TestProcessPassesArtifactPathToCompressor(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	comp := &fixedCompressor{payload: screenshot.CompressedPayload{Data: []byte("jpeg"), Pass: 2}}
	h.deps.Compressor = comp

	out := h.runner(t, nil).Process(context.Background(), screenshot.CaptureRequest{ID: "req-9", ProjectID: "p9"})
	require.NoError(t, out.Err)
	require.Len(t, comp.paths, 1)
	require.Contains(t, comp.paths[0], "p9-")
	require.Contains(t, comp.paths[0], "-req-9.png")
	require.NoFileExists(t, comp.paths[0])
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	deps := h.deps
	deps.Prober = nil
	_, err := New(screenshot.TargetSpec{Domain: "fly.dev"}, deps, nil)
	require.ErrorContains(t, err, "prober is required")

	_, err = New(screenshot.TargetSpec{}, h.deps, nil)
	require.ErrorContains(t, err, "target domain is required")
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	require.ErrorIs(t, classify(screenshot.StageSettle, cause), screenshot.ErrNavigation)
	require.ErrorIs(t, classify(screenshot.StageCompress, cause), screenshot.ErrImageProcessing)

	invalid := screenshot.Wrap(screenshot.ErrInvalidState, cause)
	require.Equal(t, invalid, classify(screenshot.StageCapture, invalid))
	require.NoError(t, classify(screenshot.StageProbe, nil))
}
