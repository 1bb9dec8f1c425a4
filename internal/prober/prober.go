// Package prober confirms a deployed application answers before a browser is launched.
package prober

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
)

// DefaultTimeout bounds a probe when Config.Timeout is unset.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of the response body is read; only the status matters.
const maxBodyBytes = 64 * 1024

// Config controls probe behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Prober implements screenshot.Prober with a single Colly GET.
type Prober struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Prober.
func New(cfg Config, logger *zap.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		cfg:       cfg,
		transport: newHTTPTransport(),
		logger:    logger,
	}
}

// Probe issues one GET against url and succeeds only on a 2xx status.
// Every other outcome is reported as screenshot.ErrTargetUnavailable. No retries.
func (p *Prober) Probe(ctx context.Context, url string) error {
	var result probeResult
	collector := p.buildCollector()
	p.configureHooks(collector, &result)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := p.runCollector(ctx, collector, url, &result)
	p.logger.Debug("probe finished",
		zap.String("url", url),
		zap.Int("status", result.status),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return err
}

type probeResult struct {
	status int
	err    error
}

// buildCollector returns a fresh collector per probe. Cloning a shared base
// collector would share its HTTP client, and SetRequestTimeout mutates it.
func (p *Prober) buildCollector() *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(maxBodyBytes),
		colly.ParseHTTPErrorResponse(),
	)
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.WithTransport(p.transport)
	collector.SetRequestTimeout(p.cfg.Timeout)
	return collector
}

func (p *Prober) configureHooks(hooks collectorHooks, result *probeResult) {
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

func (p *Prober) runCollector(ctx context.Context, collector *colly.Collector, url string, result *probeResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return screenshot.Wrap(screenshot.ErrTargetUnavailable, fmt.Errorf("probe %s: %w", url, ctx.Err()))
	case err := <-done:
		return classify(url, result, err)
	}
}

func classify(url string, result *probeResult, visitErr error) error {
	switch {
	case result.status >= http.StatusOK && result.status < http.StatusMultipleChoices:
		return nil
	case result.status != 0:
		return fmt.Errorf("%w: %s returned status %d", screenshot.ErrTargetUnavailable, url, result.status)
	case visitErr != nil:
		return screenshot.Wrap(screenshot.ErrTargetUnavailable, fmt.Errorf("probe %s: %w", url, visitErr))
	case result.err != nil:
		return screenshot.Wrap(screenshot.ErrTargetUnavailable, fmt.Errorf("probe %s: %w", url, result.err))
	default:
		return fmt.Errorf("%w: %s returned no response", screenshot.ErrTargetUnavailable, url)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
