// Package artifact uploads compressed screenshots and records their reference
// URL on the owning project.
package artifact

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/fly-screenshotter/internal/logging"
	"github.com/JakeFAU/fly-screenshotter/internal/screenshot"
	"github.com/JakeFAU/fly-screenshotter/internal/storage"
)

// Config controls object naming and reference URLs.
type Config struct {
	Prefix    string
	CacheBust bool
}

// Publisher implements screenshot.Publisher.
type Publisher struct {
	objects  screenshot.ObjectStore
	projects screenshot.ProjectStore
	clock    screenshot.Clock
	cfg      Config
	logger   *zap.Logger
}

// New wires a Publisher. All collaborators are required except logger.
func New(objects screenshot.ObjectStore, projects screenshot.ProjectStore, clock screenshot.Clock, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if projects == nil {
		return nil, fmt.Errorf("project store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{objects: objects, projects: projects, clock: clock, cfg: cfg, logger: logger}, nil
}

// Publish replaces the project's screenshot object and updates its record.
// The previous object is deleted first; a failed delete is logged and ignored.
func (p *Publisher) Publish(ctx context.Context, projectID string, payload screenshot.CompressedPayload) (screenshot.PublishResult, error) {
	if projectID == "" {
		return screenshot.PublishResult{}, screenshot.Wrap(screenshot.ErrPublish, fmt.Errorf("project id is required"))
	}
	if len(payload.Data) == 0 {
		return screenshot.PublishResult{}, screenshot.Wrap(screenshot.ErrPublish, fmt.Errorf("payload is empty"))
	}

	key := storage.ObjectKey(p.cfg.Prefix, projectID)
	log := p.logger.With(zap.String("project_id", projectID), zap.String("object_key", key))

	if err := p.objects.DeleteObject(ctx, key); err != nil {
		log.Warn("delete previous screenshot failed", zap.Error(err))
	}

	url, err := p.objects.PutObject(ctx, key, screenshot.ContentTypeJPEG, payload.Data)
	if err != nil {
		return screenshot.PublishResult{}, screenshot.Wrap(screenshot.ErrPublish, fmt.Errorf("upload %s: %w", key, err))
	}

	now := p.clock.Now()
	if p.cfg.CacheBust {
		url = withVersion(url, now.UnixMilli())
	}
	if err := p.projects.UpdateScreenshot(ctx, projectID, url, now); err != nil {
		return screenshot.PublishResult{}, screenshot.Wrap(screenshot.ErrPublish, fmt.Errorf("update project record: %w", err))
	}

	log.Info("screenshot published",
		zap.String("url", url),
		logging.Bytes("size", payload.ByteSize()),
		zap.Int("pass", payload.Pass),
	)
	return screenshot.PublishResult{
		ObjectKey:     key,
		ReferenceURL:  url,
		FinalByteSize: payload.ByteSize(),
	}, nil
}

func withVersion(url string, ms int64) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "v=" + strconv.FormatInt(ms, 10)
}
