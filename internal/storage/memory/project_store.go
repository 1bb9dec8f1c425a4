package memory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ProjectRecord is the screenshot reference held for one project.
type ProjectRecord struct {
	ScreenshotURL string
	UpdatedAt     time.Time
}

// ProjectStore implements screenshot.ProjectStore in memory. Unknown projects
// are created on first update.
type ProjectStore struct {
	mu      sync.RWMutex
	records map[string]ProjectRecord
}

// NewProjectStore creates an empty project store.
func NewProjectStore() *ProjectStore {
	return &ProjectStore{records: make(map[string]ProjectRecord)}
}

// UpdateScreenshot records url for projectID.
func (s *ProjectStore) UpdateScreenshot(_ context.Context, projectID, url string, at time.Time) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[projectID] = ProjectRecord{ScreenshotURL: url, UpdatedAt: at}
	return nil
}

// Get returns the record for projectID.
func (s *ProjectStore) Get(projectID string) (ProjectRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[projectID]
	return rec, ok
}
