// Package memory keeps objects and project records in process memory for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Object is one stored object.
type Object struct {
	ContentType string
	Data        []byte
}

// ObjectStore implements screenshot.ObjectStore in memory.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string]Object
	puts    int
	deletes int
}

// NewObjectStore creates an empty in-memory object store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string]Object)}
}

// PutObject stores a copy of data under key and returns a memory:// URL.
func (s *ObjectStore) PutObject(_ context.Context, key, contentType string, data []byte) (string, error) {
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{ContentType: contentType, Data: append([]byte(nil), data...)}
	s.puts++
	return "memory://" + key, nil
}

// DeleteObject removes key. Missing keys are ignored.
func (s *ObjectStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deletes++
	return nil
}

// Get returns the object stored at key.
func (s *ObjectStore) Get(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Keys lists stored keys in sorted order.
func (s *ObjectStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Counts reports how many puts and deletes were served.
func (s *ObjectStore) Counts() (puts, deletes int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts, s.deletes
}
