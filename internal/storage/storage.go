// Package storage holds helpers shared by the object and project store adapters.
package storage

import (
	"net/url"
	"strings"
)

// JoinURL appends an object key to base, escaping each key segment.
func JoinURL(base, key string) string {
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}

// ObjectKey returns <prefix>/<projectID>.jpg, or <projectID>.jpg without a prefix.
func ObjectKey(prefix, projectID string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return projectID + ".jpg"
	}
	return prefix + "/" + projectID + ".jpg"
}
