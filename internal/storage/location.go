package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// publicObjectPrefix is the path segment public storage URLs carry before the
// bucket and object path.
const publicObjectPrefix = "/storage/v1/object/public/"

// Location identifies an object in the blob store.
type Location struct {
	Bucket string
	Path   string
}

// ParseLocation resolves the three reference forms into (bucket, path):
//
//	https://host/storage/v1/object/public/{bucket}/{path}
//	/{bucket}/{path}
//	{bucket}/{path}
func ParseLocation(raw string) (Location, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Location{}, fmt.Errorf("object reference is required")
	}

	rel := trimmed
	if strings.Contains(trimmed, "://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return Location{}, fmt.Errorf("invalid object url %q: %w", raw, err)
		}
		idx := strings.Index(parsed.Path, publicObjectPrefix)
		if idx < 0 {
			return Location{}, fmt.Errorf("object url %q is not a public storage url", raw)
		}
		rel = parsed.Path[idx+len(publicObjectPrefix):]
	}

	rel = strings.TrimPrefix(rel, "/")
	bucket, path, found := strings.Cut(rel, "/")
	if !found || bucket == "" || path == "" {
		return Location{}, fmt.Errorf("object reference %q must be bucket/path", raw)
	}

	return Location{Bucket: bucket, Path: path}, nil
}

// Filename returns the last path segment of the object.
func (l Location) Filename() string {
	if idx := strings.LastIndex(l.Path, "/"); idx >= 0 {
		return l.Path[idx+1:]
	}
	return l.Path
}
