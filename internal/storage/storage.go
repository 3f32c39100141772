// Package storage defines the persisted-state boundary shared by the world
// model, the dedup ledger and run output. Implementations live in the
// subpackages (local, memory, gcs, redis).
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by Read when the named object does not exist.
var ErrNotFound = errors.New("object not found")

// Store reads and atomically replaces named objects. A reader never observes
// a partially written object.
type Store interface {
	Read(ctx context.Context, name string) ([]byte, error)
	WriteAtomic(ctx context.Context, name string, data []byte) error
}

// CleanName validates an object name and returns its canonical slash form.
// Absolute names and names escaping the store root are rejected.
func CleanName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("name is required")
	}
	if strings.HasPrefix(trimmed, "/") || strings.Contains(trimmed, "\\") {
		return "", fmt.Errorf("name %q must be relative", name)
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path traversal detected in %q", name)
	}
	return cleaned, nil
}
