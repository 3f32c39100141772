// Package memory keeps shared state files in-memory for tests and development.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/jobhunt-agent/internal/storage"
)

// Store is a storage.Store held in a map.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Read returns a copy of the stored content or storage.ErrNotFound.
func (s *Store) Read(_ context.Context, name string) ([]byte, error) {
	cleaned, err := storage.CleanName(name)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[cleaned]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// WriteAtomic replaces the content under name.
func (s *Store) WriteAtomic(_ context.Context, name string, data []byte) error {
	cleaned, err := storage.CleanName(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cleaned] = append([]byte(nil), data...)
	return nil
}

// Names lists the stored names.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	return names
}
