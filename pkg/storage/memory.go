package storage

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
)

// MemoryStore keeps reports in memory. It is used when no blob storage is
// configured.
type MemoryStore struct {
	mu       sync.RWMutex
	blobs    map[string][]byte
	metadata map[string]map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:    make(map[string][]byte),
		metadata: make(map[string]map[string]string),
	}
}

// Upload stores a copy of data under path.
func (m *MemoryStore) Upload(ctx context.Context, path string, data []byte, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = append([]byte(nil), data...)
	m.metadata[path] = maps.Clone(metadata)
	return "memory://" + path, nil
}

// Download returns the data stored under a path or memory:// reference.
func (m *MemoryStore) Download(ctx context.Context, reference string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimPrefix(reference, "memory://")
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[path]
	if !ok {
		return nil, fmt.Errorf("blob not found: %s", path)
	}
	return append([]byte(nil), data...), nil
}

// Metadata returns the metadata stored with path.
func (m *MemoryStore) Metadata(path string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.metadata[path])
}

var _ ReportStore = (*MemoryStore)(nil)
