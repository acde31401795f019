package objstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory Store for tests and local development.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte // keyed by URI.String()
	types   map[string]string
}

// NewMemStore creates an empty in-memory object store.
func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

// GetBytes reads an object body.
func (m *MemStore) GetBytes(ctx context.Context, uri URI) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[uri.String()]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", uri)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// PutBytes writes an object.
func (m *MemStore) PutBytes(ctx context.Context, uri URI, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[uri.String()] = stored
	m.types[uri.String()] = contentType
	return nil
}

// PresignGet returns a fake URL embedding the object reference.
func (m *MemStore) PresignGet(ctx context.Context, uri URI, ttl time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[uri.String()]; !ok {
		return "", fmt.Errorf("object not found: %s", uri)
	}
	return fmt.Sprintf("https://mem.local/%s/%s?ttl=%d", uri.Bucket, uri.Key, int(ttl.Seconds())), nil
}

// PresignPut returns a fake upload URL.
func (m *MemStore) PresignPut(ctx context.Context, uri URI, ttl time.Duration, contentType string) (string, error) {
	return fmt.Sprintf("https://mem.local/%s/%s?upload=1&ttl=%d", uri.Bucket, uri.Key, int(ttl.Seconds())), nil
}

// ListPrefix lists objects under the prefix in key order.
func (m *MemStore) ListPrefix(ctx context.Context, prefix URI) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := prefix.String()
	var objects []Object
	for k, v := range m.objects {
		if strings.HasPrefix(k, want) {
			uri, err := ParseURI(k)
			if err != nil {
				continue
			}
			objects = append(objects, Object{URI: uri, Size: int64(len(v))})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].URI.Key < objects[j].URI.Key })
	return objects, nil
}

// DeletePrefix removes all objects under the prefix.
func (m *MemStore) DeletePrefix(ctx context.Context, prefix URI) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := prefix.String()
	for k := range m.objects {
		if strings.HasPrefix(k, want) {
			delete(m.objects, k)
			delete(m.types, k)
		}
	}
	return nil
}

// ContentType returns the stored content type, for test assertions.
func (m *MemStore) ContentType(uri URI) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[uri.String()]
}

// Len returns the number of stored objects.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Verify interface implementation at compile time.
var _ Store = (*MemStore)(nil)
