// Package storage holds backup artifacts and asynchronous export files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// ArtifactStore stores opaque objects by key.
type ArtifactStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// BackupKey returns the artifact key for a backup job.
func BackupKey(tenantID, jobID fmt.Stringer) string {
	return fmt.Sprintf("backups/%s/%s.json", tenantID, jobID)
}

// ExportKey returns the artifact key for an export batch.
func ExportKey(tenantID, batchID fmt.Stringer, ext string) string {
	return fmt.Sprintf("exports/%s/%s.%s", tenantID, batchID, ext)
}

type memoryObject struct {
	body        []byte
	contentType string
}

// MemoryStore is an in-process ArtifactStore used in development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Put stores a copy of body under key.
func (m *MemoryStore) Put(_ context.Context, key string, body []byte, contentType string) error {
	cp := make([]byte, len(body))
	copy(cp, body)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{body: cp, contentType: contentType}
	return nil
}

// Get returns a copy of the object stored under key.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(obj.body))
	copy(cp, obj.body)
	return cp, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// ContentType returns the content type recorded for key.
func (m *MemoryStore) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key].contentType
}

func readAll(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	return io.ReadAll(r)
}
