package blob

import (
	"context"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps blobs in process memory. Intended for tests and the
// single-shot CLI.
type MemoryStore struct {
	mu   sync.RWMutex
	objs map[string]memoryObject
	now  func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objs: make(map[string]memoryObject), now: time.Now}
}

// Put stores a copy of data and returns its handle.
func (s *MemoryStore) Put(_ context.Context, data []byte, contentType string) (string, error) {
	handle := NewHandle(s.now(), contentType)
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objs[handle] = memoryObject{data: buf, contentType: contentType}
	s.mu.Unlock()
	return handle, nil
}

// Get returns a copy of the blob stored under handle.
func (s *MemoryStore) Get(_ context.Context, handle string) ([]byte, error) {
	s.mu.RLock()
	obj, ok := s.objs[handle]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(handle)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

// Delete removes the blob. Deleting an unknown handle is not an error.
func (s *MemoryStore) Delete(_ context.Context, handle string) error {
	s.mu.Lock()
	delete(s.objs, handle)
	s.mu.Unlock()
	return nil
}

// Len reports how many blobs are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objs)
}
