package blobstore

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore is a process-local VersionedStore used by tests and local runs.
// Versions are monotonically increasing per key, so interleaved writers see
// genuine precondition failures.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]*memoryObject
}

type memoryObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	version     int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*memoryObject)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), obj.body...), nil
}

func (s *MemoryStore) Put(_ context.Context, key string, body []byte, contentType string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store(key, body, contentType, metadata)
	return nil
}

func (s *MemoryStore) GetVersioned(_ context.Context, key string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, "", ErrNotFound
	}
	return append([]byte(nil), obj.body...), strconv.FormatInt(obj.version, 10), nil
}

func (s *MemoryStore) PutIfVersion(_ context.Context, key string, body []byte, contentType string, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return ErrPreconditionFailed
	}
	if strconv.FormatInt(obj.version, 10) != version {
		return ErrPreconditionFailed
	}
	s.store(key, body, contentType, obj.metadata)
	return nil
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, key string, body []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; ok {
		return ErrPreconditionFailed
	}
	s.store(key, body, contentType, nil)
	return nil
}

// Len reports how many objects are stored.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// store must be called with the lock held.
func (s *MemoryStore) store(key string, body []byte, contentType string, metadata map[string]string) {
	var version int64 = 1
	if prev, ok := s.objects[key]; ok {
		version = prev.version + 1
	}
	s.objects[key] = &memoryObject{
		body:        append([]byte(nil), body...),
		contentType: contentType,
		metadata:    metadata,
		version:     version,
	}
}
