package cache

import (
	"context"
	"sync"
	"time"
)

// LocalCache is an in-memory Cache with TTLs and size-bounded LRU eviction.
type LocalCache struct {
	mu      sync.Mutex
	items   map[string]*localItem
	maxSize int
	stopCh  chan struct{}
}

type localItem struct {
	value      []byte
	expiresAt  time.Time
	accessedAt time.Time
}

const (
	defaultLocalMaxSize  = 4096
	localCleanupInterval = time.Minute
)

// NewLocalCache creates a local cache holding at most maxSize entries.
func NewLocalCache(maxSize int) *LocalCache {
	if maxSize <= 0 {
		maxSize = defaultLocalMaxSize
	}
	lc := &LocalCache{
		items:   make(map[string]*localItem),
		maxSize: maxSize,
		stopCh:  make(chan struct{}),
	}
	go lc.cleanupLoop()
	return lc
}

func (lc *LocalCache) Get(_ context.Context, key string) ([]byte, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	item, ok := lc.items[key]
	if !ok || time.Now().After(item.expiresAt) {
		return nil, false
	}
	item.accessedAt = time.Now()
	return item.value, true
}

func (lc *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.set(key, value, ttl)
}

func (lc *LocalCache) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if item, ok := lc.items[key]; ok && time.Now().Before(item.expiresAt) {
		return false
	}
	lc.set(key, value, ttl)
	return true
}

func (lc *LocalCache) Delete(_ context.Context, key string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	delete(lc.items, key)
}

// Stop ends the background cleanup goroutine.
func (lc *LocalCache) Stop() {
	close(lc.stopCh)
}

// set must be called with the lock held.
func (lc *LocalCache) set(key string, value []byte, ttl time.Duration) {
	if len(lc.items) >= lc.maxSize {
		lc.evictLRU()
	}
	now := time.Now()
	lc.items[key] = &localItem{
		value:      append([]byte(nil), value...),
		expiresAt:  now.Add(ttl),
		accessedAt: now,
	}
}

// evictLRU must be called with the lock held.
func (lc *LocalCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time
	for key, item := range lc.items {
		if oldestKey == "" || item.accessedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.accessedAt
		}
	}
	if oldestKey != "" {
		delete(lc.items, oldestKey)
	}
}

func (lc *LocalCache) cleanupLoop() {
	ticker := time.NewTicker(localCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			lc.cleanup()
		case <-lc.stopCh:
			return
		}
	}
}

func (lc *LocalCache) cleanup() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	now := time.Now()
	for key, item := range lc.items {
		if now.After(item.expiresAt) {
			delete(lc.items, key)
		}
	}
}
