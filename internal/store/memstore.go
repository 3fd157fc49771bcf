package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errNotFound = errors.New("key not found")

type memoryEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

// memoryStore is the fallback backend when Redis is unreachable: a
// TTL-aware map with lazy expiry plus a background sweep. Contents are
// lost on restart, which only costs re-resolution — every value cached
// here can be recomputed from chain state.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	done    chan struct{}
	once    sync.Once
}

func newMemoryStore() *memoryStore {
	s := &memoryStore{
		entries: make(map[string]memoryEntry),
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, errNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, errNotFound
	}
	return entry.data, nil
}

func (s *memoryStore) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Del(_ context.Context, keys ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, key := range keys {
		if _, ok := s.entries[key]; ok {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *memoryStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for key, entry := range s.entries {
				if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
