package state

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-billing/core"
)

type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	if s == nil {
		return "", false, fmt.Errorf("state: memory store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, fmt.Errorf("state: key is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value string) error {
	if s == nil {
		return fmt.Errorf("state: memory store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("state: key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("state: memory store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, strings.TrimSpace(key))
	return nil
}

var _ core.KeyValueStore = (*MemoryStore)(nil)
