package tokenstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mcpgate/pkg/logging"
)

// MemoryStore keeps records in process memory. Records are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// Get returns a copy of the stored record.
func (s *MemoryStore) Get(_ context.Context, service string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[service]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Set stores a copy of rec.
func (s *MemoryStore) Set(_ context.Context, service string, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("nil record for service %s", service)
	}
	s.mu.Lock()
	s.records[service] = rec.Clone()
	s.mu.Unlock()

	logging.Debug("TokenStore", "Stored token for service=%s (expires: %v)", service, rec.ExpiresAt)
	return nil
}

// Delete removes the record, if any.
func (s *MemoryStore) Delete(_ context.Context, service string) error {
	s.mu.Lock()
	delete(s.records, service)
	s.mu.Unlock()
	return nil
}

// ListServiceNames returns the stored service names in sorted order.
func (s *MemoryStore) ListServiceNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	s.mu.RUnlock()

	sort.Strings(names)
	return names, nil
}
