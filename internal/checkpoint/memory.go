package checkpoint

import (
	"context"
	"sync"

	"github.com/JakeFAU/harvester/internal/harvest"
)

// MemoryStore keeps encoded snapshots in memory. Useful for tests and dry runs.
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load decodes the last saved snapshot, or returns an empty record.
func (s *MemoryStore) Load(_ context.Context) (*harvest.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, _, err := Decode(s.data)
	if err != nil {
		return harvest.NewRecord(), nil
	}
	return record, nil
}

// Save encodes and keeps the record.
func (s *MemoryStore) Save(_ context.Context, record *harvest.Record) error {
	data, err := Encode(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.saves++
	return nil
}

// Clear drops the stored snapshot.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

// Saves returns how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Raw returns a copy of the last encoded snapshot.
func (s *MemoryStore) Raw() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}
