package database

import (
	"sync"

	"github.com/google/uuid"
)

type MemStore struct {
	Entries map[uuid.UUID]ScreeningEntry
	mutex   *sync.Mutex
}

func NewMemStore() *MemStore {
	return &MemStore{
		Entries: make(map[uuid.UUID]ScreeningEntry),
		mutex:   &sync.Mutex{},
	}
}

func (m *MemStore) SaveScreeningEntries(entries []ScreeningEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, entry := range entries {
		m.Entries[entry.Id] = entry
	}
	return nil
}

func (m *MemStore) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.Entries)
}

// Batch returns the entries of a batch ordered by position.
func (m *MemStore) Batch(batchId uuid.UUID) []ScreeningEntry {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var n int
	for _, entry := range m.Entries {
		if entry.BatchId == batchId {
			n++
		}
	}
	batch := make([]ScreeningEntry, n)
	for _, entry := range m.Entries {
		if entry.BatchId == batchId && entry.Position < n {
			batch[entry.Position] = entry
		}
	}
	return batch
}
