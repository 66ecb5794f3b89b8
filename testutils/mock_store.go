package testutils

import (
	"sync"

	"github.com/flashbots/blocklist-client/database"
	"github.com/pkg/errors"
)

var ErrMockStore = errors.New("mock store failure")

// FailingStore rejects every save and counts the attempts.
type FailingStore struct {
	mu    sync.Mutex
	Calls int
}

var _ database.Store = (*FailingStore)(nil)

func (m *FailingStore) SaveScreeningEntries(entries []database.ScreeningEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	return ErrMockStore
}
