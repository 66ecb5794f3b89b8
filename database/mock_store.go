package database

type mockStore struct{}

func NewMockStore() Store {
	return &mockStore{}
}

func (m *mockStore) SaveScreeningEntries(entries []ScreeningEntry) error {
	return nil
}
