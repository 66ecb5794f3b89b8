package database

type Store interface {
	SaveScreeningEntries(entries []ScreeningEntry) error
}
