package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Trend operations
	SaveTrend(tr *Trend) error
	GetTrend(id string) (*Trend, error)
	DeleteTrend(id string) error
	ListTrends() ([]*Trend, error)

	// Run history
	SaveRun(rec *RunRecord) error
	ListRuns() ([]*RunRecord, error)

	// Close the store
	Close() error
}
