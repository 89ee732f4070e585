// Package store keeps a queryable index of engine runs. The JSON state
// directory stays the source of truth; the index exists so `proofloop list`
// and `proofloop status` do not have to walk and parse every task snapshot.
package store

import (
	"context"
	"errors"
	"time"
)

// Run is one row of the run-history index.
type Run struct {
	TaskID         string
	Description    string
	Status         string
	IterationCount int
	Workspace      string
	StoppedReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ErrNotFound is returned when a run is not in the index.
var ErrNotFound = errors.New("run not found")

// Store is the run-history index. Implementations: the SQLite store in this
// package and *postgres.Store.
type Store interface {
	UpsertRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, taskID string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Close() error
}
