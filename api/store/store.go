// Package store keeps run status records. Records hold outcomes only; test
// content never reaches the store.
package store

import (
	"context"
	"errors"

	"robotrunner/api/model"
)

var (
	ErrNotFound = errors.New("run not found")
	ErrConflict = errors.New("run already exists")
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Store interface {
	// CreateRun inserts a new record, returning ErrConflict if the
	// request id is taken.
	CreateRun(ctx context.Context, run *model.Run) error
	// UpdateRun replaces the mutable fields of an existing record.
	UpdateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, requestID string) (*model.Run, error)
	ListRuns(ctx context.Context, f RunFilter) ([]model.Run, error)
	// RecoverInFlight marks runs left unfinished by a previous process as
	// errored.
	RecoverInFlight(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

type RunFilter struct {
	Project string
	Status  model.RunStatus
	Limit   int
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 || f.Limit > maxListLimit {
		return defaultListLimit
	}
	return f.Limit
}

const restartedMessage = "runner restarted during run"

var (
	_ Store = (*Memory)(nil)
	_ Store = (*DB)(nil)
)
