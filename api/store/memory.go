package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"robotrunner/api/model"
)

// Memory is a process-local Store. Records are lost on restart.
type Memory struct {
	mu    sync.RWMutex
	runs  map[string]*model.Run
	order []string
}

func NewMemory() *Memory {
	return &Memory{runs: make(map[string]*model.Run)}
}

func (m *Memory) CreateRun(_ context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.RequestID]; ok {
		return ErrConflict
	}
	m.runs[run.RequestID] = clone(run)
	m.order = append(m.order, run.RequestID)
	return nil
}

func (m *Memory) UpdateRun(_ context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.RequestID]; !ok {
		return ErrNotFound
	}
	m.runs[run.RequestID] = clone(run)
	return nil
}

func (m *Memory) GetRun(_ context.Context, requestID string) (*model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(run), nil
}

// ListRuns returns matching runs, newest first.
func (m *Memory) ListRuns(_ context.Context, f RunFilter) ([]model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := f.limit()
	runs := []model.Run{}
	for i := len(m.order) - 1; i >= 0 && len(runs) < limit; i-- {
		run := m.runs[m.order[i]]
		if f.Project != "" && run.Project != f.Project {
			continue
		}
		if f.Status != "" && run.Status != f.Status {
			continue
		}
		runs = append(runs, *clone(run))
	}
	return runs, nil
}

func (m *Memory) RecoverInFlight(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for _, run := range m.runs {
		if run.Status.Done() {
			continue
		}
		run.Status = model.RunError
		run.Error = restartedMessage
		run.FinishedAt = &now
		n++
	}
	return n, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

func clone(run *model.Run) *model.Run {
	c := *run
	c.Artifacts = slices.Clone(run.Artifacts)
	if c.Artifacts == nil {
		c.Artifacts = []model.ArtifactRef{}
	}
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
