// Package cron refreshes the test repository on a schedule.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"robotrunner/api/hub"
	"robotrunner/api/logging"
)

type Syncer interface {
	Sync(ctx context.Context) (string, error)
}

type Notifier interface {
	Broadcast(evt hub.Event)
}

type Scheduler struct {
	cron     *cron.Cron
	syncer   Syncer
	events   Notifier
	logger   zerolog.Logger
	mu       sync.Mutex
	entry    cron.EntryID
	schedule string

	// ctx is cancelled by Stop. A refresh still waiting for in-flight
	// runs then leaves the checkout alone.
	ctx    context.Context
	cancel context.CancelFunc
}

func New(syncer Syncer, events Notifier) *Scheduler {
	logger := logging.Component("cron")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(&logger)),
			cron.SkipIfStillRunning(cron.PrintfLogger(&logger)),
		)),
		syncer: syncer,
		events: events,
		logger: logger,
	}
}

// SetSchedule replaces the refresh schedule. An empty schedule disables
// scheduled refreshes. Standard five-field specs and descriptors such as
// "@hourly" or "@every 30m" are accepted.
func (s *Scheduler) SetSchedule(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
		s.schedule = ""
	}
	if schedule == "" {
		return nil
	}

	id, err := s.cron.AddFunc(schedule, s.refresh)
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	s.entry = id
	s.schedule = schedule
	s.logger.Info().Str("schedule", schedule).Msg("repository refresh scheduled")
	return nil
}

// Next is the time of the next scheduled refresh, zero if none is scheduled
// or the scheduler is not running.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) Schedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("scheduler started")
}

func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

// refresh leaves the clone timeout to the syncer: waiting for in-flight
// runs to release the checkout can take as long as the longest run.
func (s *Scheduler) refresh() {
	start := time.Now()
	path, err := s.syncer.Sync(s.ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled refresh failed")
		return
	}
	s.logger.Info().Str("path", path).Dur("duration", time.Since(start)).Msg("scheduled refresh done")
	if s.events != nil {
		s.events.Broadcast(hub.Event{Type: hub.RepoRefreshed, Payload: map[string]string{
			"repoPath": path,
			"trigger":  "schedule",
		}})
	}
}
