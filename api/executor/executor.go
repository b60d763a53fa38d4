// Package executor turns a run request into published robot reports.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"robotrunner/api/checkout"
	"robotrunner/api/hub"
	"robotrunner/api/logging"
	"robotrunner/api/metrics"
	"robotrunner/api/model"
	"robotrunner/api/runtime"
	"robotrunner/api/storage"
	"robotrunner/api/store"
)

// ErrShuttingDown is returned for runs submitted after Shutdown.
var ErrShuttingDown = errors.New("runner is shutting down")

type Leaser interface {
	Acquire() (*checkout.Lease, error)
}

type Notifier interface {
	Broadcast(evt hub.Event)
}

type Options struct {
	RobotExecutable   string
	RobotArgs         []string
	WorkDir           string
	RunTimeout        time.Duration
	MaxRunTimeout     time.Duration
	MaxConcurrentRuns int
}

type Executor struct {
	checkout Leaser
	runner   runtime.Runner
	storage  storage.Publisher
	store    store.Store
	events   Notifier
	opts     Options

	sem *semaphore.Weighted
	// mu orders Submit's wg.Add against Shutdown's cancel and wg.Wait.
	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

func New(co Leaser, runner runtime.Runner, pub storage.Publisher, st store.Store, events Notifier, opts Options) *Executor {
	if opts.MaxConcurrentRuns < 1 {
		opts.MaxConcurrentRuns = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		checkout: co,
		runner:   runner,
		storage:  pub,
		store:    st,
		events:   events,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrentRuns)),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logging.Component("executor"),
	}
}

// Execute runs req to completion and returns the finished run. The run is
// detached from ctx once it holds a run slot; ctx only bounds the wait for
// that slot. A run whose tests fail is returned with a nil error.
func (e *Executor) Execute(ctx context.Context, req *model.RunRequest) (*model.Run, error) {
	run, err := e.admit(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, req, run)
}

// Submit records req as queued and runs it in the background.
func (e *Executor) Submit(ctx context.Context, req *model.RunRequest) (*model.Run, error) {
	e.mu.Lock()
	if e.ctx.Err() != nil {
		e.mu.Unlock()
		return nil, ErrShuttingDown
	}
	e.wg.Add(1)
	e.mu.Unlock()

	run, err := e.admit(ctx, req)
	if err != nil {
		e.wg.Done()
		return nil, err
	}
	queued := *run

	go func() {
		defer e.wg.Done()
		e.execute(e.ctx, req, run)
	}()
	return &queued, nil
}

// Shutdown stops queued background runs from starting and waits for the
// ones already running, or until ctx is done.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.cancel()
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) admit(ctx context.Context, req *model.RunRequest) (*model.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Timeout = e.timeout(req.Timeout)

	run := model.NewRun(req)
	if err := e.store.CreateRun(ctx, run); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("requestId %q: %w", req.RequestID, err)
		}
		return nil, fmt.Errorf("record run: %w", err)
	}
	e.broadcast(hub.RunQueued, run, nil)
	return run, nil
}

func (e *Executor) timeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		requested = e.opts.RunTimeout
	}
	if e.opts.MaxRunTimeout > 0 && requested > e.opts.MaxRunTimeout {
		return e.opts.MaxRunTimeout
	}
	return requested
}

func (e *Executor) execute(waitCtx context.Context, req *model.RunRequest, run *model.Run) (*model.Run, error) {
	logger := e.logger.With().Str("requestId", run.RequestID).Str("project", run.Project).Str("kind", string(run.Kind)).Logger()

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		return e.fail(logger, run, "queue", fmt.Errorf("waiting for a run slot: %w", err))
	}
	defer e.sem.Release(1)
	metrics.RunStarted()
	defer metrics.RunFinished()

	ctx := context.WithoutCancel(waitCtx)
	j := &job{req: req, run: run, logger: logger}
	defer j.cleanup(logger)

	run.Status = model.RunRunning
	run.StartedAt = time.Now()
	e.save(ctx, logger, run)

	steps := []step{
		{name: "checkout", fn: e.acquire},
		{name: "prepare", fn: e.prepare},
		{name: "run", fn: e.run},
		{name: "collect", fn: e.collect},
		{name: "upload", fn: e.upload},
	}
	for _, s := range steps {
		e.broadcast(hub.RunStep, run, map[string]string{"step": s.name})
		start := time.Now()
		err := s.fn(ctx, j)
		logger.Debug().Str("step", s.name).Dur("duration", time.Since(start)).Err(err).Msg("step finished")
		if err != nil {
			return e.fail(logger, run, s.name, err)
		}
	}

	run.ExitCode = j.result.ExitCode
	run.Status = model.RunPassed
	if run.ExitCode != 0 {
		run.Status = model.RunFailed
	}
	run.ReportURL = e.storage.URL(model.ObjectPrefix(run.Kind, run.RequestID))
	e.finish(ctx, run)

	logger.Info().
		Str("status", string(run.Status)).
		Int("exitCode", run.ExitCode).
		Int("artifacts", len(run.Artifacts)).
		Str("reportUrl", run.ReportURL).
		Msg("run finished")
	e.broadcast(hub.RunCompleted, run, run)
	return run, nil
}

func (e *Executor) fail(logger zerolog.Logger, run *model.Run, stepName string, err error) (*model.Run, error) {
	err = fmt.Errorf("%s: %w", stepName, err)
	metrics.RecordError(stepName, errorClass(err))

	run.Status = model.RunError
	if errors.Is(err, runtime.ErrTimeout) {
		run.Status = model.RunTimedOut
	}
	run.Error = err.Error()
	e.finish(context.Background(), run)

	logger.Error().Err(err).Str("step", stepName).Msg("run failed")
	e.broadcast(hub.RunFailed, run, run)
	return run, err
}

// errorClass buckets err into the small label set of the errors metric.
func errorClass(err error) string {
	switch {
	case errors.Is(err, runtime.ErrTimeout):
		return "timeout"
	case errors.Is(err, runtime.ErrStart):
		return "spawn"
	case errors.Is(err, checkout.ErrUnavailable):
		return "unavailable"
	case model.IsValidation(err):
		return "validation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return "filesystem"
	}
	return "internal"
}

func (e *Executor) finish(ctx context.Context, run *model.Run) {
	now := time.Now()
	run.FinishedAt = &now
	run.DurationMs = now.Sub(run.StartedAt).Milliseconds()
	metrics.RecordRun(string(run.Kind), string(run.Status), now.Sub(run.StartedAt))
	e.save(ctx, e.logger, run)
}

func (e *Executor) save(ctx context.Context, logger zerolog.Logger, run *model.Run) {
	if err := e.store.UpdateRun(ctx, run); err != nil {
		logger.Warn().Err(err).Str("requestId", run.RequestID).Msg("update run record")
	}
}

func (e *Executor) broadcast(typ string, run *model.Run, payload interface{}) {
	if e.events == nil {
		return
	}
	e.events.Broadcast(hub.Event{Type: typ, RequestID: run.RequestID, Project: run.Project, Payload: payload})
}
