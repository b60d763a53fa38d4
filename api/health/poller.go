package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"robotrunner/api/logging"
	"robotrunner/api/metrics"
)

// Check tests one dependency; a nil error means it is up.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type Status struct {
	Name      string    `json:"name"`
	Up        bool      `json:"up"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Poller periodically runs its checks, exports them as metrics and logs
// every up/down transition.
type Poller struct {
	Checks   []Check
	Interval time.Duration
	Timeout  time.Duration

	mu     sync.RWMutex
	last   map[string]Status
	logger zerolog.Logger
}

func NewPoller(interval time.Duration, checks ...Check) *Poller {
	return &Poller{
		Checks:   checks,
		Interval: interval,
		Timeout:  5 * time.Second,
		last:     make(map[string]Status),
		logger:   logging.Component("health"),
	}
}

// Run starts the polling loop. It blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	if p.Interval == 0 {
		p.Interval = 30 * time.Second
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	// Run once immediately on start
	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs every check once.
func (p *Poller) Poll(ctx context.Context) []Status {
	statuses := make([]Status, len(p.Checks))
	for i, c := range p.Checks {
		cctx, cancel := context.WithTimeout(ctx, p.Timeout)
		err := c.Fn(cctx)
		cancel()

		s := Status{Name: c.Name, Up: err == nil, CheckedAt: time.Now()}
		if err != nil {
			s.Error = err.Error()
		}
		statuses[i] = s
		metrics.SetDependencyUp(c.Name, s.Up)
		p.record(s)
	}
	return statuses
}

func (p *Poller) record(s Status) {
	p.mu.Lock()
	prev, seen := p.last[s.Name]
	p.last[s.Name] = s
	p.mu.Unlock()

	switch {
	case !s.Up && (!seen || prev.Up):
		p.logger.Warn().Str("dependency", s.Name).Str("error", s.Error).Msg("dependency down")
	case s.Up && seen && !prev.Up:
		p.logger.Info().Str("dependency", s.Name).Msg("dependency recovered")
	}
}

// Last returns the most recent status of a dependency.
func (p *Poller) Last(name string) (Status, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.last[name]
	return s, ok
}
