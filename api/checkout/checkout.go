// Package checkout owns the local working copy of the test repository.
//
// A Checkout is the only handle to the on-disk tree. Runs take a shared
// Lease while they read or write inside it; Sync takes the exclusive lock,
// deletes the tree and clones it again.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/rs/zerolog"

	"robotrunner/api/logging"
	"robotrunner/api/metrics"
)

// ErrUnavailable means no usable checkout exists: it was never cloned or the
// last clone failed.
var ErrUnavailable = errors.New("repository unavailable")

type Options struct {
	Dir      string // checkout root
	TestsDir string // test root relative to Dir
	URL      string
	Token    string
	Branch   string
	Depth    int
	// CloneTimeout bounds one clone. It starts once Sync holds the
	// checkout, not while it waits for runs to release it.
	CloneTimeout time.Duration
}

type Checkout struct {
	opts   Options
	mu     sync.RWMutex
	ready  atomic.Bool // written under mu, read without it
	commit string
	logger zerolog.Logger
}

func New(opts Options) (*Checkout, error) {
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve checkout dir %s: %w", opts.Dir, err)
	}
	opts.Dir = dir
	return &Checkout{opts: opts, logger: logging.Component("checkout")}, nil
}

// Lease is a shared hold on the checkout. The tree is not replaced while
// any lease is held.
type Lease struct {
	Root     string
	TestRoot string
	Commit   string
	once     sync.Once
	release  func()
}

func (l *Lease) Release() {
	l.once.Do(l.release)
}

// Acquire takes a shared lease. It blocks while a Sync is in progress.
func (c *Checkout) Acquire() (*Lease, error) {
	c.mu.RLock()
	if !c.ready.Load() {
		c.mu.RUnlock()
		return nil, ErrUnavailable
	}
	if _, err := os.Stat(c.opts.Dir); err != nil {
		c.mu.RUnlock()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Lease{
		Root:     c.opts.Dir,
		TestRoot: c.TestRoot(),
		Commit:   c.commit,
		release:  c.mu.RUnlock,
	}, nil
}

// Sync replaces the checkout with a fresh clone and returns its path.
// A failed clone leaves the checkout unavailable; there is no rollback.
// If ctx is done by the time in-flight runs release the checkout, the
// current tree is kept and ctx's error is returned.
func (c *Checkout) Sync(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("sync abandoned while waiting for runs, keeping current checkout")
		return "", fmt.Errorf("sync abandoned: %w", err)
	}
	if c.opts.CloneTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CloneTimeout)
		defer cancel()
	}

	c.ready.Store(false)
	c.commit = ""

	err := c.clone(ctx)
	metrics.RecordSync(err)
	if err != nil {
		c.logger.Error().Err(err).Str("dir", c.opts.Dir).Msg("sync failed")
		return "", err
	}

	c.ready.Store(true)
	c.logger.Info().Str("dir", c.opts.Dir).Str("commit", c.commit).Msg("repository synced")
	return c.opts.Dir, nil
}

func (c *Checkout) clone(ctx context.Context) error {
	if err := os.RemoveAll(c.opts.Dir); err != nil {
		return fmt.Errorf("remove checkout %s: %w", c.opts.Dir, err)
	}
	if err := os.MkdirAll(c.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create checkout %s: %w", c.opts.Dir, err)
	}

	cloneOpts := &gogit.CloneOptions{
		URL:   c.opts.URL,
		Auth:  c.auth(),
		Depth: c.opts.Depth,
	}
	if c.opts.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(c.opts.Branch)
		cloneOpts.SingleBranch = true
	}

	repo, err := gogit.PlainCloneContext(ctx, c.opts.Dir, false, cloneOpts)
	if err != nil {
		return fmt.Errorf("git clone %s: %w", redact(c.opts.URL), err)
	}
	if head, err := repo.Head(); err == nil {
		c.commit = head.Hash().String()
	}
	return nil
}

func (c *Checkout) auth() transport.AuthMethod {
	if c.opts.Token == "" || !isHTTPURL(c.opts.URL) {
		return nil
	}
	// GitHub accepts any non-empty username alongside a token.
	return &githttp.BasicAuth{Username: "x-access-token", Password: c.opts.Token}
}

// Path is the checkout root.
func (c *Checkout) Path() string {
	return c.opts.Dir
}

func (c *Checkout) TestRoot() string {
	return filepath.Join(c.opts.Dir, c.opts.TestsDir)
}

// Ready reports whether the last Sync succeeded. It does not wait for a
// pending Sync.
func (c *Checkout) Ready() bool {
	return c.ready.Load()
}

func isHTTPURL(raw string) bool {
	return strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "http://")
}

// redact drops userinfo so credentials embedded in the remote never reach logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}
