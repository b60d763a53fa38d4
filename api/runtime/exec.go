package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/acarl005/stripansi"
	"github.com/rs/zerolog"

	"robotrunner/api/logging"
)

const maxOutputBytes = 1 << 20 // 1MB per stream

// ExecRunner runs invocations as local child processes.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after the
	// process is killed on timeout.
	WaitDelay time.Duration
	logger    zerolog.Logger
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		WaitDelay: 5 * time.Second,
		logger:    logging.Component("runtime"),
	}
}

func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, inv.Executable, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.WaitDelay = r.WaitDelay
	cmd.Env = os.Environ()
	for k, v := range inv.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Info().
		Str("dir", inv.Dir).
		Str("command", shellescape.QuoteCommand(append([]string{inv.Executable}, inv.Args...))).
		Msg("starting process")

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   clean(stdout.String()),
		Stderr:   clean(stderr.String()),
		Outputs:  CollectOutputs(inv.OutputDir, inv.ExpectedOutputs),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			result.ExitCode = -1
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return result, fmt.Errorf("%w after %s", ErrTimeout, inv.Timeout)
			}
			return result, fmt.Errorf("run canceled: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			r.logger.Info().Int("exitCode", result.ExitCode).Dur("duration", result.Duration).Msg("process exited non-zero")
			return result, nil // non-zero exit is not a runner error
		}
		result.ExitCode = -1
		return result, fmt.Errorf("%w: start %s: %w", ErrStart, inv.Executable, err)
	}

	r.logger.Info().Dur("duration", result.Duration).Msg("process exited")
	return result, nil
}

// CollectOutputs returns the subset of names present as regular files in dir.
func CollectOutputs(dir string, names []string) map[string]string {
	found := make(map[string]string, len(names))
	if dir == "" {
		return found
	}
	for _, name := range names {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			found[name] = path
		}
	}
	return found
}

func clean(s string) string {
	s = stripansi.Strip(s)
	if len(s) > maxOutputBytes {
		s = s[:maxOutputBytes] + "\n... (output truncated at 1MB)"
	}
	return s
}
