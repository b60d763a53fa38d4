package runtime

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when an invocation outlives its timeout. The
// process has been killed; the partial Result is still returned.
var ErrTimeout = errors.New("execution timed out")

// ErrStart is returned when the process could not be started at all.
var ErrStart = errors.New("process did not start")

// Invocation describes one process run and the files it is expected to
// leave in OutputDir.
type Invocation struct {
	Executable      string
	Args            []string
	Dir             string // working directory
	Env             map[string]string
	OutputDir       string
	ExpectedOutputs []string
	Timeout         time.Duration
}

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// Outputs maps each expected output name to its path. Names whose file
	// was not produced are absent; that is not an error.
	Outputs  map[string]string
	Duration time.Duration
}

// Runner starts processes. A non-zero exit status is reported through
// Result.ExitCode with a nil error; errors mean the process could not be run
// to completion (spawn failure, timeout).
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}
