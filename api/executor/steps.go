package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"robotrunner/api/checkout"
	"robotrunner/api/metrics"
	"robotrunner/api/model"
	"robotrunner/api/runtime"
)

// inlinePrefix marks suites written for a single manual run. Project runs
// skip them so they never pick up another request's content.
const inlinePrefix = "run-"

type step struct {
	name string
	fn   func(ctx context.Context, j *job) error
}

// outputTailBytes bounds the robot console output kept on a run record.
const outputTailBytes = 4 << 10

// job is the working state of one run as it moves through the steps.
type job struct {
	req    *model.RunRequest
	run    *model.Run
	logger zerolog.Logger

	lease       *checkout.Lease
	contentFile string
	suites      []string // relative to the checkout root
	scratch     string
	result      *runtime.Result
	outputs     []output
}

type output struct {
	name string
	path string
}

func (j *job) cleanup(logger zerolog.Logger) {
	if j.contentFile != "" {
		if err := os.Remove(j.contentFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("path", j.contentFile).Msg("remove content file")
		}
	}
	if j.scratch != "" {
		if err := os.RemoveAll(j.scratch); err != nil {
			logger.Warn().Err(err).Str("path", j.scratch).Msg("remove scratch dir")
		}
	}
	if j.lease != nil {
		j.lease.Release()
	}
}

func (e *Executor) acquire(_ context.Context, j *job) error {
	lease, err := e.checkout.Acquire()
	if err != nil {
		return err
	}
	j.lease = lease
	return nil
}

func (e *Executor) prepare(_ context.Context, j *job) error {
	projectDir := filepath.Join(j.lease.TestRoot, filepath.FromSlash(j.req.Project))
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}

	switch j.req.Kind {
	case model.KindManual:
		j.contentFile = filepath.Join(projectDir, inlinePrefix+j.req.RequestID+".robot")
		if err := os.WriteFile(j.contentFile, []byte(j.req.Content), 0o644); err != nil {
			return fmt.Errorf("write test content: %w", err)
		}
		j.suites = []string{j.contentFile}
	case model.KindProject:
		suites, err := DiscoverSuites(projectDir)
		if err != nil {
			return err
		}
		if len(suites) == 0 {
			return &model.ValidationError{Field: "project", Message: fmt.Sprintf("project %q has no test suites", j.req.Project)}
		}
		j.suites = suites
	}

	for i, s := range j.suites {
		if rel, err := filepath.Rel(j.lease.Root, s); err == nil {
			j.suites[i] = rel
		}
	}

	if err := os.MkdirAll(e.opts.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	scratch, err := os.MkdirTemp(e.opts.WorkDir, j.req.RequestID+"-")
	if err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	j.scratch = scratch
	return nil
}

// initSuite is robot's directory initialization file. Passed as a suite
// file it would run as an empty suite of its own, so it is left out.
const initSuite = "__init__.robot"

// DiscoverSuites lists the .robot files directly under dir, sorted by name,
// leaving out inline suites of in-flight manual runs and the init file.
func DiscoverSuites(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read project dir: %w", err)
	}
	var suites []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || filepath.Ext(name) != ".robot" || strings.HasPrefix(name, inlinePrefix) || name == initSuite {
			continue
		}
		suites = append(suites, filepath.Join(dir, name))
	}
	return suites, nil
}

func (e *Executor) run(ctx context.Context, j *job) error {
	args := []string{"--outputdir", j.scratch}
	if j.req.TestResultTitle != "" {
		args = append(args, "--name", j.req.TestResultTitle)
	}
	args = append(args, e.opts.RobotArgs...)
	args = append(args, j.suites...)

	res, err := e.runner.Run(ctx, runtime.Invocation{
		Executable:      e.opts.RobotExecutable,
		Args:            args,
		Dir:             j.lease.Root,
		OutputDir:       j.scratch,
		ExpectedOutputs: model.ReportArtifacts,
		Timeout:         j.req.Timeout,
	})
	if res != nil {
		j.run.ExitCode = res.ExitCode
		if err != nil || res.ExitCode != 0 || len(res.Outputs) == 0 {
			j.run.Output = outputTail(res)
			j.logger.Warn().
				Int("exitCode", res.ExitCode).
				Int("outputs", len(res.Outputs)).
				Str("output", j.run.Output).
				Msg("robot did not pass cleanly")
		}
	}
	if err != nil {
		return err
	}
	j.result = res
	return nil
}

// outputTail joins stdout and stderr and keeps the last outputTailBytes,
// where robot prints its summary and usage errors.
func outputTail(res *runtime.Result) string {
	var parts []string
	for _, s := range []string{res.Stdout, res.Stderr} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	out := strings.Join(parts, "\n")
	if len(out) > outputTailBytes {
		out = "..." + strings.ToValidUTF8(out[len(out)-outputTailBytes:], "")
	}
	return out
}

func (e *Executor) collect(_ context.Context, j *job) error {
	for _, name := range model.ReportArtifacts {
		if path, ok := j.result.Outputs[name]; ok {
			j.outputs = append(j.outputs, output{name: name, path: path})
		}
	}
	return nil
}

// upload publishes every collected output concurrently. Each upload is
// attempted regardless of the others; all failures are reported together.
func (e *Executor) upload(ctx context.Context, j *job) error {
	refs := make([]*model.ArtifactRef, len(j.outputs))
	errs := make([]error, len(j.outputs))

	var g errgroup.Group
	for i, out := range j.outputs {
		g.Go(func() error {
			key := model.ObjectKey(j.run.Kind, j.run.RequestID, out.name)
			ref, err := e.storage.Upload(ctx, out.path, key)
			metrics.RecordUpload(out.name, err)
			if err != nil {
				errs[i] = fmt.Errorf("upload %s: %w", out.name, err)
				return nil
			}
			refs[i] = ref
			return nil
		})
	}
	g.Wait()

	for _, ref := range refs {
		if ref != nil {
			j.run.Artifacts = append(j.run.Artifacts, *ref)
		}
	}
	return errors.Join(errs...)
}
