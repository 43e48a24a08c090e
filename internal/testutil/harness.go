// Package testutil provides a shared harness for integration tests: a
// temporary pipeline directory, a temporary store, and a captured log.
package testutil

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/ctxlog"
	"github.com/loomworks/loom/internal/executor"
	"github.com/loomworks/loom/internal/fingerprint"
	"github.com/loomworks/loom/internal/graph"
	"github.com/loomworks/loom/internal/pipeline"
	"github.com/loomworks/loom/internal/store"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Harness is a reusable pipeline-plus-store fixture. The store directory
// survives across Run calls so tests can exercise incremental behavior.
type Harness struct {
	t    *testing.T
	Dir  string
	Opts *config.Options
}

// RunResult holds the outcomes of one harness run.
type RunResult struct {
	Report    *executor.Report
	Exec      *executor.Executor
	Err       error
	LogOutput string
}

// NewHarness creates a temporary pipeline directory with the given files
// and a fresh store. Option mutators run after defaults are applied.
func NewHarness(t *testing.T, files map[string]string, mutate ...func(*config.Options)) *Harness {
	t.Helper()

	tmpDir := t.TempDir()
	pipelineDir := filepath.Join(tmpDir, "pipeline")
	require.NoError(t, os.Mkdir(pipelineDir, 0o755))

	h := &Harness{t: t, Dir: pipelineDir}
	for name, content := range files {
		h.WriteFile(name, content)
	}

	opts := config.Options{
		PipelinePath: pipelineDir,
		StorePath:    filepath.Join(tmpDir, "store"),
		Workers:      4,
		LogLevel:     "debug",
		LogFormat:    "text",
	}
	for _, m := range mutate {
		m(&opts)
	}
	validated, err := config.New(opts)
	require.NoError(t, err)
	h.Opts = validated
	return h
}

// WriteFile creates or replaces one pipeline file. Use it between runs to
// simulate an edit.
func (h *Harness) WriteFile(name, content string) {
	h.t.Helper()
	path := filepath.Join(h.Dir, name)
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o644))
}

// Run executes the pipeline once against the persistent store.
func (h *Harness) Run(ctx context.Context) *RunResult {
	h.t.Helper()

	logBuffer := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(logBuffer, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx = ctxlog.WithLogger(ctx, logger)

	exec, err := h.build(ctx)
	if err != nil {
		return &RunResult{Err: err, LogOutput: logBuffer.String()}
	}
	report, runErr := exec.Run(ctx)
	return &RunResult{Report: report, Exec: exec, Err: runErr, LogOutput: logBuffer.String()}
}

// Plan predicts the next run without executing anything.
func (h *Harness) Plan(ctx context.Context) ([]executor.PlanEntry, error) {
	h.t.Helper()
	exec, err := h.build(ctx)
	if err != nil {
		return nil, err
	}
	return exec.Plan(ctx)
}

func (h *Harness) build(ctx context.Context) (*executor.Executor, error) {
	mode, err := pipeline.ParseMode(h.Opts.DefaultIterate)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.Load(ctx, h.Opts.PipelinePath, pipeline.Defaults{Iterate: mode, Format: h.Opts.DefaultFormat})
	if err != nil {
		return nil, err
	}
	g, err := graph.Build(ctx, p)
	if err != nil {
		return nil, err
	}
	prints, err := fingerprint.NewStore(filepath.Join(h.Opts.StorePath, "fingerprints"))
	if err != nil {
		return nil, err
	}
	results, err := store.NewFileStore(filepath.Join(h.Opts.StorePath, "results"))
	if err != nil {
		return nil, err
	}
	return executor.New(g, h.Opts, prints, results), nil
}
