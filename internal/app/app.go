// Package app contains the core application logic. It defines the main App
// struct and the primary execution lifecycle, decoupled from any specific
// entrypoint like a CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/ctxlog"
	"github.com/loomworks/loom/internal/executor"
	"github.com/loomworks/loom/internal/fingerprint"
	"github.com/loomworks/loom/internal/graph"
	"github.com/loomworks/loom/internal/pipeline"
	"github.com/loomworks/loom/internal/store"
)

// App encapsulates the engine's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	opts   *config.Options
}

// New returns a fully initialized App with its own isolated logger.
func New(outW io.Writer, opts *config.Options) *App {
	logger := newLogger(opts.LogLevel, opts.LogFormat, outW)
	logger.Debug("Logger configured successfully.")
	return &App{outW: outW, logger: logger, opts: opts}
}

// Logger returns the application's logger. This is primarily for testing.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// build loads the declarations and assembles the executor.
func (a *App) build(ctx context.Context) (*executor.Executor, *graph.Graph, error) {
	logger := ctxlog.FromContext(ctx)

	defaults, err := a.defaults()
	if err != nil {
		return nil, nil, err
	}

	p, err := pipeline.Load(ctx, a.opts.PipelinePath, defaults)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load pipeline: %w", err)
	}
	logger.Debug("Pipeline loaded.", "targets", len(p.Targets))

	g, err := graph.Build(ctx, p)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}
	logger.Debug("Dependency graph built.", "node_count", g.Len())

	prints, err := fingerprint.NewStore(filepath.Join(a.opts.StorePath, "fingerprints"))
	if err != nil {
		return nil, nil, err
	}
	results, err := store.NewFileStore(filepath.Join(a.opts.StorePath, "results"))
	if err != nil {
		return nil, nil, err
	}

	return executor.New(g, a.opts, prints, results), g, nil
}

func (a *App) defaults() (pipeline.Defaults, error) {
	mode, err := pipeline.ParseMode(a.opts.DefaultIterate)
	if err != nil {
		return pipeline.Defaults{}, err
	}
	return pipeline.Defaults{Iterate: mode, Format: a.opts.DefaultFormat}, nil
}

// Run executes the pipeline and prints a run summary.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	exec, g, err := a.build(ctx)
	if err != nil {
		return err
	}
	if g.Len() == 0 {
		a.logger.Warn("No targets found, execution not required.")
		return nil
	}

	a.logger.Info("Starting concurrent execution.", "nodes", g.Len(), "workers", a.opts.Workers)
	report, runErr := exec.Run(ctx)
	if report != nil {
		a.printReport(report)
	}
	if runErr != nil {
		return fmt.Errorf("execution failed: %w", runErr)
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

func (a *App) printReport(report *executor.Report) {
	fmt.Fprintf(a.outW, "ran: %d  up-to-date: %d  failed: %d  skipped: %d  cancelled: %d\n",
		len(report.Ran), len(report.UpToDate), len(report.Failed), len(report.Skipped), len(report.Cancelled))
	for _, f := range report.Failed {
		fmt.Fprintf(a.outW, "failed %s: %v\n", f.ID, f.Err)
	}
}

// Plan prints which nodes the next run would re-execute, without running
// anything.
func (a *App) Plan(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	exec, _, err := a.build(ctx)
	if err != nil {
		return err
	}
	entries, err := exec.Plan(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.WillRun {
			fmt.Fprintf(a.outW, "run   %s (%s)\n", entry.ID, entry.Reason)
		} else if entry.Reason != "" {
			fmt.Fprintf(a.outW, "check %s (%s)\n", entry.ID, entry.Reason)
		} else {
			fmt.Fprintf(a.outW, "keep  %s\n", entry.ID)
		}
	}
	return nil
}
