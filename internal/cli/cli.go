// Package cli translates command-line flags into the engine's run
// configuration and handles process-level concerns like exit codes.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/loomworks/loom/internal/app"
	"github.com/loomworks/loom/internal/config"
)

// ExitError is an error carrying a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// rootFlags holds the raw flag values shared by every subcommand.
type rootFlags struct {
	pipeline  string
	store     string
	workers   int
	seed      int64
	keepGoing bool
	iterate   string
	format    string
	logFormat string
	logLevel  string
}

func (f *rootFlags) options() (*config.Options, error) {
	return config.New(config.Options{
		PipelinePath:   f.pipeline,
		StorePath:      f.store,
		Workers:        f.workers,
		Seed:           f.seed,
		KeepGoing:      f.keepGoing,
		DefaultIterate: f.iterate,
		DefaultFormat:  f.format,
		LogFormat:      f.logFormat,
		LogLevel:       f.logLevel,
	})
}

// NewRootCommand builds the loom command tree. All output, including logs,
// goes to outW so tests can capture it.
func NewRootCommand(outW io.Writer) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "loom [PIPELINE_PATH]",
		Short:         "An incremental, content-addressed pipeline runner.",
		Long:          "Loom evaluates a declared pipeline of targets, re-running only the targets whose command, inputs, or stored data changed since the last run.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(outW)

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.pipeline, "pipeline", "p", "", "Path to a .hcl file or a directory of .hcl files.")
	pf.StringVar(&flags.store, "store", ".loom", "Directory holding fingerprints and stored results.")
	pf.IntVar(&flags.workers, "workers", 4, "Number of concurrent command evaluators.")
	pf.Int64Var(&flags.seed, "seed", 0, "Seed for the sample() pattern combinator.")
	pf.BoolVar(&flags.keepGoing, "keep-going", false, "Continue unrelated work after a node fails.")
	pf.StringVar(&flags.iterate, "default-iterate", "vector", "Iteration mode for targets that omit it: vector, list, or group.")
	pf.StringVar(&flags.format, "default-format", "json", "Storage format for targets that omit it: json or text.")
	pf.StringVar(&flags.logFormat, "log-format", "text", "Log output format: text or json.")
	pf.StringVar(&flags.logLevel, "log-level", "info", "Logging level: debug, info, warn, or error.")

	root.AddCommand(
		newRunCommand(outW, flags),
		newPlanCommand(outW, flags),
		newCleanCommand(outW, flags),
	)
	return root
}

// newApp resolves flags plus the optional positional path into a ready App.
func newApp(outW io.Writer, flags *rootFlags, args []string) (*app.App, error) {
	if flags.pipeline == "" && len(args) > 0 {
		flags.pipeline = args[0]
	}
	opts, err := flags.options()
	if err != nil {
		return nil, &ExitError{Code: 2, Message: err.Error()}
	}
	return app.New(outW, opts), nil
}

func newRunCommand(outW io.Writer, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run [PIPELINE_PATH]",
		Short: "Execute the pipeline, skipping up-to-date targets.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(outW, flags, args)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
}

func newPlanCommand(outW io.Writer, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "plan [PIPELINE_PATH]",
		Short: "Predict which targets the next run would re-execute.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(outW, flags, args)
			if err != nil {
				return err
			}
			return a.Plan(cmd.Context())
		},
	}
}

func newCleanCommand(outW io.Writer, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete all fingerprints and stored results.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Clean touches only the store, so no pipeline is needed.
			if flags.pipeline == "" {
				flags.pipeline = "."
			}
			a, err := newApp(outW, flags, args)
			if err != nil {
				return err
			}
			return a.Clean(cmd.Context())
		},
	}
}

// Execute runs the command tree and maps errors to exit codes.
func Execute(ctx context.Context, args []string, outW io.Writer) int {
	root := NewRootCommand(outW)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if exitErr, ok := err.(*ExitError); ok {
			_, werr := io.WriteString(root.ErrOrStderr(), exitErr.Message+"\n")
			cobra.CheckErr(werr)
			return exitErr.Code
		}
		_, werr := io.WriteString(root.ErrOrStderr(), err.Error()+"\n")
		cobra.CheckErr(werr)
		return 1
	}
	return 0
}
