// Package config defines the immutable run configuration for the engine.
//
// All tunables (worker count, store location, declaration defaults, error
// policy) live in a single Options value that is validated once and then
// threaded through the graph builder and the executor. There is no ambient
// mutable configuration state.
package config

import (
	"errors"
	"fmt"
)

// Options holds all the necessary configuration for one engine run.
type Options struct {
	// PipelinePath is a single .hcl file or a directory of .hcl files
	// containing target declarations.
	PipelinePath string

	// StorePath is the directory holding fingerprints and stored results.
	StorePath string

	// Workers is the number of concurrent command evaluators.
	Workers int

	// Seed drives the sample() pattern combinator. Runs with identical
	// inputs and identical seeds select identical subsets.
	Seed int64

	// KeepGoing controls error propagation. When false (the default) the
	// first node error halts dispatch; when true, only the failed node's
	// transitive dependents are skipped and unrelated subgraphs run on.
	KeepGoing bool

	// DefaultIterate is applied to targets that omit the iterate attribute.
	DefaultIterate string

	// DefaultFormat is applied to targets that omit the format attribute.
	DefaultFormat string

	LogFormat string
	LogLevel  string
}

// New validates the provided options and fills in defaults. The returned
// value must be treated as read-only for the duration of a run.
func New(opts Options) (*Options, error) {
	if opts.PipelinePath == "" {
		return nil, errors.New("PipelinePath is a required configuration field and cannot be empty")
	}
	if opts.StorePath == "" {
		opts.StorePath = ".loom"
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.DefaultIterate == "" {
		opts.DefaultIterate = "vector"
	}
	switch opts.DefaultIterate {
	case "vector", "list", "group":
	default:
		return nil, fmt.Errorf("invalid DefaultIterate %q: must be 'vector', 'list', or 'group'", opts.DefaultIterate)
	}
	if opts.DefaultFormat == "" {
		opts.DefaultFormat = "json"
	}
	switch opts.DefaultFormat {
	case "json", "text":
	default:
		return nil, fmt.Errorf("invalid DefaultFormat %q: must be 'json' or 'text'", opts.DefaultFormat)
	}
	if opts.LogFormat == "" {
		opts.LogFormat = "text"
	}
	if opts.LogLevel == "" {
		opts.LogLevel = "info"
	}
	return &opts, nil
}
