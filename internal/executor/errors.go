package executor

import (
	"fmt"
	"strings"
)

// CommandError reports that a node's command itself failed to evaluate.
type CommandError struct {
	NodeID string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed for %s: %v", e.NodeID, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// DependencyFailedError marks a node skipped because an upstream node
// errored. It is a symptom, not a root cause.
type DependencyFailedError struct {
	NodeID string
	Dep    string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("%s skipped: dependency %s failed", e.NodeID, e.Dep)
}

// CancelledError marks a node halted by a user-initiated abort or by
// fail-fast shutdown of an unrelated subgraph.
type CancelledError struct {
	NodeID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("%s cancelled", e.NodeID)
}

// NodeError pairs a node with its recorded error.
type NodeError struct {
	ID  string
	Err error
}

// Report summarizes one run. Root causes are kept separate from the
// dependents skipped as a consequence, so a failed build names every real
// failure, not just the first.
type Report struct {
	// Ran lists nodes that performed a Running transition, in completion
	// order.
	Ran []string
	// UpToDate lists nodes skipped because their fingerprints were valid.
	UpToDate []string
	// Failed lists every root-cause failure.
	Failed []NodeError
	// Skipped lists nodes marked Errored only because a dependency failed.
	Skipped []string
	// Cancelled lists nodes halted before running.
	Cancelled []string
}

// Err returns a single error summarizing the run, or nil on success.
func (r *Report) Err() error {
	if len(r.Failed) == 0 && len(r.Cancelled) == 0 {
		return nil
	}
	if len(r.Failed) == 0 {
		return fmt.Errorf("execution cancelled: %d nodes halted", len(r.Cancelled))
	}
	ids := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.ID
	}
	return fmt.Errorf("execution failed for %s: %w", strings.Join(ids, ", "), r.Failed[0].Err)
}
