package executor

import (
	"context"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/loomworks/loom/internal/ctxlog"
	"github.com/loomworks/loom/internal/graph"
)

// task is a fully resolved unit of work handed to a worker: the node, its
// evaluation scope, and the hashes the coordinator computed for it.
type task struct {
	node      *graph.Node
	evalCtx   *hcl.EvalContext
	cmdHash   string
	depHashes map[string]string
}

// taskResult is what a worker reports back to the coordinator.
type taskResult struct {
	task     *task
	value    cty.Value
	warnings []string
	err      error
	elapsed  time.Duration
}

// worker is the core processing loop of one concurrent evaluator. Workers
// are stateless: they receive a resolved command scope, evaluate, and
// report. All graph and fingerprint mutation stays with the coordinator.
func (e *Executor) worker(ctx context.Context, tasks <-chan *task, results chan<- *taskResult, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for t := range tasks {
		workerLogger := logger.With("workerID", workerID, "nodeID", t.node.ID)
		workerLogger.Debug("Worker picked up node for execution.")

		start := time.Now()
		value, warnings, err := evaluate(t.node, t.evalCtx)
		elapsed := time.Since(start)

		if err != nil {
			workerLogger.Error("Node execution failed.", "error", err)
		} else {
			workerLogger.Debug("Node execution succeeded.", "elapsed", elapsed)
		}
		for _, w := range warnings {
			workerLogger.Warn("Command reported a warning.", "warning", w)
		}

		// The coordinator drains results until its inflight count hits
		// zero, so this send never blocks past the end of the run.
		results <- &taskResult{task: t, value: value, warnings: warnings, err: err, elapsed: elapsed}
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// evaluate runs one node's command in the given scope. Non-fatal
// diagnostics come back as warning text for the node's record.
func evaluate(n *graph.Node, evalCtx *hcl.EvalContext) (cty.Value, []string, error) {
	value, diags := n.Target.Command.Value(evalCtx)
	if diags.HasErrors() {
		return cty.NilVal, nil, &CommandError{NodeID: n.ID, Err: diags}
	}
	if !value.IsWhollyKnown() {
		return cty.NilVal, nil, &CommandError{NodeID: n.ID, Err: diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Command produced an unknown value",
		})}
	}
	var warnings []string
	for _, d := range diags {
		if d.Severity == hcl.DiagWarning {
			warnings = append(warnings, d.Error())
		}
	}
	return value, warnings, nil
}
