package executor

import (
	"context"

	"github.com/loomworks/loom/internal/fingerprint"
	"github.com/loomworks/loom/internal/graph"
)

// PlanEntry is one node's predicted fate in a dry run.
type PlanEntry struct {
	ID      string
	WillRun bool
	// Reason explains a WillRun prediction, or qualifies a skip for
	// dynamic targets whose branch set is only known at run time.
	Reason string
}

// Plan predicts, without executing anything, which nodes the next run
// would re-execute. The walk is sequential and read-only: recorded
// fingerprint sums stand in for the values a real run would produce, and
// any node downstream of a predicted run is itself predicted to run.
//
// Dynamic targets are checked conservatively. Their command and pattern
// text can be verified against the record, but the branch set depends on
// upstream partitions, so a clean record is reported as "branches verified
// at run time" rather than a firm skip.
func (e *Executor) Plan(ctx context.Context) ([]PlanEntry, error) {
	entries := make([]PlanEntry, 0, e.graph.Len())
	stale := make(map[string]bool)
	sums := make(map[string]string)

	for _, id := range e.graph.TopoOrder() {
		n, ok := e.graph.Node(id)
		if !ok {
			continue
		}
		entry := e.planNode(ctx, n, stale, sums)
		if entry.WillRun {
			stale[id] = true
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (e *Executor) planNode(ctx context.Context, n *graph.Node, stale map[string]bool, sums map[string]string) PlanEntry {
	deps, _ := e.graph.Dependencies(n.ID)
	for _, dep := range deps {
		if stale[dep] {
			return PlanEntry{ID: n.ID, WillRun: true, Reason: "dependency stale"}
		}
	}

	if n.IsDynamic() {
		cmdHash := fingerprint.HashCommand(n.Target.CommandSrc + "\x00" + n.Target.PatternSrc)
		rec, ok := e.prints.Read(n.ID)
		if !ok {
			return PlanEntry{ID: n.ID, WillRun: true, Reason: "no record"}
		}
		if rec.CommandHash != cmdHash {
			return PlanEntry{ID: n.ID, WillRun: true, Reason: "command changed"}
		}
		sums[n.ID] = rec.Sum
		return PlanEntry{ID: n.ID, Reason: "branches verified at run time"}
	}

	depHashes := make(map[string]string, len(deps))
	for _, dep := range deps {
		depHashes[dep] = sums[dep]
	}
	chk := e.prints.IsUpToDate(ctx, n.ID, n.Target.Cue, fingerprint.HashCommand(n.Target.CommandSrc), depHashes, n.Target.Format, e.results)
	if !chk.UpToDate {
		return PlanEntry{ID: n.ID, WillRun: true, Reason: chk.Reason}
	}
	sums[n.ID] = chk.Record.Sum
	return PlanEntry{ID: n.ID}
}
