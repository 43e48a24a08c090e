// Package executor walks the dependency graph in topological order, skips
// up-to-date nodes, expands dynamic targets into branches, and dispatches
// stale nodes to a pool of concurrent workers.
//
// One coordinator goroutine owns all graph, state, and fingerprint
// mutation. Workers are stateless command evaluators; they never touch
// shared state and never communicate with each other. For any edge a→b,
// a's transition to Done strictly precedes b's transition to Running.
package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/zclconf/go-cty/cty"

	"github.com/loomworks/loom/internal/agg"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/ctxlog"
	"github.com/loomworks/loom/internal/fingerprint"
	"github.com/loomworks/loom/internal/graph"
	"github.com/loomworks/loom/internal/pattern"
	"github.com/loomworks/loom/internal/store"
)

// Executor coordinates one execution of the graph.
type Executor struct {
	graph   *graph.Graph
	opts    *config.Options
	prints  *fingerprint.Store
	results store.Store

	mu     sync.RWMutex
	states map[string]*nodeState
}

// New returns an executor over a built graph. The options value is treated
// as immutable.
func New(g *graph.Graph, opts *config.Options, prints *fingerprint.Store, results store.Store) *Executor {
	return &Executor{
		graph:   g,
		opts:    opts,
		prints:  prints,
		results: results,
		states:  make(map[string]*nodeState),
	}
}

// run carries the coordinator's per-run bookkeeping.
type run struct {
	e        *Executor
	ctx      context.Context
	queue    []*task
	terminal int
	halted   bool
	aborted  bool

	ranOrder []string
	upToDate []string
	failed   []NodeError
}

// Run executes the graph and returns the run report. The report is
// populated even when the returned error is non-nil.
func (e *Executor) Run(ctx context.Context) (*Report, error) {
	logger := ctxlog.FromContext(ctx)

	lock := flock.New(filepath.Join(e.opts.StorePath, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock store %s: %w", e.opts.StorePath, err)
	}
	if !locked {
		return nil, fmt.Errorf("store %s is locked by another run", e.opts.StorePath)
	}
	defer lock.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	for _, id := range e.graph.TopoOrder() {
		deps, _ := e.graph.Dependencies(id)
		e.states[id] = &nodeState{state: Pending, remainingDeps: len(deps)}
	}
	e.mu.Unlock()

	tasks := make(chan *task)
	results := make(chan *taskResult)
	logger.Debug("Starting worker pool.", "workers", e.opts.Workers)
	for i := 0; i < e.opts.Workers; i++ {
		go e.worker(runCtx, tasks, results, i)
	}

	r := &run{e: e, ctx: ctx}

	// Seed: resolve every root node. Resolution cascades through
	// short-circuited UpToDate nodes immediately.
	for _, id := range e.graph.TopoOrder() {
		st := e.states[id]
		if st.state == Pending && st.remainingDeps == 0 {
			r.resolve(id)
		}
	}

	inflight := 0
	ctxDone := ctx.Done()
	for r.terminal < e.graph.Len() || inflight > 0 {
		// Observe cancellation before dispatching more work, so an abort
		// never races a pending dispatch.
		if ctxDone != nil {
			select {
			case <-ctxDone:
				ctxDone = nil
				logger.Warn("Run cancelled, halting dispatch.")
				r.aborted = true
				r.halted = true
				r.cancelRemaining()
			default:
			}
		}

		next := r.nextDispatchable()
		var sendCh chan *task
		if next != nil && !r.halted {
			sendCh = tasks
		}

		if sendCh == nil && inflight == 0 {
			if r.terminal < e.graph.Len() {
				// Nothing can make progress: remaining nodes were halted
				// before becoming dispatchable.
				r.cancelRemaining()
			}
			continue
		}

		select {
		case sendCh <- next:
			r.queue = r.queue[1:]
			e.setState(next.node.ID, Running)
			inflight++

		case res := <-results:
			inflight--
			r.handleResult(res)

		case <-ctxDone:
			ctxDone = nil
			logger.Warn("Run cancelled, halting dispatch.")
			r.aborted = true
			r.halted = true
			r.cancelRemaining()
		}
	}
	close(tasks)

	report := r.buildReport()
	logger.Info("Execution finished.",
		"ran", len(report.Ran),
		"up_to_date", len(report.UpToDate),
		"failed", len(report.Failed),
		"skipped", len(report.Skipped),
	)
	return report, report.Err()
}

// nextDispatchable peels queue entries whose node was errored after being
// queued, returning the first still-Ready task.
func (r *run) nextDispatchable() *task {
	for len(r.queue) > 0 {
		t := r.queue[0]
		if r.e.stateOf(t.node.ID) == Ready {
			return t
		}
		r.queue = r.queue[1:]
	}
	return nil
}

// resolve decides a node's fate once all its dependencies are Done.
func (r *run) resolve(id string) {
	logger := ctxlog.FromContext(r.ctx)
	n, ok := r.e.graph.Node(id)
	if !ok {
		return
	}
	st := r.e.states[id]

	switch st.state {
	case Pending:
	case Expanding:
		// All branches of a dynamic target are Done; materialize it.
		r.finalizeDynamic(n)
		return
	default:
		return
	}

	if r.halted {
		r.cancelNode(id)
		return
	}

	if n.IsDynamic() {
		r.expand(n)
		return
	}

	cmdHash, depHashes, err := r.hashesFor(n)
	if err != nil {
		r.fail(id, err)
		return
	}

	// A target downstream of anything that ran this session is stale
	// without further checks. Branches are exempt: their staleness is
	// decided by slice content, which is what lets an unchanged branch
	// skip even when the upstream target re-ran.
	ranDep := n.Kind == graph.TargetNode && r.anyDepRan(n)
	if !ranDep {
		chk := r.e.prints.IsUpToDate(r.ctx, id, n.Target.Cue, cmdHash, depHashes, n.Target.Format, r.e.results)
		if chk.UpToDate {
			value := chk.Value
			loaded := chk.Loaded
			if !loaded {
				// cue=never trusts the record without a data check, so the
				// value was not loaded along the way.
				if v, err := r.e.results.Load(r.ctx, chk.Record.Location, chk.Record.Format); err == nil {
					value, loaded = v, true
				}
			}
			if loaded {
				logger.Debug("Node is up to date.", "nodeID", id)
				r.e.setState(id, UpToDate)
				r.markDone(id, value, chk.Record.Sum, chk.Record, false)
				return
			}
			logger.Debug("Record valid but data unreadable, treating node as stale.", "nodeID", id)
		} else {
			logger.Debug("Node is stale.", "nodeID", id, "reason", chk.Reason)
		}
	} else {
		logger.Debug("Node is stale.", "nodeID", id, "reason", "dependency ran")
	}

	r.e.setState(id, Stale)
	r.e.setState(id, Ready)
	r.queue = append(r.queue, &task{
		node:      n,
		evalCtx:   r.e.buildEvalContext(n),
		cmdHash:   cmdHash,
		depHashes: depHashes,
	})
}

// hashesFor computes a node's command hash and its dependencies' current
// fingerprints. For a branch the dependency fingerprints are content
// hashes of its input slices, so editing one upstream slice invalidates
// exactly the branches that consume it.
func (r *run) hashesFor(n *graph.Node) (string, map[string]string, error) {
	depHashes := make(map[string]string)

	if n.Kind == graph.BranchNode {
		st := r.e.states[n.ID]
		for i, ref := range n.Slices {
			h, err := fingerprint.HashValue(st.sliceRefVals[i])
			if err != nil {
				return "", nil, &fingerprint.StoreIOError{NodeID: n.ID, Err: err}
			}
			depHashes[ref.String()] = h
		}
		return fingerprint.HashCommand(n.Target.CommandSrc), depHashes, nil
	}

	deps, _ := r.e.graph.Dependencies(n.ID)
	for _, dep := range deps {
		depHashes[dep] = r.e.states[dep].fp
	}
	return fingerprint.HashCommand(n.Target.CommandSrc), depHashes, nil
}

func (r *run) anyDepRan(n *graph.Node) bool {
	deps, _ := r.e.graph.Dependencies(n.ID)
	for _, dep := range deps {
		if r.e.states[dep].ran {
			return true
		}
	}
	return false
}

// handleResult processes a worker's report.
func (r *run) handleResult(res *taskResult) {
	id := res.task.node.ID
	st := r.e.states[id]
	if st.state != Running {
		// Already errored by propagation; nothing to record.
		return
	}
	r.e.mu.Lock()
	st.elapsed = res.elapsed
	r.e.mu.Unlock()

	if r.aborted {
		r.fail(id, &CancelledError{NodeID: id})
		return
	}
	if res.err != nil {
		r.fail(id, res.err)
		return
	}
	r.persist(res.task, res.value, res.warnings, true)
}

// persist saves a node's value, commits its fingerprint record atomically,
// and marks the node Done. Save-then-commit order guarantees a record
// never points at data that was not written.
func (r *run) persist(t *task, value cty.Value, messages []string, ran bool) {
	id := t.node.ID
	format := t.node.Target.Format

	dataHash, err := fingerprint.HashValue(value)
	if err != nil {
		r.fail(id, &fingerprint.StoreIOError{NodeID: id, Err: err})
		return
	}
	location, err := r.e.results.Save(r.ctx, id, value, format)
	if err != nil {
		r.fail(id, &fingerprint.StoreIOError{NodeID: id, Err: err})
		return
	}
	rec := &fingerprint.Record{
		CommandHash: t.cmdHash,
		DepHashes:   t.depHashes,
		DataHash:    dataHash,
		Format:      format,
		Location:    location,
		Messages:    messages,
	}
	if err := r.e.prints.Write(id, rec); err != nil {
		r.fail(id, err)
		return
	}
	r.markDone(id, value, rec.Sum, rec, ran)
}

// markDone finalizes a successful node and unlocks its dependents.
func (r *run) markDone(id string, value cty.Value, fp string, rec *fingerprint.Record, ran bool) {
	st := r.e.states[id]
	st.value = value
	st.hasValue = true
	st.fp = fp
	st.record = rec
	st.ran = ran
	r.e.setState(id, Done)
	r.terminal++

	if ran {
		r.ranOrder = append(r.ranOrder, id)
	} else {
		r.upToDate = append(r.upToDate, id)
	}

	dependents, _ := r.e.graph.Dependents(id)
	for _, dep := range dependents {
		depState := r.e.states[dep]
		depState.remainingDeps--
		if depState.remainingDeps == 0 {
			r.resolve(dep)
		}
	}
}

// expand synthesizes a dynamic target's branches from the already-resolved
// partitions of its pattern inputs and splices them into the graph.
func (r *run) expand(n *graph.Node) {
	logger := ctxlog.FromContext(r.ctx)
	r.e.setState(n.ID, Stale)
	r.e.setState(n.ID, Expanding)

	inputs := pattern.Inputs(n.Pattern)
	parts := make(map[string][]cty.Value, len(inputs))
	sizes := make(map[string]int, len(inputs))
	for _, input := range inputs {
		inputNode, ok := r.e.graph.Node(input)
		if !ok {
			r.fail(n.ID, fmt.Errorf("pattern input %q not in graph", input))
			return
		}
		slices, err := agg.Partition(r.e.states[input].value, inputNode.Target.Iterate)
		if err != nil {
			r.fail(n.ID, err)
			return
		}
		parts[input] = slices
		sizes[input] = len(slices)
	}

	specs, err := pattern.Expand(n.Pattern, sizes, r.e.opts.Seed)
	if err != nil {
		// Arity and index errors surface here, before any branch runs.
		r.fail(n.ID, err)
		return
	}
	logger.Debug("Expanded dynamic target.", "nodeID", n.ID, "branches", len(specs))

	branches := make([]*graph.Node, len(specs))
	for i, spec := range specs {
		branches[i] = &graph.Node{
			ID:      pattern.BranchID(n.ID, spec.Slices),
			Kind:    graph.BranchNode,
			Target:  n.Target,
			Owner:   n.ID,
			Ordinal: spec.Ordinal,
			Slices:  spec.Slices,
		}
	}
	if err := r.e.graph.Splice(n.ID, branches); err != nil {
		r.fail(n.ID, err)
		return
	}

	ownerState := r.e.states[n.ID]
	ownerState.remainingDeps = len(specs)

	r.e.mu.Lock()
	for i, b := range branches {
		sliceVals := make(map[string]cty.Value, len(specs[i].Slices))
		sliceRefVals := make([]cty.Value, len(specs[i].Slices))
		for j, ref := range specs[i].Slices {
			v := parts[ref.Target][ref.Index]
			sliceVals[ref.Target] = v
			sliceRefVals[j] = v
		}
		r.e.states[b.ID] = &nodeState{
			state:        Pending,
			sliceVals:    sliceVals,
			sliceRefVals: sliceRefVals,
		}
	}
	r.e.mu.Unlock()

	if len(specs) == 0 {
		r.finalizeDynamic(n)
		return
	}
	for _, b := range branches {
		r.resolve(b.ID)
	}
}

// finalizeDynamic materializes a dynamic target once every branch is Done:
// either the prior record still covers the branch set, or the branch
// results are combined per the iteration mode and committed.
func (r *run) finalizeDynamic(n *graph.Node) {
	branches := r.e.graph.Branches(n.ID)
	branchVals := make([]cty.Value, len(branches))
	depHashes := make(map[string]string, len(branches))
	anyRan := false
	for i, b := range branches {
		bst := r.e.states[b.ID]
		branchVals[i] = bst.value
		depHashes[b.ID] = bst.fp
		anyRan = anyRan || bst.ran
	}

	cmdHash := fingerprint.HashCommand(n.Target.CommandSrc + "\x00" + n.Target.PatternSrc)

	if !anyRan {
		chk := r.e.prints.IsUpToDate(r.ctx, n.ID, n.Target.Cue, cmdHash, depHashes, n.Target.Format, r.e.results)
		if chk.UpToDate && chk.Loaded {
			r.markDone(n.ID, chk.Value, chk.Record.Sum, chk.Record, false)
			return
		}
	}

	combined, err := agg.Combine(branchVals, n.Target.Iterate)
	if err != nil {
		r.fail(n.ID, err)
		return
	}
	r.persist(&task{node: n, cmdHash: cmdHash, depHashes: depHashes}, combined, nil, true)
}

// fail records a root-cause error on a node and propagates the failure.
func (r *run) fail(id string, err error) {
	logger := ctxlog.FromContext(r.ctx)
	logger.Error("Node failed.", "nodeID", id, "error", err)

	r.e.mu.Lock()
	r.e.states[id].err = err
	r.e.mu.Unlock()
	r.e.setState(id, Errored)
	r.terminal++

	if _, isCancelled := err.(*CancelledError); !isCancelled {
		r.failed = append(r.failed, NodeError{ID: id, Err: err})
	}

	r.skipDependents(id, id)

	if !r.e.opts.KeepGoing && !r.halted {
		logger.Warn("Halting dispatch after failure (fail-fast).", "nodeID", id)
		r.halted = true
	}
}

// skipDependents transitively marks downstream nodes Errored with a
// DependencyFailed tag. They never reach Running.
func (r *run) skipDependents(id, root string) {
	logger := ctxlog.FromContext(r.ctx)
	dependents, _ := r.e.graph.Dependents(id)
	for _, dep := range dependents {
		st := r.e.states[dep]
		if st.state.IsTerminal() {
			continue
		}
		logger.Warn("Skipping dependent node due to upstream failure.", "nodeID", dep, "dependency", root)
		r.e.mu.Lock()
		st.err = &DependencyFailedError{NodeID: dep, Dep: root}
		r.e.mu.Unlock()
		r.e.setState(dep, Errored)
		r.terminal++
		r.skipDependents(dep, root)
	}
}

// cancelNode halts a node that never became dispatchable.
func (r *run) cancelNode(id string) {
	st := r.e.states[id]
	if st.state.IsTerminal() {
		return
	}
	r.e.mu.Lock()
	st.err = &CancelledError{NodeID: id}
	r.e.mu.Unlock()
	r.e.setState(id, Errored)
	r.terminal++
}

// cancelRemaining halts every node that is neither terminal nor Running.
// Running nodes finish their evaluation and are handled on drain.
func (r *run) cancelRemaining() {
	for _, id := range r.e.graph.TopoOrder() {
		st := r.e.states[id]
		if st.state.IsTerminal() || st.state == Running {
			continue
		}
		r.cancelNode(id)
	}
}

func (r *run) buildReport() *Report {
	report := &Report{
		Ran:      r.ranOrder,
		UpToDate: r.upToDate,
		Failed:   r.failed,
	}
	for _, id := range r.e.graph.TopoOrder() {
		st := r.e.states[id]
		if st.state != Errored {
			continue
		}
		switch st.err.(type) {
		case *DependencyFailedError:
			report.Skipped = append(report.Skipped, id)
		case *CancelledError:
			report.Cancelled = append(report.Cancelled, id)
		}
	}
	sort.Strings(report.Skipped)
	sort.Strings(report.Cancelled)
	return report
}

// setState transitions a node, stamping start time on entry to Running.
func (e *Executor) setState(id string, s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.states[id]
	st.state = s
	if s == Running {
		st.started = time.Now()
	}
}

func (e *Executor) stateOf(id string) State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if st, ok := e.states[id]; ok {
		return st.state
	}
	return Pending
}

// Status returns the observable snapshot of one node.
func (e *Executor) Status(id string) (Status, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[id]
	if !ok {
		return Status{}, false
	}
	elapsed := st.elapsed
	if st.state == Running {
		elapsed = time.Since(st.started)
	}
	return Status{ID: id, State: st.state, Started: st.started, Elapsed: elapsed, Err: st.err}, true
}

// Statuses returns snapshots for every node in topological order.
func (e *Executor) Statuses() []Status {
	var out []Status
	for _, id := range e.graph.TopoOrder() {
		if s, ok := e.Status(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// Value returns a Done node's materialized value.
func (e *Executor) Value(id string) (cty.Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[id]
	if !ok || !st.hasValue {
		return cty.NilVal, false
	}
	return st.value, true
}

// BranchesOf returns a dynamic target's branch nodes in ordinal order,
// empty before expansion.
func (e *Executor) BranchesOf(owner string) []*graph.Node {
	return e.graph.Branches(owner)
}

// BranchByOrdinal resolves a branch by its owning target and position.
func (e *Executor) BranchByOrdinal(owner string, ordinal int) (*graph.Node, bool) {
	for _, b := range e.graph.Branches(owner) {
		if b.Ordinal == ordinal {
			return b, true
		}
	}
	return nil, false
}

// BranchByID resolves a branch by its deterministic synthesized identifier.
// Both addressing forms resolve to the same node.
func (e *Executor) BranchByID(id string) (*graph.Node, bool) {
	n, ok := e.graph.Node(id)
	if !ok || n.Kind != graph.BranchNode {
		return nil, false
	}
	return n, true
}
