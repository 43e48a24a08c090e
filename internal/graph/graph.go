// Package graph builds and maintains the dependency graph: declared targets
// as static nodes, plus branch nodes spliced in at execution time by the
// pattern expander.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/loomworks/loom/internal/pattern"
	"github.com/loomworks/loom/internal/pipeline"
)

// Kind distinguishes declared targets from runtime-synthesized branches.
type Kind int

const (
	TargetNode Kind = iota
	BranchNode
)

// Node is a single vertex in the graph.
type Node struct {
	// ID is the target name, or the deterministic branch identifier.
	ID string
	// Kind is TargetNode or BranchNode.
	Kind Kind
	// Target is the declaration this node executes. For a branch it is the
	// owning target's declaration; the command is shared, only the eval
	// scope differs.
	Target *pipeline.Target
	// Pattern is the parsed branching expression, set on dynamic targets.
	Pattern pattern.Expr
	// Owner is the owning target's ID, set on branches.
	Owner string
	// Ordinal is the branch's position in the expansion, -1 for targets.
	Ordinal int
	// Slices are the input slices the branch's command is instantiated
	// with, set on branches.
	Slices []pattern.SliceRef

	// Deps holds the nodes this node depends on (producers).
	Deps map[string]*Node
	// Dependents holds the nodes that depend on this node (consumers).
	Dependents map[string]*Node
}

// IsDynamic reports whether the node is a dynamic target awaiting
// expansion into branches.
func (n *Node) IsDynamic() bool {
	return n.Kind == TargetNode && n.Pattern != nil
}

// Graph is a collection of nodes and their dependency edges. All operations
// are concurrency-safe; the executor's coordinator is the only writer after
// construction.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	// order is the deterministic topological order of the current node
	// set, recomputed whenever the graph changes.
	order []string
}

// Node returns the node with the given ID, if present.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the current node count.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// TopoOrder returns the node IDs in deterministic topological order:
// producers before consumers, ties broken lexicographically.
func (g *Graph) TopoOrder() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Dependencies returns the sorted IDs of the nodes the given node depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedNodeIDs(n.Deps), nil
}

// Dependents returns the sorted IDs of the nodes that depend on the given node.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedNodeIDs(n.Dependents), nil
}

// Branches returns a dynamic target's branch nodes ordered by ordinal.
// Before expansion the result is empty.
func (g *Graph) Branches(ownerID string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var branches []*Node
	for _, n := range g.nodes {
		if n.Kind == BranchNode && n.Owner == ownerID {
			branches = append(branches, n)
		}
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Ordinal < branches[j].Ordinal })
	return branches
}

// Splice inserts a dynamic target's branch nodes, refining the coarse
// target-to-input edges into per-branch edges: the owner now depends on
// each branch, and each branch depends on the concrete producers of its
// input slices (the matching branch of a dynamic input, or the whole input
// target otherwise). The topological order is re-derived.
func (g *Graph) Splice(ownerID string, branches []*Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	owner, ok := g.nodes[ownerID]
	if !ok {
		return fmt.Errorf("node not found: %s", ownerID)
	}
	if !owner.IsDynamic() {
		return fmt.Errorf("node %s is not a dynamic target", ownerID)
	}

	for _, b := range branches {
		if _, exists := g.nodes[b.ID]; exists {
			return fmt.Errorf("branch %s already spliced", b.ID)
		}
		b.Deps = make(map[string]*Node)
		b.Dependents = make(map[string]*Node)
		g.nodes[b.ID] = b

		owner.Deps[b.ID] = b
		b.Dependents[ownerID] = owner

		for _, slice := range b.Slices {
			producer := g.sliceProducerLocked(slice)
			if producer == nil {
				return fmt.Errorf("branch %s references unknown input %s", b.ID, slice)
			}
			if producer.ID == b.ID {
				continue
			}
			b.Deps[producer.ID] = producer
			producer.Dependents[b.ID] = b
		}
	}

	return g.recomputeOrderLocked()
}

// sliceProducerLocked resolves the node that produces one input slice.
func (g *Graph) sliceProducerLocked(slice pattern.SliceRef) *Node {
	input, ok := g.nodes[slice.Target]
	if !ok {
		return nil
	}
	if input.IsDynamic() {
		for _, n := range g.nodes {
			if n.Kind == BranchNode && n.Owner == input.ID && n.Ordinal == slice.Index {
				return n
			}
		}
	}
	return input
}

func sortedNodeIDs(m map[string]*Node) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
