package graph

import (
	"container/heap"
	"fmt"
)

// idHeap is a min-heap of node IDs, used to break topological ties
// lexicographically so the derived order is identical across runs.
type idHeap []string

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x interface{}) { *h = append(*h, x.(string)) }
func (h *idHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// recomputeOrder derives the deterministic topological order of the current
// node set (Kahn's algorithm, smallest ready ID first).
func (g *Graph) recomputeOrder() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.recomputeOrderLocked()
}

func (g *Graph) recomputeOrderLocked() error {
	pending := make(map[string]int, len(g.nodes))
	ready := &idHeap{}
	heap.Init(ready)

	for id, n := range g.nodes {
		pending[id] = len(n.Deps)
		if len(n.Deps) == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for _, depID := range sortedNodeIDs(g.nodes[id].Dependents) {
			pending[depID]--
			if pending[depID] == 0 {
				heap.Push(ready, depID)
			}
		}
	}

	if len(order) != len(g.nodes) {
		// Unreachable after detectCycles, unless Splice introduced a cycle.
		return fmt.Errorf("topological sort left %d nodes unordered", len(g.nodes)-len(order))
	}

	g.order = order
	return nil
}
