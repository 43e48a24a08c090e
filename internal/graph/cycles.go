package graph

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError is a fatal construction error reporting the offending node
// sequence.
type CycleError struct {
	Sequence []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Sequence, " -> "))
}

// detectCycles checks for circular dependencies using depth-first search
// with the classic three node sets: fully visited, on the current recursion
// stack, and unvisited. Nodes are visited in sorted order so the reported
// sequence is deterministic.
func (g *Graph) detectCycles() error {
	visited := make(map[string]bool)
	visiting := make(map[string]bool)

	var stack []string
	var visit func(n *Node) error
	visit = func(n *Node) error {
		if visited[n.ID] {
			return nil
		}
		if visiting[n.ID] {
			// Trim the stack to the cycle entry point and close the loop.
			start := 0
			for i, id := range stack {
				if id == n.ID {
					start = i
					break
				}
			}
			seq := append(append([]string{}, stack[start:]...), n.ID)
			return &CycleError{Sequence: seq}
		}

		visiting[n.ID] = true
		stack = append(stack, n.ID)

		for _, depID := range sortedNodeIDs(n.Deps) {
			if err := visit(n.Deps[depID]); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		delete(visiting, n.ID)
		visited[n.ID] = true
		return nil
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !visited[id] {
			if err := visit(g.nodes[id]); err != nil {
				return err
			}
		}
	}
	return nil
}
