package graph

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/internal/analyze"
	"github.com/loomworks/loom/internal/ctxlog"
	"github.com/loomworks/loom/internal/pattern"
	"github.com/loomworks/loom/internal/pipeline"
)

// Build constructs a complete, validated static graph from a pipeline
// declaration.
func Build(ctx context.Context, p *pipeline.Pipeline) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: Starting graph construction.")
	g := &Graph{nodes: make(map[string]*Node)}

	// First pass: create a node per declared target.
	if err := createNodes(p, g); err != nil {
		return nil, err
	}
	logger.Debug("Build: Node creation complete.", "node_count", len(g.nodes))

	// Second pass: link dependency edges from command references and
	// declared pattern inputs.
	if err := linkNodes(ctx, g); err != nil {
		return nil, err
	}
	logger.Debug("Build: Node linking complete.")

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	logger.Debug("Build: Cycle detection passed.")

	if err := g.recomputeOrder(); err != nil {
		return nil, err
	}
	logger.Debug("Build: Graph construction successful.", "order", g.order)
	return g, nil
}

// createNodes performs the first pass, parsing each dynamic target's
// pattern along the way so malformed combinators fail at build time.
func createNodes(p *pipeline.Pipeline, g *Graph) error {
	for _, t := range p.Targets {
		n := &Node{
			ID:         t.Name,
			Kind:       TargetNode,
			Target:     t,
			Ordinal:    -1,
			Deps:       make(map[string]*Node),
			Dependents: make(map[string]*Node),
		}
		if t.IsDynamic() {
			parsed, err := pattern.Parse(t.Pattern)
			if err != nil {
				return fmt.Errorf("invalid pattern on target %q: %w", t.Name, err)
			}
			n.Pattern = parsed
		}
		g.nodes[n.ID] = n
	}
	return nil
}

// linkNodes performs the second pass, establishing dependency edges.
//
// Command references are a candidate set intersected with the universe of
// declared targets; names that resolve to nothing are left for command
// evaluation to reject. Pattern inputs are stricter: a pattern cannot
// partition a name that is not a declared target.
func linkNodes(ctx context.Context, g *Graph) error {
	logger := ctxlog.FromContext(ctx)
	for _, n := range g.nodes {
		for _, candidate := range analyze.Candidates(n.Target.Command) {
			dep, ok := g.nodes[candidate]
			if !ok {
				continue
			}
			if dep.ID == n.ID {
				return &CycleError{Sequence: []string{n.ID, n.ID}}
			}
			linkEdge(dep, n)
			logger.Debug("Linking command dependency.", "from", n.ID, "to", dep.ID)
		}

		if n.Pattern == nil {
			continue
		}
		for _, input := range pattern.Inputs(n.Pattern) {
			dep, ok := g.nodes[input]
			if !ok {
				return fmt.Errorf("pattern on target %q references undeclared target %q", n.ID, input)
			}
			if dep.ID == n.ID {
				return &CycleError{Sequence: []string{n.ID, n.ID}}
			}
			// Coarse edge; refined to per-branch edges after expansion.
			linkEdge(dep, n)
			logger.Debug("Linking pattern input.", "from", n.ID, "to", dep.ID)
		}
	}
	return nil
}

func linkEdge(producer, consumer *Node) {
	consumer.Deps[producer.ID] = producer
	producer.Dependents[consumer.ID] = consumer
}
