package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/pattern"
	"github.com/loomworks/loom/internal/pipeline"
)

func buildFromHCL(t *testing.T, src string) (*Graph, error) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.hcl"), []byte(src), 0o644))
	p, err := pipeline.Load(context.Background(), dir, pipeline.Defaults{Iterate: pipeline.ModeVector, Format: "json"})
	require.NoError(t, err)
	return Build(context.Background(), p)
}

func mustBuild(t *testing.T, src string) *Graph {
	t.Helper()
	g, err := buildFromHCL(t, src)
	require.NoError(t, err)
	return g
}

func TestBuild(t *testing.T) {
	t.Run("command references become edges", func(t *testing.T) {
		g := mustBuild(t, `
			target "a" { command = [1, 2] }
			target "b" { command = length(a) }
		`)
		deps, err := g.Dependencies("b")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, deps)

		dependents, err := g.Dependents("a")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, dependents)
	})

	t.Run("unknown command references are not edges", func(t *testing.T) {
		// Left for command evaluation to reject; the name may be a
		// function-like construct the analyzer over-approximates.
		g := mustBuild(t, `
			target "a" { command = phantom + 1 }
		`)
		deps, err := g.Dependencies("a")
		require.NoError(t, err)
		assert.Empty(t, deps)
	})

	t.Run("pattern inputs are strict", func(t *testing.T) {
		_, err := buildFromHCL(t, `
			target "d" {
				command = x * 2
				pattern = map(x)
			}
		`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `undeclared target "x"`)
	})

	t.Run("malformed pattern fails at build time", func(t *testing.T) {
		_, err := buildFromHCL(t, `
			target "a" { command = [1] }
			target "d" {
				command = a
				pattern = shuffle(a)
			}
		`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown pattern combinator")
	})

	t.Run("dynamic node carries its parsed pattern", func(t *testing.T) {
		g := mustBuild(t, `
			target "a" { command = [1] }
			target "d" {
				command = a
				pattern = head(a, 1)
			}
		`)
		n, ok := g.Node("d")
		require.True(t, ok)
		require.True(t, n.IsDynamic())
		assert.Equal(t, "head(a, 1)", n.Pattern.String())
	})
}

func TestCycleDetection(t *testing.T) {
	t.Run("self reference", func(t *testing.T) {
		_, err := buildFromHCL(t, `
			target "a" { command = a + 1 }
		`)
		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
	})

	t.Run("two node cycle names the sequence", func(t *testing.T) {
		_, err := buildFromHCL(t, `
			target "a" { command = b }
			target "b" { command = a }
		`)
		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
		assert.Contains(t, cycleErr.Error(), "a -> b -> a")
	})

	t.Run("longer cycle", func(t *testing.T) {
		_, err := buildFromHCL(t, `
			target "a" { command = c }
			target "b" { command = a }
			target "c" { command = b }
		`)
		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
	})
}

func TestTopoOrder(t *testing.T) {
	t.Run("producers precede consumers, ties lexicographic", func(t *testing.T) {
		g := mustBuild(t, `
			target "z" { command = 1 }
			target "m" { command = z }
			target "a" { command = z }
		`)
		assert.Equal(t, []string{"z", "a", "m"}, g.TopoOrder())
	})

	t.Run("order is identical across rebuilds", func(t *testing.T) {
		src := `
			target "c" { command = 1 }
			target "b" { command = c }
			target "a" { command = c + b }
		`
		first := mustBuild(t, src).TopoOrder()
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, mustBuild(t, src).TopoOrder())
		}
	})
}

func TestSplice(t *testing.T) {
	src := `
		target "xs" { command = [10, 20] }
		target "doubled" {
			command = xs * 2
			pattern = map(xs)
		}
		target "sum" { command = length(doubled) }
	`

	newBranch := func(g *Graph, ordinal int) *Node {
		owner, _ := g.Node("doubled")
		slices := []pattern.SliceRef{{Target: "xs", Index: ordinal}}
		return &Node{
			ID:      pattern.BranchID("doubled", slices),
			Kind:    BranchNode,
			Target:  owner.Target,
			Owner:   "doubled",
			Ordinal: ordinal,
			Slices:  slices,
		}
	}

	t.Run("owner depends on branches, branches on slice producers", func(t *testing.T) {
		g := mustBuild(t, src)
		branches := []*Node{newBranch(g, 0), newBranch(g, 1)}
		require.NoError(t, g.Splice("doubled", branches))

		deps, err := g.Dependencies("doubled")
		require.NoError(t, err)
		assert.Len(t, deps, 3) // xs plus both branches

		bDeps, err := g.Dependencies(branches[0].ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"xs"}, bDeps)
	})

	t.Run("branches are ordered by ordinal", func(t *testing.T) {
		g := mustBuild(t, src)
		require.NoError(t, g.Splice("doubled", []*Node{newBranch(g, 1), newBranch(g, 0)}))
		got := g.Branches("doubled")
		require.Len(t, got, 2)
		assert.Equal(t, 0, got[0].Ordinal)
		assert.Equal(t, 1, got[1].Ordinal)
	})

	t.Run("topological order covers spliced nodes", func(t *testing.T) {
		g := mustBuild(t, src)
		branches := []*Node{newBranch(g, 0), newBranch(g, 1)}
		require.NoError(t, g.Splice("doubled", branches))

		order := g.TopoOrder()
		require.Len(t, order, 5)
		position := make(map[string]int, len(order))
		for i, id := range order {
			position[id] = i
		}
		assert.Less(t, position["xs"], position[branches[0].ID])
		assert.Less(t, position[branches[0].ID], position["doubled"])
		assert.Less(t, position["doubled"], position["sum"])
	})

	t.Run("splicing a static target is rejected", func(t *testing.T) {
		g := mustBuild(t, src)
		err := g.Splice("xs", nil)
		require.Error(t, err)
	})
}
