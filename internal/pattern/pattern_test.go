package pattern

import (
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsePattern(t *testing.T, src string) Expr {
	t.Helper()
	expr, diags := hclsyntax.ParseExpression([]byte(src), "test.hcl", hcl.InitialPos)
	require.False(t, diags.HasErrors(), "parse %q: %v", src, diags)
	parsed, err := Parse(expr)
	require.NoError(t, err)
	return parsed
}

func TestParse(t *testing.T) {
	t.Run("bare target name", func(t *testing.T) {
		p := parsePattern(t, "users")
		assert.Equal(t, Ref{Target: "users"}, p)
	})

	t.Run("map of two inputs", func(t *testing.T) {
		p := parsePattern(t, "map(a, b)")
		require.IsType(t, Map{}, p)
		assert.Equal(t, "map(a, b)", p.String())
	})

	t.Run("nested combinators", func(t *testing.T) {
		p := parsePattern(t, "cross(head(a, 2), sample(b, 3))")
		assert.Equal(t, "cross(head(a, 2), sample(b, 3))", p.String())
	})

	t.Run("slice with literal indices", func(t *testing.T) {
		p := parsePattern(t, "slice(a, [0, 2])")
		s, ok := p.(Slice)
		require.True(t, ok)
		assert.Equal(t, []int{0, 2}, s.Indices)
	})

	t.Run("unknown combinator is rejected", func(t *testing.T) {
		expr, diags := hclsyntax.ParseExpression([]byte("shuffle(a)"), "test.hcl", hcl.InitialPos)
		require.False(t, diags.HasErrors())
		_, err := Parse(expr)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown pattern combinator")
	})

	t.Run("non-literal count is rejected", func(t *testing.T) {
		expr, diags := hclsyntax.ParseExpression([]byte("head(a, n)"), "test.hcl", hcl.InitialPos)
		require.False(t, diags.HasErrors())
		_, err := Parse(expr)
		require.Error(t, err)
	})

	t.Run("negative count is rejected", func(t *testing.T) {
		expr, diags := hclsyntax.ParseExpression([]byte("tail(a, -1)"), "test.hcl", hcl.InitialPos)
		require.False(t, diags.HasErrors())
		_, err := Parse(expr)
		require.Error(t, err)
	})
}

func TestInputs(t *testing.T) {
	p := parsePattern(t, "cross(map(b, a), head(b, 1))")
	assert.Equal(t, []string{"a", "b"}, Inputs(p))
}

func TestExpand(t *testing.T) {
	t.Run("ref expands one branch per slice", func(t *testing.T) {
		specs, err := Expand(Ref{Target: "a"}, map[string]int{"a": 3}, 0)
		require.NoError(t, err)
		require.Len(t, specs, 3)
		assert.Equal(t, 0, specs[0].Ordinal)
		assert.Equal(t, []SliceRef{{Target: "a", Index: 2}}, specs[2].Slices)
	})

	t.Run("map zips equal-count inputs", func(t *testing.T) {
		p := parsePattern(t, "map(a, b)")
		specs, err := Expand(p, map[string]int{"a": 2, "b": 2}, 0)
		require.NoError(t, err)
		require.Len(t, specs, 2)
		assert.Equal(t, []SliceRef{{Target: "a", Index: 1}, {Target: "b", Index: 1}}, specs[1].Slices)
	})

	t.Run("map rejects mismatched counts", func(t *testing.T) {
		p := parsePattern(t, "map(a, b)")
		_, err := Expand(p, map[string]int{"a": 2, "b": 3}, 0)
		var arityErr *ArityError
		require.ErrorAs(t, err, &arityErr)
		assert.Equal(t, []int{2, 3}, arityErr.Counts)
	})

	t.Run("cross is row-major in declared order", func(t *testing.T) {
		p := parsePattern(t, "cross(a, b)")
		specs, err := Expand(p, map[string]int{"a": 2, "b": 2}, 0)
		require.NoError(t, err)
		require.Len(t, specs, 4)
		// a varies slowest.
		assert.Equal(t, []SliceRef{{Target: "a", Index: 0}, {Target: "b", Index: 0}}, specs[0].Slices)
		assert.Equal(t, []SliceRef{{Target: "a", Index: 0}, {Target: "b", Index: 1}}, specs[1].Slices)
		assert.Equal(t, []SliceRef{{Target: "a", Index: 1}, {Target: "b", Index: 0}}, specs[2].Slices)
		assert.Equal(t, []SliceRef{{Target: "a", Index: 1}, {Target: "b", Index: 1}}, specs[3].Slices)
	})

	t.Run("slice selects in index order and checks bounds", func(t *testing.T) {
		p := parsePattern(t, "slice(a, [2, 0])")
		specs, err := Expand(p, map[string]int{"a": 3}, 0)
		require.NoError(t, err)
		require.Len(t, specs, 2)
		assert.Equal(t, []SliceRef{{Target: "a", Index: 2}}, specs[0].Slices)

		_, err = Expand(p, map[string]int{"a": 2}, 0)
		var rangeErr *IndexRangeError
		require.ErrorAs(t, err, &rangeErr)
		assert.Equal(t, 2, rangeErr.Index)
		assert.Equal(t, 2, rangeErr.Size)
	})

	t.Run("head and tail clamp to available slices", func(t *testing.T) {
		head := parsePattern(t, "head(a, 10)")
		specs, err := Expand(head, map[string]int{"a": 3}, 0)
		require.NoError(t, err)
		assert.Len(t, specs, 3)

		tail := parsePattern(t, "tail(a, 2)")
		specs, err = Expand(tail, map[string]int{"a": 5}, 0)
		require.NoError(t, err)
		require.Len(t, specs, 2)
		assert.Equal(t, []SliceRef{{Target: "a", Index: 3}}, specs[0].Slices)
	})

	t.Run("sample is deterministic per seed and keeps upstream order", func(t *testing.T) {
		p := parsePattern(t, "sample(a, 3)")
		first, err := Expand(p, map[string]int{"a": 10}, 42)
		require.NoError(t, err)
		second, err := Expand(p, map[string]int{"a": 10}, 42)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		for i := 1; i < len(first); i++ {
			assert.Less(t, first[i-1].Slices[0].Index, first[i].Slices[0].Index)
		}

		other, err := Expand(p, map[string]int{"a": 10}, 43)
		require.NoError(t, err)
		assert.NotEqual(t, first, other, "different seeds should usually draw different subsets")
	})

	t.Run("unresolved input is an error", func(t *testing.T) {
		_, err := Expand(Ref{Target: "missing"}, map[string]int{}, 0)
		require.Error(t, err)
	})
}

func TestBranchID(t *testing.T) {
	slices := []SliceRef{{Target: "a", Index: 0}, {Target: "b", Index: 4}}

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, BranchID("x", slices), BranchID("x", slices))
	})

	t.Run("prefixed with owner", func(t *testing.T) {
		assert.Regexp(t, `^x@[0-9a-f]{16}$`, BranchID("x", slices))
	})

	t.Run("sensitive to owner, slice target, and index", func(t *testing.T) {
		base := BranchID("x", slices)
		assert.NotEqual(t, base, BranchID("y", slices))
		assert.NotEqual(t, base, BranchID("x", []SliceRef{{Target: "a", Index: 0}, {Target: "b", Index: 5}}))
		assert.NotEqual(t, base, BranchID("x", []SliceRef{{Target: "a", Index: 0}, {Target: "c", Index: 4}}))
	})

	t.Run("order matters", func(t *testing.T) {
		reversed := []SliceRef{slices[1], slices[0]}
		assert.NotEqual(t, BranchID("x", slices), BranchID("x", reversed))
	})
}
