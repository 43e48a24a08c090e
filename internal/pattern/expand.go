package pattern

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// SliceRef identifies one slice of an upstream target's partition.
type SliceRef struct {
	Target string
	Index  int
}

func (r SliceRef) String() string {
	return fmt.Sprintf("%s[%d]", r.Target, r.Index)
}

// BranchSpec describes one synthesized branch of a dynamic target: its
// ordinal position and the input slices its command is instantiated with.
type BranchSpec struct {
	Ordinal int
	Slices  []SliceRef
}

// ArityError reports mismatched branch counts among the inputs of map().
type ArityError struct {
	Pattern string
	Counts  []int
}

func (e *ArityError) Error() string {
	counts := make([]string, len(e.Counts))
	for i, n := range e.Counts {
		counts[i] = fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("pattern arity mismatch in %s: inputs expand to %s branches, map() requires equal counts",
		e.Pattern, strings.Join(counts, ", "))
}

// IndexRangeError reports a slice() index outside its input's partition.
type IndexRangeError struct {
	Pattern string
	Index   int
	Size    int
}

func (e *IndexRangeError) Error() string {
	return fmt.Sprintf("index %d out of range in %s: input has %d slices", e.Index, e.Pattern, e.Size)
}

// Expand resolves a pattern against the known branch counts of its inputs
// and returns the ordered branch specifications. Every input named by the
// pattern must be present in sizes; expansion is therefore only possible
// once all inputs are up to date. The seed drives sample() selection.
func Expand(e Expr, sizes map[string]int, seed int64) ([]BranchSpec, error) {
	rows, err := expand(e, sizes, seed)
	if err != nil {
		return nil, err
	}
	specs := make([]BranchSpec, len(rows))
	for i, slices := range rows {
		specs[i] = BranchSpec{Ordinal: i, Slices: slices}
	}
	return specs, nil
}

// expand recurses bottom-up: each combinator expands its arguments first,
// then transforms the resulting branch rows.
func expand(e Expr, sizes map[string]int, seed int64) ([][]SliceRef, error) {
	switch v := e.(type) {
	case Ref:
		n, ok := sizes[v.Target]
		if !ok {
			return nil, fmt.Errorf("pattern input %q has no resolved branch count", v.Target)
		}
		rows := make([][]SliceRef, n)
		for i := 0; i < n; i++ {
			rows[i] = []SliceRef{{Target: v.Target, Index: i}}
		}
		return rows, nil

	case Map:
		argRows := make([][][]SliceRef, len(v.Args))
		counts := make([]int, len(v.Args))
		for i, arg := range v.Args {
			rows, err := expand(arg, sizes, seed)
			if err != nil {
				return nil, err
			}
			argRows[i] = rows
			counts[i] = len(rows)
		}
		for _, n := range counts {
			if n != counts[0] {
				return nil, &ArityError{Pattern: v.String(), Counts: counts}
			}
		}
		rows := make([][]SliceRef, counts[0])
		for i := range rows {
			var merged []SliceRef
			for _, arg := range argRows {
				merged = append(merged, arg[i]...)
			}
			rows[i] = merged
		}
		return rows, nil

	case Cross:
		rows := [][]SliceRef{nil}
		for _, arg := range v.Args {
			argRows, err := expand(arg, sizes, seed)
			if err != nil {
				return nil, err
			}
			var next [][]SliceRef
			for _, row := range rows {
				for _, argRow := range argRows {
					merged := make([]SliceRef, 0, len(row)+len(argRow))
					merged = append(merged, row...)
					merged = append(merged, argRow...)
					next = append(next, merged)
				}
			}
			rows = next
		}
		return rows, nil

	case Slice:
		rows, err := expand(v.Arg, sizes, seed)
		if err != nil {
			return nil, err
		}
		out := make([][]SliceRef, 0, len(v.Indices))
		for _, idx := range v.Indices {
			if idx < 0 || idx >= len(rows) {
				return nil, &IndexRangeError{Pattern: v.String(), Index: idx, Size: len(rows)}
			}
			out = append(out, rows[idx])
		}
		return out, nil

	case Head:
		rows, err := expand(v.Arg, sizes, seed)
		if err != nil {
			return nil, err
		}
		n := v.N
		if n > len(rows) {
			n = len(rows)
		}
		return rows[:n], nil

	case Tail:
		rows, err := expand(v.Arg, sizes, seed)
		if err != nil {
			return nil, err
		}
		n := v.N
		if n > len(rows) {
			n = len(rows)
		}
		return rows[len(rows)-n:], nil

	case Sample:
		rows, err := expand(v.Arg, sizes, seed)
		if err != nil {
			return nil, err
		}
		n := v.N
		if n > len(rows) {
			n = len(rows)
		}
		rng := rand.New(rand.NewSource(seed))
		picked := rng.Perm(len(rows))[:n]
		// Selected slices keep their upstream order so branch ordinals stay
		// meaningful regardless of the draw.
		sort.Ints(picked)
		out := make([][]SliceRef, 0, n)
		for _, idx := range picked {
			out = append(out, rows[idx])
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unhandled pattern expression %T", e)
	}
}
