// Package analyze extracts candidate dependency names from declaration
// expressions.
//
// The output is a candidate set only: it contains every root name the
// expression references, and the graph builder is responsible for
// intersecting it with the universe of declared targets. Names bound inside
// the expression's own scope (for-expression iterator variables) never
// appear, and function names are not references.
package analyze

import (
	"sort"

	"github.com/hashicorp/hcl/v2"
)

// Candidates returns the sorted set of root names referenced by an
// expression. It is a pure function of the expression.
func Candidates(expr hcl.Expression) []string {
	if expr == nil {
		return nil
	}

	seen := make(map[string]struct{})
	// hcl's Variables walk already descends into template interpolations,
	// conditionals, for expressions, and function call arguments, and it
	// excludes names bound by child scopes. That covers the quoted and
	// formula-like forms a plain call walk would miss.
	for _, traversal := range expr.Variables() {
		seen[traversal.RootName()] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Filter intersects a candidate set with a universe of known names,
// preserving candidate order.
func Filter(candidates []string, universe map[string]struct{}) []string {
	var out []string
	for _, name := range candidates {
		if _, ok := universe[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
