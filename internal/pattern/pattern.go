// Package pattern implements the dynamic branching subsystem: a closed set
// of combinators declared over upstream targets, expanded at execution time
// into concrete branch specifications.
//
// The combinator set is fixed, so the expression tree is modeled as a
// closed sum type dispatched with exhaustive switches rather than open
// dynamic lookup.
package pattern

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// Expr is a pattern expression. The concrete variants are Ref, Map, Cross,
// Slice, Head, Tail, and Sample; no other implementations exist.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Ref names an upstream target whose partition supplies slices.
type Ref struct {
	Target string
}

// Map zips its inputs element-wise. All inputs must expand to the same
// branch count.
type Map struct {
	Args []Expr
}

// Cross produces the cartesian product of its inputs' slices, row-major in
// declared input order.
type Cross struct {
	Args []Expr
}

// Slice selects explicit indices from its input's expansion.
type Slice struct {
	Arg     Expr
	Indices []int
}

// Head selects the first N slices of its input's expansion, clamped.
type Head struct {
	Arg Expr
	N   int
}

// Tail selects the last N slices of its input's expansion, clamped.
type Tail struct {
	Arg Expr
	N   int
}

// Sample selects N distinct slices of its input's expansion uniformly,
// driven by the configured seed.
type Sample struct {
	Arg Expr
	N   int
}

func (Ref) isExpr()    {}
func (Map) isExpr()    {}
func (Cross) isExpr()  {}
func (Slice) isExpr()  {}
func (Head) isExpr()   {}
func (Tail) isExpr()   {}
func (Sample) isExpr() {}

func (e Ref) String() string { return e.Target }

func (e Map) String() string   { return renderCall("map", e.Args...) }
func (e Cross) String() string { return renderCall("cross", e.Args...) }

func (e Slice) String() string {
	idx := make([]string, len(e.Indices))
	for i, n := range e.Indices {
		idx[i] = strconv.Itoa(n)
	}
	return fmt.Sprintf("slice(%s, [%s])", e.Arg, strings.Join(idx, ", "))
}

func (e Head) String() string   { return fmt.Sprintf("head(%s, %d)", e.Arg, e.N) }
func (e Tail) String() string   { return fmt.Sprintf("tail(%s, %d)", e.Arg, e.N) }
func (e Sample) String() string { return fmt.Sprintf("sample(%s, %d)", e.Arg, e.N) }

func renderCall(name string, args ...Expr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}

// Inputs returns the sorted set of target names referenced anywhere in the
// pattern. These are the targets that must be resolved before expansion.
func Inputs(e Expr) []string {
	seen := make(map[string]struct{})
	collectInputs(e, seen)
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func collectInputs(e Expr, seen map[string]struct{}) {
	switch v := e.(type) {
	case Ref:
		seen[v.Target] = struct{}{}
	case Map:
		for _, a := range v.Args {
			collectInputs(a, seen)
		}
	case Cross:
		for _, a := range v.Args {
			collectInputs(a, seen)
		}
	case Slice:
		collectInputs(v.Arg, seen)
	case Head:
		collectInputs(v.Arg, seen)
	case Tail:
		collectInputs(v.Arg, seen)
	case Sample:
		collectInputs(v.Arg, seen)
	}
}

// Parse converts a declaration-surface pattern expression into its Expr
// tree. Patterns use function-call syntax over bare target names; any other
// construct is a declaration error.
func Parse(expr hcl.Expression) (Expr, error) {
	switch e := expr.(type) {
	case *hclsyntax.ScopeTraversalExpr:
		if len(e.Traversal) != 1 {
			return nil, fmt.Errorf("pattern input must be a bare target name at %s", e.Range().String())
		}
		return Ref{Target: e.Traversal.RootName()}, nil

	case *hclsyntax.FunctionCallExpr:
		return parseCall(e)

	default:
		return nil, fmt.Errorf("unsupported pattern expression at %s: expected a combinator call or target name", expr.Range().String())
	}
}

func parseCall(call *hclsyntax.FunctionCallExpr) (Expr, error) {
	switch call.Name {
	case "map", "cross":
		if len(call.Args) == 0 {
			return nil, fmt.Errorf("%s() requires at least one input at %s", call.Name, call.Range().String())
		}
		args := make([]Expr, len(call.Args))
		for i, argExpr := range call.Args {
			arg, err := Parse(argExpr)
			if err != nil {
				return nil, err
			}
			args[i] = arg
		}
		if call.Name == "map" {
			return Map{Args: args}, nil
		}
		return Cross{Args: args}, nil

	case "slice":
		if len(call.Args) != 2 {
			return nil, fmt.Errorf("slice() requires an input and an index list at %s", call.Range().String())
		}
		arg, err := Parse(call.Args[0])
		if err != nil {
			return nil, err
		}
		indices, err := literalIndices(call.Args[1])
		if err != nil {
			return nil, err
		}
		return Slice{Arg: arg, Indices: indices}, nil

	case "head", "tail", "sample":
		if len(call.Args) != 2 {
			return nil, fmt.Errorf("%s() requires an input and a count at %s", call.Name, call.Range().String())
		}
		arg, err := Parse(call.Args[0])
		if err != nil {
			return nil, err
		}
		n, err := literalInt(call.Args[1])
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("%s() count must not be negative at %s", call.Name, call.Range().String())
		}
		switch call.Name {
		case "head":
			return Head{Arg: arg, N: n}, nil
		case "tail":
			return Tail{Arg: arg, N: n}, nil
		default:
			return Sample{Arg: arg, N: n}, nil
		}

	default:
		return nil, fmt.Errorf("unknown pattern combinator %q at %s", call.Name, call.Range().String())
	}
}

// literalIndices evaluates an index-list argument, e.g. [1, 4].
func literalIndices(expr hclsyntax.Expression) ([]int, error) {
	if len(expr.Variables()) > 0 {
		return nil, fmt.Errorf("slice() indices must be literal at %s", expr.Range().String())
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid slice() indices at %s: %w", expr.Range().String(), diags)
	}
	if !val.Type().IsTupleType() && !val.Type().IsListType() {
		return nil, fmt.Errorf("slice() indices must be a list of numbers at %s", expr.Range().String())
	}
	var indices []int
	for it := val.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		n, err := intFromValue(elem)
		if err != nil {
			return nil, fmt.Errorf("invalid slice() index at %s: %w", expr.Range().String(), err)
		}
		indices = append(indices, n)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("slice() requires at least one index at %s", expr.Range().String())
	}
	return indices, nil
}

// literalInt evaluates a count argument, e.g. the 2 in head(a, 2).
func literalInt(expr hclsyntax.Expression) (int, error) {
	if len(expr.Variables()) > 0 {
		return 0, fmt.Errorf("combinator count must be literal at %s", expr.Range().String())
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return 0, fmt.Errorf("invalid combinator count at %s: %w", expr.Range().String(), diags)
	}
	return intFromValue(val)
}

func intFromValue(val cty.Value) (int, error) {
	if val.Type() != cty.Number {
		return 0, fmt.Errorf("expected a number, got %s", val.Type().FriendlyName())
	}
	bf := val.AsBigFloat()
	if !bf.IsInt() {
		return 0, fmt.Errorf("expected a whole number")
	}
	n, _ := bf.Int64()
	return int(n), nil
}
