// Package agg partitions target values into slices and recombines branch
// results, according to the target's iteration mode.
//
// The mode set is closed (vector, list, group), so both operations dispatch
// with exhaustive switches over pipeline.Mode.
package agg

import (
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/loomworks/loom/internal/pipeline"
)

// AggregationError reports slices whose shapes cannot be combined under the
// requested mode.
type AggregationError struct {
	Mode   pipeline.Mode
	Detail string
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("cannot combine %s-mode slices: %s", e.Mode, e.Detail)
}

// Partition splits a value into its ordered slices.
//
// vector and list require a sequence (list, set, or tuple); each element is
// one slice. group requires an object or map; each entry is one slice,
// ordered by key, and the slice keeps its key attached as a single-entry
// object so that Combine can rebuild the grouping.
func Partition(v cty.Value, mode pipeline.Mode) ([]cty.Value, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, &AggregationError{Mode: mode, Detail: "value is null or unknown"}
	}

	switch mode {
	case pipeline.ModeVector, pipeline.ModeList:
		ty := v.Type()
		if !ty.IsListType() && !ty.IsSetType() && !ty.IsTupleType() {
			return nil, &AggregationError{
				Mode:   mode,
				Detail: fmt.Sprintf("value of type %s is not a sequence", ty.FriendlyName()),
			}
		}
		var slices []cty.Value
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			slices = append(slices, elem)
		}
		return slices, nil

	case pipeline.ModeGroup:
		ty := v.Type()
		if !ty.IsObjectType() && !ty.IsMapType() {
			return nil, &AggregationError{
				Mode:   mode,
				Detail: fmt.Sprintf("value of type %s carries no group keys", ty.FriendlyName()),
			}
		}
		keyed := make(map[string]cty.Value)
		var keys []string
		for it := v.ElementIterator(); it.Next(); {
			k, elem := it.Element()
			keyed[k.AsString()] = elem
			keys = append(keys, k.AsString())
		}
		sort.Strings(keys)
		slices := make([]cty.Value, len(keys))
		for i, k := range keys {
			slices[i] = cty.ObjectVal(map[string]cty.Value{k: keyed[k]})
		}
		return slices, nil

	default:
		return nil, fmt.Errorf("unhandled iteration mode %s", mode)
	}
}

// Combine materializes the whole-target view from ordered branch results.
//
// vector concatenates: a branch result that is itself a sequence
// contributes its elements, a scalar contributes itself, and all
// contributed elements must unify to one type. list collects results into
// a tuple as-is. group merges the single-entry objects produced by group
// partitioning back into one object.
func Combine(slices []cty.Value, mode pipeline.Mode) (cty.Value, error) {
	switch mode {
	case pipeline.ModeVector:
		return combineVector(slices)

	case pipeline.ModeList:
		if len(slices) == 0 {
			return cty.EmptyTupleVal, nil
		}
		return cty.TupleVal(slices), nil

	case pipeline.ModeGroup:
		return combineGroup(slices)

	default:
		return cty.NilVal, fmt.Errorf("unhandled iteration mode %s", mode)
	}
}

func combineVector(slices []cty.Value) (cty.Value, error) {
	var elems []cty.Value
	for _, s := range slices {
		if s.IsNull() || !s.IsKnown() {
			return cty.NilVal, &AggregationError{Mode: pipeline.ModeVector, Detail: "branch produced a null or unknown value"}
		}
		ty := s.Type()
		if ty.IsListType() || ty.IsSetType() || ty.IsTupleType() {
			for it := s.ElementIterator(); it.Next(); {
				_, elem := it.Element()
				elems = append(elems, elem)
			}
		} else {
			elems = append(elems, s)
		}
	}
	if len(elems) == 0 {
		return cty.ListValEmpty(cty.DynamicPseudoType), nil
	}

	types := make([]cty.Type, len(elems))
	for i, e := range elems {
		types[i] = e.Type()
	}
	unified, convs := convert.Unify(types)
	if unified == cty.NilType {
		return cty.NilVal, &AggregationError{
			Mode:   pipeline.ModeVector,
			Detail: fmt.Sprintf("element types %s are incompatible", describeTypes(types)),
		}
	}
	out := make([]cty.Value, len(elems))
	for i, e := range elems {
		if convs[i] != nil {
			converted, err := convs[i](e)
			if err != nil {
				return cty.NilVal, &AggregationError{Mode: pipeline.ModeVector, Detail: err.Error()}
			}
			out[i] = converted
		} else {
			out[i] = e
		}
	}
	return cty.ListVal(out), nil
}

func combineGroup(slices []cty.Value) (cty.Value, error) {
	merged := make(map[string]cty.Value)
	for _, s := range slices {
		ty := s.Type()
		if !ty.IsObjectType() && !ty.IsMapType() {
			return cty.NilVal, &AggregationError{
				Mode:   pipeline.ModeGroup,
				Detail: fmt.Sprintf("branch result of type %s carries no group key", ty.FriendlyName()),
			}
		}
		for it := s.ElementIterator(); it.Next(); {
			k, elem := it.Element()
			key := k.AsString()
			if _, exists := merged[key]; exists {
				return cty.NilVal, &AggregationError{
					Mode:   pipeline.ModeGroup,
					Detail: fmt.Sprintf("duplicate group key %q", key),
				}
			}
			merged[key] = elem
		}
	}
	if len(merged) == 0 {
		return cty.EmptyObjectVal, nil
	}
	return cty.ObjectVal(merged), nil
}

func describeTypes(types []cty.Type) string {
	names := make(map[string]struct{})
	var out string
	for _, t := range types {
		name := t.FriendlyName()
		if _, ok := names[name]; ok {
			continue
		}
		names[name] = struct{}{}
		if out != "" {
			out += ", "
		}
		out += name
	}
	return out
}
