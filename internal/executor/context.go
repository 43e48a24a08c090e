package executor

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/loomworks/loom/internal/analyze"
	"github.com/loomworks/loom/internal/graph"
)

// stdFunctions is the fixed set of functions available to commands.
var stdFunctions = map[string]function.Function{
	"abs":        stdlib.AbsoluteFunc,
	"ceil":       stdlib.CeilFunc,
	"chunklist":  stdlib.ChunklistFunc,
	"coalesce":   stdlib.CoalesceFunc,
	"compact":    stdlib.CompactFunc,
	"concat":     stdlib.ConcatFunc,
	"contains":   stdlib.ContainsFunc,
	"csvdecode":  stdlib.CSVDecodeFunc,
	"distinct":   stdlib.DistinctFunc,
	"element":    stdlib.ElementFunc,
	"flatten":    stdlib.FlattenFunc,
	"floor":      stdlib.FloorFunc,
	"format":     stdlib.FormatFunc,
	"jsondecode": stdlib.JSONDecodeFunc,
	"jsonencode": stdlib.JSONEncodeFunc,
	"join":       stdlib.JoinFunc,
	"keys":       stdlib.KeysFunc,
	"length":     stdlib.LengthFunc,
	"lower":      stdlib.LowerFunc,
	"max":        stdlib.MaxFunc,
	"merge":      stdlib.MergeFunc,
	"min":        stdlib.MinFunc,
	"range":      stdlib.RangeFunc,
	"reverse":    stdlib.ReverseListFunc,
	"sort":       stdlib.SortFunc,
	"split":      stdlib.SplitFunc,
	"upper":      stdlib.UpperFunc,
	"values":     stdlib.ValuesFunc,
	"zipmap":     stdlib.ZipmapFunc,
}

// buildEvalContext resolves the variable scope for a node's command.
//
// Every declared target the command references is bound to that target's
// combined value. For a branch, the owning pattern's input names are then
// rebound to the branch's slice values, which is what instantiates the
// shared command for one slice of the partition.
func (e *Executor) buildEvalContext(n *graph.Node) *hcl.EvalContext {
	vars := make(map[string]cty.Value)

	for _, name := range analyze.Candidates(n.Target.Command) {
		dep, ok := e.graph.Node(name)
		if !ok || dep.Kind != graph.TargetNode {
			continue
		}
		if st := e.states[name]; st != nil && st.hasValue {
			vars[name] = st.value
		}
	}

	if n.Kind == graph.BranchNode {
		for name, v := range e.states[n.ID].sliceVals {
			vars[name] = v
		}
	}

	return &hcl.EvalContext{
		Variables: vars,
		Functions: stdFunctions,
	}
}
