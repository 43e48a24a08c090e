package agg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/loomworks/loom/internal/pipeline"
)

func TestPartitionVector(t *testing.T) {
	t.Run("splits a list element-wise", func(t *testing.T) {
		v := cty.ListVal([]cty.Value{cty.NumberIntVal(1), cty.NumberIntVal(2), cty.NumberIntVal(3)})
		slices, err := Partition(v, pipeline.ModeVector)
		require.NoError(t, err)
		require.Len(t, slices, 3)
		assert.Equal(t, cty.NumberIntVal(2), slices[1])
	})

	t.Run("splits a heterogeneous tuple", func(t *testing.T) {
		v := cty.TupleVal([]cty.Value{cty.NumberIntVal(1), cty.StringVal("two")})
		slices, err := Partition(v, pipeline.ModeVector)
		require.NoError(t, err)
		require.Len(t, slices, 2)
		assert.Equal(t, cty.StringVal("two"), slices[1])
	})

	t.Run("rejects a scalar", func(t *testing.T) {
		_, err := Partition(cty.NumberIntVal(7), pipeline.ModeVector)
		var aggErr *AggregationError
		require.ErrorAs(t, err, &aggErr)
		assert.Equal(t, pipeline.ModeVector, aggErr.Mode)
	})

	t.Run("rejects null", func(t *testing.T) {
		_, err := Partition(cty.NullVal(cty.List(cty.Number)), pipeline.ModeVector)
		require.Error(t, err)
	})
}

func TestPartitionGroup(t *testing.T) {
	t.Run("one slice per key, ordered by key, key attached", func(t *testing.T) {
		v := cty.ObjectVal(map[string]cty.Value{
			"west": cty.NumberIntVal(2),
			"east": cty.NumberIntVal(1),
		})
		slices, err := Partition(v, pipeline.ModeGroup)
		require.NoError(t, err)
		require.Len(t, slices, 2)
		assert.Equal(t, cty.ObjectVal(map[string]cty.Value{"east": cty.NumberIntVal(1)}), slices[0])
		assert.Equal(t, cty.ObjectVal(map[string]cty.Value{"west": cty.NumberIntVal(2)}), slices[1])
	})

	t.Run("rejects a sequence", func(t *testing.T) {
		_, err := Partition(cty.ListVal([]cty.Value{cty.NumberIntVal(1)}), pipeline.ModeGroup)
		require.Error(t, err)
	})
}

func TestCombineVector(t *testing.T) {
	t.Run("scalar results concatenate in order", func(t *testing.T) {
		out, err := Combine([]cty.Value{cty.NumberIntVal(10), cty.NumberIntVal(20)}, pipeline.ModeVector)
		require.NoError(t, err)
		assert.Equal(t, cty.ListVal([]cty.Value{cty.NumberIntVal(10), cty.NumberIntVal(20)}), out)
	})

	t.Run("sequence results are flattened one level", func(t *testing.T) {
		out, err := Combine([]cty.Value{
			cty.ListVal([]cty.Value{cty.NumberIntVal(1), cty.NumberIntVal(2)}),
			cty.NumberIntVal(3),
		}, pipeline.ModeVector)
		require.NoError(t, err)
		assert.Equal(t, cty.ListVal([]cty.Value{
			cty.NumberIntVal(1), cty.NumberIntVal(2), cty.NumberIntVal(3),
		}), out)
	})

	t.Run("ununifiable element types fail with context", func(t *testing.T) {
		_, err := Combine([]cty.Value{
			cty.ListVal([]cty.Value{cty.NumberIntVal(1)}),
			cty.ObjectVal(map[string]cty.Value{"k": cty.True}),
		}, pipeline.ModeVector)
		var aggErr *AggregationError
		require.ErrorAs(t, err, &aggErr)
	})

	t.Run("empty result set combines to an empty list", func(t *testing.T) {
		out, err := Combine(nil, pipeline.ModeVector)
		require.NoError(t, err)
		assert.Equal(t, 0, out.LengthInt())
	})

	t.Run("partition then combine restores the value", func(t *testing.T) {
		v := cty.ListVal([]cty.Value{cty.StringVal("a"), cty.StringVal("b")})
		slices, err := Partition(v, pipeline.ModeVector)
		require.NoError(t, err)
		out, err := Combine(slices, pipeline.ModeVector)
		require.NoError(t, err)
		assert.True(t, v.RawEquals(out))
	})
}

func TestCombineList(t *testing.T) {
	t.Run("heterogeneous results are preserved as-is", func(t *testing.T) {
		out, err := Combine([]cty.Value{
			cty.StringVal("x"),
			cty.ListVal([]cty.Value{cty.NumberIntVal(1)}),
		}, pipeline.ModeList)
		require.NoError(t, err)
		require.True(t, out.Type().IsTupleType())
		assert.Equal(t, cty.StringVal("x"), out.Index(cty.NumberIntVal(0)))
	})

	t.Run("empty combines to an empty tuple", func(t *testing.T) {
		out, err := Combine(nil, pipeline.ModeList)
		require.NoError(t, err)
		assert.Equal(t, cty.EmptyTupleVal, out)
	})
}

func TestCombineGroup(t *testing.T) {
	t.Run("merges keyed results back into one object", func(t *testing.T) {
		out, err := Combine([]cty.Value{
			cty.ObjectVal(map[string]cty.Value{"east": cty.NumberIntVal(1)}),
			cty.ObjectVal(map[string]cty.Value{"west": cty.NumberIntVal(2)}),
		}, pipeline.ModeGroup)
		require.NoError(t, err)
		assert.Equal(t, cty.ObjectVal(map[string]cty.Value{
			"east": cty.NumberIntVal(1),
			"west": cty.NumberIntVal(2),
		}), out)
	})

	t.Run("duplicate keys are rejected", func(t *testing.T) {
		_, err := Combine([]cty.Value{
			cty.ObjectVal(map[string]cty.Value{"k": cty.NumberIntVal(1)}),
			cty.ObjectVal(map[string]cty.Value{"k": cty.NumberIntVal(2)}),
		}, pipeline.ModeGroup)
		var aggErr *AggregationError
		require.ErrorAs(t, err, &aggErr)
		assert.Contains(t, aggErr.Detail, "duplicate group key")
	})

	t.Run("unkeyed branch result is rejected", func(t *testing.T) {
		_, err := Combine([]cty.Value{cty.NumberIntVal(5)}, pipeline.ModeGroup)
		require.Error(t, err)
	})

	t.Run("partition then combine restores the grouping", func(t *testing.T) {
		v := cty.ObjectVal(map[string]cty.Value{
			"a": cty.NumberIntVal(1),
			"b": cty.NumberIntVal(2),
		})
		slices, err := Partition(v, pipeline.ModeGroup)
		require.NoError(t, err)
		out, err := Combine(slices, pipeline.ModeGroup)
		require.NoError(t, err)
		assert.True(t, v.RawEquals(out))
	})
}
