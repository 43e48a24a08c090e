package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFileStoreJSON(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("round trip preserves value and type", func(t *testing.T) {
		v := cty.ObjectVal(map[string]cty.Value{
			"name":  cty.StringVal("loom"),
			"count": cty.NumberIntVal(3),
			"tags":  cty.ListVal([]cty.Value{cty.StringVal("a"), cty.StringVal("b")}),
		})
		location, err := s.Save(ctx, "node", v, "json")
		require.NoError(t, err)

		got, err := s.Load(ctx, location, "json")
		require.NoError(t, err)
		assert.True(t, v.RawEquals(got))
	})

	t.Run("tuple survives as a tuple", func(t *testing.T) {
		v := cty.TupleVal([]cty.Value{cty.NumberIntVal(1), cty.StringVal("x")})
		location, err := s.Save(ctx, "tup", v, "json")
		require.NoError(t, err)
		got, err := s.Load(ctx, location, "json")
		require.NoError(t, err)
		assert.True(t, v.RawEquals(got))
	})

	t.Run("exists reflects the object lifecycle", func(t *testing.T) {
		location, err := s.Save(ctx, "gone", cty.True, "json")
		require.NoError(t, err)
		ok, err := s.Exists(ctx, location)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, os.Remove(location))
		ok, err = s.Exists(ctx, location)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestFileStoreText(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("string round trip", func(t *testing.T) {
		location, err := s.Save(ctx, "note", cty.StringVal("hello\nworld"), "text")
		require.NoError(t, err)
		got, err := s.Load(ctx, location, "text")
		require.NoError(t, err)
		assert.Equal(t, cty.StringVal("hello\nworld"), got)
	})

	t.Run("non-string value is rejected", func(t *testing.T) {
		_, err := s.Save(ctx, "bad", cty.NumberIntVal(1), "text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "text format requires a string")
	})
}

func TestFileStoreUnknownFormat(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(context.Background(), "x", cty.True, "yaml")
	require.Error(t, err)
}
