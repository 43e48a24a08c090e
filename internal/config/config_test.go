package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("defaults are applied", func(t *testing.T) {
		opts, err := New(Options{PipelinePath: "p"})
		require.NoError(t, err)
		assert.Equal(t, ".loom", opts.StorePath)
		assert.Equal(t, 4, opts.Workers)
		assert.Equal(t, "vector", opts.DefaultIterate)
		assert.Equal(t, "json", opts.DefaultFormat)
		assert.Equal(t, "text", opts.LogFormat)
		assert.Equal(t, "info", opts.LogLevel)
	})

	t.Run("pipeline path is required", func(t *testing.T) {
		_, err := New(Options{})
		require.Error(t, err)
	})

	t.Run("invalid default iterate", func(t *testing.T) {
		_, err := New(Options{PipelinePath: "p", DefaultIterate: "matrix"})
		require.Error(t, err)
	})

	t.Run("invalid default format", func(t *testing.T) {
		_, err := New(Options{PipelinePath: "p", DefaultFormat: "yaml"})
		require.Error(t, err)
	})

	t.Run("explicit values survive validation", func(t *testing.T) {
		opts, err := New(Options{PipelinePath: "p", Workers: 16, Seed: 9, KeepGoing: true})
		require.NoError(t, err)
		assert.Equal(t, 16, opts.Workers)
		assert.Equal(t, int64(9), opts.Seed)
		assert.True(t, opts.KeepGoing)
	})
}
