package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/testutil"
)

func writeTestPipeline(t *testing.T) (pipelinePath, storePath string) {
	t.Helper()
	dir := t.TempDir()
	pipelinePath = filepath.Join(dir, "main.hcl")
	storePath = filepath.Join(dir, "store")
	src := `
		target "x" { command = 2 }
		target "y" { command = x + 1 }
	`
	require.NoError(t, os.WriteFile(pipelinePath, []byte(src), 0o644))
	return pipelinePath, storePath
}

func TestExecuteRun(t *testing.T) {
	pipelinePath, storePath := writeTestPipeline(t)
	out := &testutil.SafeBuffer{}

	code := Execute(context.Background(), []string{"run", pipelinePath, "--store", storePath}, out)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "ran: 2")

	t.Run("second invocation is incremental", func(t *testing.T) {
		out := &testutil.SafeBuffer{}
		code := Execute(context.Background(), []string{"run", pipelinePath, "--store", storePath}, out)
		assert.Equal(t, 0, code)
		assert.Contains(t, out.String(), "ran: 0")
		assert.Contains(t, out.String(), "up-to-date: 2")
	})
}

func TestExecutePlan(t *testing.T) {
	pipelinePath, storePath := writeTestPipeline(t)
	out := &testutil.SafeBuffer{}

	code := Execute(context.Background(), []string{"plan", pipelinePath, "--store", storePath}, out)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "run   x (no record)")
	assert.Contains(t, out.String(), "run   y (dependency stale)")
}

func TestExecuteClean(t *testing.T) {
	pipelinePath, storePath := writeTestPipeline(t)
	out := &testutil.SafeBuffer{}
	require.Equal(t, 0, Execute(context.Background(), []string{"run", pipelinePath, "--store", storePath}, out))

	code := Execute(context.Background(), []string{"clean", "--store", storePath}, &testutil.SafeBuffer{})
	assert.Equal(t, 0, code)

	// After a clean, everything runs again.
	out = &testutil.SafeBuffer{}
	require.Equal(t, 0, Execute(context.Background(), []string{"run", pipelinePath, "--store", storePath}, out))
	assert.Contains(t, out.String(), "ran: 2")
}

func TestExecuteErrors(t *testing.T) {
	t.Run("missing pipeline path", func(t *testing.T) {
		code := Execute(context.Background(), []string{"run"}, &testutil.SafeBuffer{})
		assert.Equal(t, 2, code)
	})

	t.Run("failing pipeline sets a nonzero exit code", func(t *testing.T) {
		dir := t.TempDir()
		pipelinePath := filepath.Join(dir, "main.hcl")
		require.NoError(t, os.WriteFile(pipelinePath, []byte(`target "bad" { command = element([1], 5) }`), 0o644))

		out := &testutil.SafeBuffer{}
		code := Execute(context.Background(), []string{"run", pipelinePath, "--store", filepath.Join(dir, "store")}, out)
		assert.Equal(t, 1, code)
		assert.Contains(t, out.String(), "failed")
	})
}
