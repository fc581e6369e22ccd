package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specq-dev/specq/internal/dag"
	"github.com/specq-dev/specq/internal/model"
)

func writeChange(t *testing.T, root, id, proposal string) {
	t.Helper()
	dir := filepath.Join(root, "changes", id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "proposal.md"), []byte(proposal), 0o644))
}

func execute(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Execute(context.Background(), append([]string{"-C", root}, args...), &out)
	return out.String(), err
}

func TestInitCreatesLayout(t *testing.T) {
	root := t.TempDir()
	out, err := execute(t, root, "init")
	require.NoError(t, err)

	assert.Contains(t, out, "Wrote")
	assert.FileExists(t, filepath.Join(root, ".specq", "config.hcl"))
	assert.DirExists(t, filepath.Join(root, "changes"))
	assert.FileExists(t, filepath.Join(root, "changes", "000-example", "proposal.md"))
	assert.FileExists(t, filepath.Join(root, "changes", "000-example", "tasks.md"))

	ignored, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(ignored), ".specq/state.db")
	assert.Contains(t, string(ignored), ".specq/local.config.hcl")

	// Re-running init never clobbers an existing config.
	out, err = execute(t, root, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already present")
}

func TestScanListsChanges(t *testing.T) {
	root := t.TempDir()
	writeChange(t, root, "add-auth", "---\nrisk: high\n---\n# Add authentication\n")
	writeChange(t, root, "add-cache", "---\ndepends_on: [add-auth]\n---\n# Add caching\n")

	out, err := execute(t, root, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "add-auth")
	assert.Contains(t, out, "high")
	assert.Contains(t, out, "Add caching")
}

func TestPlanShowsDependencyOrder(t *testing.T) {
	root := t.TempDir()
	writeChange(t, root, "b", "---\ndepends_on: [a]\n---\n# B\n")
	writeChange(t, root, "a", "# A\n")

	out, err := execute(t, root, "plan")
	require.NoError(t, err)
	assert.Contains(t, out, "1. a")
	assert.Contains(t, out, "2. b")
}

func TestDepsDetectsCycle(t *testing.T) {
	root := t.TempDir()
	writeChange(t, root, "a", "---\ndepends_on: [b]\n---\n# A\n")
	writeChange(t, root, "b", "---\ndepends_on: [a]\n---\n# B\n")

	_, err := execute(t, root, "deps")
	require.Error(t, err)
	var cycle *dag.CycleError
	assert.ErrorAs(t, err, &cycle)
}

func TestSkipThenStatus(t *testing.T) {
	root := t.TempDir()
	writeChange(t, root, "add-auth", "# Add authentication\n")

	out, err := execute(t, root, "skip", "add-auth")
	require.NoError(t, err)
	assert.Contains(t, out, string(model.StatusSkipped))

	out, err = execute(t, root, "status", "add-auth")
	require.NoError(t, err)
	assert.Contains(t, out, "skipped")
}

func TestAcceptRequiresNeedsReview(t *testing.T) {
	root := t.TempDir()
	writeChange(t, root, "add-auth", "# Add authentication\n")

	_, err := execute(t, root, "accept", "add-auth")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Contains(t, exitErr.Message, "illegal transition")
}

func TestStatusUnknownChange(t *testing.T) {
	root := t.TempDir()
	_, err := execute(t, root, "status", "nope")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
}

func TestRunRequiresTargetOrAll(t *testing.T) {
	root := t.TempDir()
	_, err := execute(t, root, "run")
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestConfigShowsDefaults(t *testing.T) {
	root := t.TempDir()
	out, err := execute(t, root, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "claude_code/claude-sonnet-4-5")
	assert.Contains(t, out, "unanimous")
}
