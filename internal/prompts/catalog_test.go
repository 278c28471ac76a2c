package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmbeddedCatalog(t *testing.T) {
	r, err := NewRegistry("", zap.NewNop())
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC) }

	assert.Equal(t, "embedded", r.Source())
	for _, role := range Roles {
		text, err := r.System(role)
		require.NoError(t, err, role)
		assert.NotEmpty(t, text)
	}

	planner, err := r.System(RolePlanner)
	require.NoError(t, err)
	assert.Contains(t, planner, "Today's date is 2025-03-04.")
	assert.Contains(t, planner, "Generate exactly 3 subtopics")
	assert.Contains(t, planner, `"research_tasks"`)

	_, err = r.System("editor")
	assert.Error(t, err)
}

func writeCatalog(t *testing.T, path, planner string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("version: test\nroles:\n")
	for _, role := range Roles {
		text := "instructions for " + string(role)
		if role == RolePlanner {
			text = planner
		}
		b.WriteString("  " + string(role) + ":\n    instructions: \"" + text + "\"\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func TestFileOverrideAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	writeCatalog(t, path, "plan v1")

	r, err := NewRegistry(path, nil)
	require.NoError(t, err)
	got, err := r.System(RolePlanner)
	require.NoError(t, err)
	assert.Equal(t, "plan v1", got)
	first := r.Hash()

	writeCatalog(t, path, "plan v2 on {{.Date}}")
	require.NoError(t, r.Reload())
	got, err = r.System(RolePlanner)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "plan v2 on "))
	assert.NotEqual(t, first, r.Hash())

	// A broken file keeps the last good catalog.
	require.NoError(t, os.WriteFile(path, []byte("roles: ["), 0o644))
	assert.Error(t, r.Reload())
	got, err = r.System(RolePlanner)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "plan v2 on "))
}

func TestDecodeRejectsIncompleteCatalog(t *testing.T) {
	_, err := Decode(strings.NewReader("version: x\nroles:\n  planner:\n    instructions: hi\n"))
	assert.ErrorContains(t, err, `role "search" has no instructions`)

	_, err = Decode(strings.NewReader("version: x\nunknown_field: 1\n"))
	assert.Error(t, err)
}

func TestSetPathKeepsOldSourceOnError(t *testing.T) {
	r, err := NewRegistry("", nil)
	require.NoError(t, err)
	assert.Error(t, r.SetPath(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Equal(t, "embedded", r.Source())
	require.NoError(t, r.Reload())
}
