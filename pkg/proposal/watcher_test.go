package proposal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWatcherMissingFileIsEmpty(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "proposals.json"))
	changed, table, err := w.Tick()
	require.NoError(t, err)
	require.True(t, changed)
	require.Empty(t, table)

	changed, _, err = w.Tick()
	require.NoError(t, err)
	require.False(t, changed, "unchanged missing file should not re-report a change")
}

func TestWatcherReparsesOnHashChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proposals.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))

	w := NewWatcher(path)
	changed, table, err := w.Tick()
	require.NoError(t, err)
	require.True(t, changed)
	require.Empty(t, table)

	changed, _, err = w.Tick()
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, os.WriteFile(path, []byte(sampleProposals), 0o644))
	changed, table, err = w.Tick()
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, table, 1)
}
