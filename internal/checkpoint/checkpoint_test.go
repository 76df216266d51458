package checkpoint

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func TestEnsureRepoAndCommit(t *testing.T) {
	t.Parallel()
	requireGit(t)

	ctx := context.Background()
	wd := t.TempDir()

	require.NoError(t, EnsureRepo(ctx, wd))
	require.True(t, Available(ctx, wd))
	// Idempotent.
	require.NoError(t, EnsureRepo(ctx, wd))

	require.NoError(t, os.WriteFile(filepath.Join(wd, "x.txt"), []byte("A"), 0o644))
	hash, err := Commit(ctx, wd, "step-1")
	require.NoError(t, err)
	require.Len(t, hash, 40)

	// Empty commits are allowed so every checkpoint has a hash.
	again, err := Commit(ctx, wd, "step-2")
	require.NoError(t, err)
	require.NotEqual(t, hash, again)
	require.Equal(t, again, CurrentCommit(ctx, wd))
}

func TestResetHardRestoresTree(t *testing.T) {
	t.Parallel()
	requireGit(t)

	ctx := context.Background()
	wd := t.TempDir()
	require.NoError(t, EnsureRepo(ctx, wd))

	require.NoError(t, os.WriteFile(filepath.Join(wd, "x.txt"), []byte("A"), 0o644))
	mark, err := Commit(ctx, wd, "before")
	require.NoError(t, err)

	// Mutate tracked state and add an untracked file.
	require.NoError(t, os.WriteFile(filepath.Join(wd, "x.txt"), []byte("B"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(wd, "y.txt"), []byte("junk"), 0o644))

	require.NoError(t, ResetHard(ctx, wd, mark))

	content, err := os.ReadFile(filepath.Join(wd, "x.txt"))
	require.NoError(t, err)
	require.Equal(t, "A", string(content))
	_, err = os.Stat(filepath.Join(wd, "y.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestSQLiteSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	wd := t.TempDir()
	db := filepath.Join(wd, "state.db")
	require.NoError(t, os.WriteFile(db, []byte("v1"), 0o644))

	targets := []SQLiteTarget{{Name: "state", Path: "state.db"}}

	created, err := SnapshotSQLite(wd, targets, "cp1")
	require.NoError(t, err)
	require.Len(t, created, 1)

	require.NoError(t, os.WriteFile(db, []byte("v2-corrupted"), 0o644))
	require.NoError(t, RestoreSQLite(wd, targets, "cp1"))

	content, err := os.ReadFile(db)
	require.NoError(t, err)
	require.Equal(t, "v1", string(content))

	// Missing databases are skipped on both sides.
	missing := []SQLiteTarget{{Name: "ghost", Path: "ghost.db"}}
	created, err = SnapshotSQLite(wd, missing, "cp2")
	require.NoError(t, err)
	require.Empty(t, created)
	require.NoError(t, RestoreSQLite(wd, missing, "cp2"))
}

func TestCleanupSnapshotsKeepsNewest(t *testing.T) {
	t.Parallel()

	wd := t.TempDir()
	db := filepath.Join(wd, "state.db")
	require.NoError(t, os.WriteFile(db, []byte("v"), 0o644))
	targets := []SQLiteTarget{{Name: "state", Path: "state.db"}}

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := SnapshotSQLite(wd, targets, id)
		require.NoError(t, err)
	}
	CleanupSnapshots(wd, targets, 2)

	entries, err := os.ReadDir(wd)
	require.NoError(t, err)
	snaps := 0
	for _, e := range entries {
		if len(e.Name()) > len("state.db") && e.Name() != "state.db" {
			snaps++
		}
	}
	require.Equal(t, 2, snaps)
}
