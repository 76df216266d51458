package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cordon-ai/cordon/internal/agent"
	"github.com/cordon-ai/cordon/internal/db"
	"github.com/cordon-ai/cordon/internal/policy"
	"github.com/cordon-ai/cordon/internal/replay"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0o644))

	s, err := New(Config{
		Policy:           policy.Default(),
		WorkingDirectory: dir,
		MemoryDBPath:     filepath.Join(dir, "memory.db"),
		LedgerPath:       filepath.Join(dir, "ledger.jsonl"),
		Log:              zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionStepSlashCommand(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	res := s.Step(context.Background(), "/list_dir ./")
	require.Contains(t, res.Reply, "hello.txt")
	require.NotEmpty(t, res.LedgerTail)

	history := s.History()
	require.Len(t, history, 2)
	require.Equal(t, "user", history[0].Role)
	require.Equal(t, "assistant", history[1].Role)
}

func TestSessionStepWithDemoClient(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	res := s.Step(context.Background(), "what is the answer")
	require.Contains(t, res.Reply, "I understand you want to")
}

func TestSessionGrantRevokeLedgerEvents(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	s.GrantTool("write_file")
	s.RevokeTool("write_file")

	entries, err := s.Ledger().ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "info:permission_grant", entries[0].Decision)
	require.Equal(t, "info:permission_revoke", entries[1].Decision)
}

func TestSessionListTools(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	s.GrantTool("write_file")

	infos := s.ListTools()
	byName := map[string]ToolInfo{}
	for _, ti := range infos {
		byName[ti.Name] = ti
	}

	wf, ok := byName["write_file"]
	require.True(t, ok)
	require.True(t, wf.RequiresGrant)
	require.True(t, wf.Granted)

	rf, ok := byName["read_file"]
	require.True(t, ok)
	require.False(t, rf.RequiresGrant)

	_, hasHostExec := byName["run_command"]
	require.False(t, hasHostExec, "host exec is dev-mode only")
}

func TestSessionRunToolDirect(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	res := s.RunTool(context.Background(), "list_dir", map[string]any{"path": "./"})
	require.True(t, res.Success)
}

func TestSessionReset(t *testing.T) {
	t.Parallel()

	s := newTestSession(t)
	s.Step(context.Background(), "/list_dir ./")
	require.NotEmpty(t, s.History())

	s.Reset()
	require.Empty(t, s.History())
	require.Equal(t, 0, s.State()["step_count"])
}

func TestSessionSetReplayMode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0o644))
	s, err := New(Config{
		Policy:           policy.Default(),
		WorkingDirectory: dir,
		MemoryDBPath:     filepath.Join(dir, "memory.db"),
		LedgerPath:       filepath.Join(dir, "ledger.jsonl"),
		ReplayPath:       filepath.Join(dir, "replay.jsonl"),
		Log:              zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.Equal(t, replay.ModeOff, s.ReplayMode())
	require.Nil(t, s.ReplayStore())

	require.NoError(t, s.SetReplayMode(replay.ModeRecord))
	require.Equal(t, replay.ModeRecord, s.ReplayMode())
	require.NotNil(t, s.ReplayStore())

	live := s.Step(context.Background(), "/list_dir ./")
	require.Contains(t, live.Reply, "hello.txt")
	records, err := s.ReplayStore().Records()
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, s.SetReplayMode(replay.ModeReplay))
	replayed := s.Step(context.Background(), "/list_dir ./")
	require.Equal(t, live.Reply, replayed.Reply)
	require.Equal(t, 1, replayed.ActionsReplayed)

	// The mode changes themselves are ledger events.
	tail, err := s.Ledger().ReadTail(20)
	require.NoError(t, err)
	modeEvents := 0
	for _, e := range tail {
		if e.Decision == "info:replay_mode" {
			modeEvents++
		}
	}
	require.Equal(t, 2, modeEvents)

	require.Error(t, s.SetReplayMode(replay.Mode("bogus")))
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer sqlDB.Close()
	store := NewStore(sqlDB)
	ctx := context.Background()

	created, err := store.Create(ctx, "abc12345", "/work", "off", map[string]any{"user": "u1"})
	require.NoError(t, err)
	require.Equal(t, "abc12345", created.SessionID)

	require.NoError(t, store.AppendMessage(ctx, "abc12345", "user", "hello"))
	require.NoError(t, store.AppendMessage(ctx, "abc12345", "assistant", "hi"))

	got, err := store.Get(ctx, "abc12345")
	require.NoError(t, err)
	require.Equal(t, []agent.Turn{{Role: "user", Text: "hello"}, {Role: "assistant", Text: "hi"}}, got.ChatHistory)
	require.Equal(t, "/work", got.WorkingDirectory)
	require.Equal(t, "u1", got.Metadata["user"])

	list, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 2, list[0].MessageCount)

	deleted, err := store.Delete(ctx, "abc12345")
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = store.Get(ctx, "abc12345")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestStorePrune(t *testing.T) {
	t.Parallel()

	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer sqlDB.Close()
	store := NewStore(sqlDB)
	ctx := context.Background()

	for i, id := range []string{"old00001", "mid00002", "new00003"} {
		_, err := store.Create(ctx, id, "/work", "off", nil)
		require.NoError(t, err)
		// Spread updated_at so ordering is unambiguous.
		ts := time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
		_, err = sqlDB.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE session_id = ?", ts, id)
		require.NoError(t, err)
	}

	removed, err := store.Prune(ctx, 2, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	_, err = store.Get(ctx, "old00001")
	require.True(t, errors.Is(err, ErrNotFound))

	// Everything left is far older than one day.
	removed, err = store.Prune(ctx, 0, 1)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	list, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestStoreMissingSession(t *testing.T) {
	t.Parallel()

	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer sqlDB.Close()
	store := NewStore(sqlDB)

	err = store.AppendMessage(context.Background(), "nope", "user", "x")
	require.True(t, errors.Is(err, ErrNotFound))

	deleted, err := store.Delete(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, deleted)
}
