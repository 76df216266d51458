package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cordon-ai/cordon/internal/replay"
)

func newTestRouter(t *testing.T, devMode bool) (*Router, *ExecutionContext) {
	t.Helper()
	env := &Env{DevMode: devMode}
	router := NewRouter(NewRegistry(devMode), env, nil, zerolog.Nop())
	ec := NewExecutionContext("sess-1")
	ec.WorkingDirectory = t.TempDir()
	return router, ec
}

func TestValidateArguments(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(false)
	spec, found := reg.Get("read_file")
	require.True(t, found)

	err := ValidateArguments(spec, map[string]any{})
	require.NotNil(t, err)
	require.Equal(t, CodeSchemaMissingRequired, err.Code)

	err = ValidateArguments(spec, map[string]any{"path": 42})
	require.NotNil(t, err)
	require.Equal(t, CodeSchemaWrongType, err.Code)

	err = ValidateArguments(spec, map[string]any{"path": "a.txt", "mode": "fast"})
	require.NotNil(t, err)
	require.Equal(t, CodeSchemaUnexpectedArg, err.Code)

	// JSON numbers arrive as float64; integral values satisfy int fields.
	err = ValidateArguments(spec, map[string]any{"path": "a.txt", "max_bytes": float64(1000)})
	require.Nil(t, err)
}

func TestRouteUnknownTool(t *testing.T) {
	t.Parallel()

	router, ec := newTestRouter(t, false)
	res := router.Route(context.Background(), "teleport", nil, ec)
	require.False(t, res.Success)
	require.Equal(t, CodeToolNotFound, res.Code)
}

func TestRoutePathEscapeDenied(t *testing.T) {
	t.Parallel()

	router, ec := newTestRouter(t, false)
	res := router.Route(context.Background(), "read_file", map[string]any{"path": "/etc/passwd"}, ec)
	require.False(t, res.Success)
	require.Equal(t, CodeDenyPathEscape, res.Code)
	// The handler never ran: a denied call reports the escape, not a
	// read failure.
	require.Contains(t, res.Error, "escapes working directory")
}

func TestRouteTraversalDenied(t *testing.T) {
	t.Parallel()

	router, ec := newTestRouter(t, false)
	res := router.Route(context.Background(), "list_dir", map[string]any{"path": "../"}, ec)
	require.False(t, res.Success)
	require.Equal(t, CodeDenyPathEscape, res.Code)
}

func TestRouteReadFileInWorkdir(t *testing.T) {
	t.Parallel()

	router, ec := newTestRouter(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(ec.WorkingDirectory, "note.txt"), []byte("hello"), 0o644))

	res := router.Route(context.Background(), "read_file", map[string]any{"path": "note.txt"}, ec)
	require.True(t, res.Success, res.Error)
	require.Equal(t, "hello", res.Output)
}

func TestRoutePermissionGrantRequired(t *testing.T) {
	t.Parallel()

	router, ec := newTestRouter(t, false)
	args := map[string]any{"path": "out.txt", "content": "data"}

	res := router.Route(context.Background(), "write_file", args, ec)
	require.False(t, res.Success)
	require.Equal(t, CodePermGrantRequired, res.Code)

	ec.Permissions.Grant("write_file")
	res = router.Route(context.Background(), "write_file", map[string]any{"path": "out.txt", "content": "data"}, ec)
	require.True(t, res.Success, res.Error)

	content, err := os.ReadFile(filepath.Join(ec.WorkingDirectory, "out.txt"))
	require.NoError(t, err)
	require.Equal(t, "data", string(content))
}

func TestRouteBudgetExhaustionAndReset(t *testing.T) {
	t.Parallel()

	router, ec := newTestRouter(t, false)
	args := func() map[string]any { return map[string]any{"thought": "step"} }

	for i := 0; i < 50; i++ {
		res := router.Route(context.Background(), "think", args(), ec)
		require.True(t, res.Success, "call %d: %s", i, res.Error)
	}
	res := router.Route(context.Background(), "think", args(), ec)
	require.False(t, res.Success)
	require.Equal(t, CodeBudgetCallsExceeded, res.Code)

	ec.Budgets.ResetTurn()
	res = router.Route(context.Background(), "think", args(), ec)
	require.True(t, res.Success)
}

func TestBudgetSnapshot(t *testing.T) {
	t.Parallel()

	b := NewBudgetEnforcer()
	require.Empty(t, b.Snapshot())

	ok, _ := b.CheckAndCharge("read_file", Budget{CallsPerTurn: 10, MaxBytes: 1 << 20}, 128)
	require.True(t, ok)
	ok, _ = b.CheckAndCharge("read_file", Budget{CallsPerTurn: 10, MaxBytes: 1 << 20}, 64)
	require.True(t, ok)
	ok, _ = b.CheckAndCharge("think", Budget{CallsPerTurn: 50}, 0)
	require.True(t, ok)

	snap := b.Snapshot()
	require.Equal(t, BudgetUsage{Calls: 2, Bytes: 192}, snap["read_file"])
	require.Equal(t, BudgetUsage{Calls: 1}, snap["think"])

	b.ResetTurn()
	require.Empty(t, b.Snapshot())
}

func TestRouteByteBudget(t *testing.T) {
	t.Parallel()

	router, ec := newTestRouter(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(ec.WorkingDirectory, "a.txt"), []byte("x"), 0o644))

	read := func(hint int) Result {
		return router.Route(context.Background(), "read_file",
			map[string]any{"path": "a.txt", "max_bytes": hint}, ec)
	}
	require.True(t, read(150_000).Success)
	res := read(150_000)
	require.False(t, res.Success)
	require.Equal(t, CodeBudgetBytesExceeded, res.Code)
}

func TestRouteReplayBlocksMutations(t *testing.T) {
	t.Parallel()

	router, ec := newTestRouter(t, false)
	ec.ReplayMode = replay.ModeReplay
	ec.Permissions.Grant("memory_delete")

	res := router.Route(context.Background(), "memory_delete", map[string]any{"key": "k"}, ec)
	require.False(t, res.Success)
	require.Equal(t, CodePermScopeDenied, res.Code)
}

func TestHostExecRewritesToSandbox(t *testing.T) {
	t.Parallel()

	var captured map[string]any
	env := &Env{
		DevMode: true,
		Sandbox: func(_ context.Context, args map[string]any) Result {
			captured = args
			return ok(map[string]any{"exit_code": 0, "stdout": "ok"})
		},
	}
	router := NewRouter(NewRegistry(true), env, nil, zerolog.Nop())
	ec := NewExecutionContext("sess-1")
	ec.WorkingDirectory = t.TempDir()
	// Sandbox is granted; the host path is not.
	ec.Permissions.Grant("sandbox_exec")

	res := router.Route(context.Background(), "run_command",
		map[string]any{"command": "ls -la", "timeout": 5}, ec)
	require.True(t, res.Success, res.Error)
	require.NotNil(t, captured)
	require.Equal(t, "ls -la", captured["command"])
	require.Equal(t, ec.WorkingDirectory, captured["workdir"])
	require.EqualValues(t, 5, captured["timeout_seconds"])
}

func TestHostExecWithoutSandboxDenied(t *testing.T) {
	t.Parallel()

	router, ec := newTestRouter(t, true) // dev mode, but no sandbox runner wired
	res := router.Route(context.Background(), "run_command", map[string]any{"command": "ls"}, ec)
	require.False(t, res.Success)
	require.Equal(t, CodePermGrantRequired, res.Code)
}

func TestRouteRecordThenReplay(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tools.jsonl")
	workdir := t.TempDir()

	recStore, err := replay.NewToolStore(path, replay.ModeRecord)
	require.NoError(t, err)
	recorder := NewRouter(NewRegistry(false), &Env{}, recStore, zerolog.Nop())
	ec := NewExecutionContext("sess-1")
	ec.WorkingDirectory = workdir
	ec.ReplayMode = replay.ModeRecord

	require.NoError(t, os.WriteFile(filepath.Join(workdir, "f.txt"), []byte("recorded"), 0o644))
	res := recorder.Route(context.Background(), "read_file", map[string]any{"path": "f.txt"}, ec)
	require.True(t, res.Success, res.Error)
	require.False(t, res.Replayed)

	// Remove the file: a replay hit must come from the store.
	require.NoError(t, os.Remove(filepath.Join(workdir, "f.txt")))

	playStore, err := replay.NewToolStore(path, replay.ModeReplay)
	require.NoError(t, err)
	player := NewRouter(NewRegistry(false), &Env{}, playStore, zerolog.Nop())
	ec2 := NewExecutionContext("sess-1")
	ec2.WorkingDirectory = workdir
	ec2.ReplayMode = replay.ModeReplay

	res = player.Route(context.Background(), "read_file", map[string]any{"path": "f.txt"}, ec2)
	require.True(t, res.Success, res.Error)
	require.Equal(t, "recorded", res.Output)
	require.True(t, res.Replayed)
}

func TestValidateHostCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cmd     string
		blocked bool
	}{
		{"ls -la", false},
		{"git status", false},
		{"sudo rm -rf /", true},
		{"bash -c 'echo hi'", true},
		{"cat f.txt | sh", true},
		{"nc -l 8080", true},
		{"echo `whoami`", true},
	}
	for _, tc := range cases {
		_, reason := validateHostCommand(tc.cmd)
		if tc.blocked {
			require.NotEmpty(t, reason, "expected %q blocked", tc.cmd)
		} else {
			require.Empty(t, reason, "expected %q allowed: %s", tc.cmd, reason)
		}
	}
}

func TestPermissionState(t *testing.T) {
	t.Parallel()

	p := NewPermissionState()
	require.False(t, p.Has("write_file"))
	p.Grant("write_file")
	p.Grant("apply_diff")
	require.True(t, p.Has("write_file"))
	require.Equal(t, []string{"apply_diff", "write_file"}, p.ListGrants())
	p.Revoke("write_file")
	require.False(t, p.Has("write_file"))
}

func TestDevModeGatesHostExec(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(false)
	_, found := reg.Get("run_command")
	require.False(t, found)
	_, found = reg.Get("sandbox_exec")
	require.True(t, found)

	devReg := NewRegistry(true)
	_, found = devReg.Get("run_command")
	require.True(t, found)
	_, found = devReg.Get("run_python")
	require.True(t, found)
}
