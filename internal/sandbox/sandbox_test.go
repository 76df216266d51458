package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cordon-ai/cordon/internal/tools"
)

func TestDefaultConfigIsLockedDown(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.True(t, cfg.NetworkDisabled)
	require.Equal(t, "/workspace", cfg.Workdir)
	require.NotEmpty(t, cfg.MemoryLimit)
}

func TestToolHandlerMapsArguments(t *testing.T) {
	t.Parallel()

	var gotCommand, gotWorktree string
	var gotCfg Config
	var gotTimeout time.Duration
	handler := toolHandlerWith(func(_ context.Context, command, worktree string, cfg Config, timeout time.Duration, env map[string]string) Result {
		gotCommand, gotWorktree, gotCfg, gotTimeout = command, worktree, cfg, timeout
		require.Equal(t, map[string]string{"KEY": "val"}, env)
		return Result{ExitCode: 0, Stdout: "done"}
	})

	res := handler(context.Background(), map[string]any{
		"command":          "pytest -q",
		"workdir":          "/tmp/work",
		"timeout_seconds":  float64(60),
		"image":            "golang:1.25",
		"network_disabled": false,
		"env":              map[string]any{"KEY": "val"},
	})
	require.True(t, res.Success)
	require.Equal(t, "pytest -q", gotCommand)
	require.Equal(t, "/tmp/work", gotWorktree)
	require.Equal(t, "golang:1.25", gotCfg.Image)
	require.False(t, gotCfg.NetworkDisabled)
	require.Equal(t, time.Minute, gotTimeout)
}

func TestToolHandlerTruncatesOutput(t *testing.T) {
	t.Parallel()

	handler := toolHandlerWith(func(_ context.Context, _, _ string, _ Config, _ time.Duration, _ map[string]string) Result {
		return Result{ExitCode: 0, Stdout: strings.Repeat("x", 500)}
	})
	res := handler(context.Background(), map[string]any{
		"command":    "echo",
		"workdir":    ".",
		"max_output": 100,
	})
	require.True(t, res.Success)
	out := res.Output.(map[string]any)
	require.Contains(t, out["stdout"].(string), "... (truncated)")
	require.True(t, out["meta"].(map[string]any)["truncated"].(bool))
}

func TestToolHandlerFailureShapes(t *testing.T) {
	t.Parallel()

	timedOut := toolHandlerWith(func(_ context.Context, _, _ string, _ Config, _ time.Duration, _ map[string]string) Result {
		return Result{ExitCode: -1, Stderr: "container execution timed out", TimedOut: true}
	})
	res := timedOut(context.Background(), map[string]any{"command": "sleep 999", "workdir": "."})
	require.False(t, res.Success)
	require.Equal(t, tools.CodeToolTimeout, res.Code)

	failing := toolHandlerWith(func(_ context.Context, _, _ string, _ Config, _ time.Duration, _ map[string]string) Result {
		return Result{ExitCode: 2, Stderr: "boom"}
	})
	res = failing(context.Background(), map[string]any{"command": "false", "workdir": "."})
	require.False(t, res.Success)
	require.Equal(t, tools.CodeToolExternalFailure, res.Code)
	require.Equal(t, "boom", res.Error)

	res = failing(context.Background(), map[string]any{"workdir": "."})
	require.False(t, res.Success)
	require.Equal(t, tools.CodeToolBadArgs, res.Code)
}
