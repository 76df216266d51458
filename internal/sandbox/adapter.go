package sandbox

import (
	"context"
	"time"

	"github.com/cordon-ai/cordon/internal/tools"
)

type execFunc func(ctx context.Context, command, worktree string, cfg Config, timeout time.Duration, env map[string]string) Result

// ToolHandler adapts the runner to the capability router's handler
// shape. The router forces workdir to the session working directory
// before this runs.
func ToolHandler(r *Runner) func(ctx context.Context, args map[string]any) tools.Result {
	return toolHandlerWith(r.Run)
}

func toolHandlerWith(run execFunc) func(ctx context.Context, args map[string]any) tools.Result {
	return func(ctx context.Context, args map[string]any) tools.Result {
		command, _ := args["command"].(string)
		workdir, _ := args["workdir"].(string)
		if command == "" {
			return tools.Result{Success: false, Error: "empty command", Code: tools.CodeToolBadArgs}
		}

		cfg := DefaultConfig()
		if v, present := args["image"].(string); present && v != "" {
			cfg.Image = v
		}
		if v, present := args["memory_limit"].(string); present && v != "" {
			cfg.MemoryLimit = v
		}
		if v, present := args["cpu_limit"].(string); present && v != "" {
			cfg.CPULimit = v
		}
		if v, present := args["network_disabled"].(bool); present {
			cfg.NetworkDisabled = v
		}

		timeout := time.Duration(intArg(args, "timeout_seconds", 300)) * time.Second
		maxOutput := intArg(args, "max_output", 100_000)

		var env map[string]string
		if m, present := args["env"].(map[string]any); present {
			env = map[string]string{}
			for k, v := range m {
				if s, isStr := v.(string); isStr {
					env[k] = s
				}
			}
		}

		res := run(ctx, command, workdir, cfg, timeout, env)

		stdout, stderr := res.Stdout, res.Stderr
		truncated := false
		if len(stdout) > maxOutput {
			stdout = stdout[:maxOutput] + "\n... (truncated)"
			truncated = true
		}
		if len(stderr) > maxOutput {
			stderr = stderr[:maxOutput] + "\n... (truncated)"
			truncated = true
		}

		output := map[string]any{
			"exit_code": res.ExitCode,
			"stdout":    stdout,
			"stderr":    stderr,
			"meta": map[string]any{
				"timed_out": res.TimedOut,
				"image":     cfg.Image,
				"truncated": truncated,
			},
		}
		if res.TimedOut {
			return tools.Result{Success: false, Output: output, Error: "container execution timed out", Code: tools.CodeToolTimeout}
		}
		if res.ExitCode != 0 {
			return tools.Result{Success: false, Output: output, Error: stderr, Code: tools.CodeToolExternalFailure}
		}
		return tools.Result{Success: true, Output: output}
	}
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
