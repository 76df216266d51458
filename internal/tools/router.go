package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cordon-ai/cordon/internal/canon"
	"github.com/cordon-ai/cordon/internal/replay"
)

// ExecutionContext is the per-session state the router enforces against.
type ExecutionContext struct {
	SessionID        string
	UserID           string
	WorkingDirectory string
	MemoryDBPath     string
	ReplayMode       replay.Mode
	Budgets          *BudgetEnforcer
	Permissions      *PermissionState
}

// NewExecutionContext fills in the defaults for a session.
func NewExecutionContext(sessionID string) *ExecutionContext {
	return &ExecutionContext{
		SessionID:        sessionID,
		UserID:           "default",
		WorkingDirectory: "./",
		MemoryDBPath:     "agent_memory.db",
		ReplayMode:       replay.ModeOff,
		Budgets:          NewBudgetEnforcer(),
		Permissions:      NewPermissionState(),
	}
}

// pathArgs are the argument names subject to workdir scoping.
var pathArgs = []string{"path", "file_path", "directory", "cwd"}

// shellCwdArg maps shell-like capabilities to the argument the router
// forces to the session working directory.
var shellCwdArg = map[string]string{
	"sandbox_exec": "workdir",
	"run_command":  "cwd",
	"run_python":   "cwd",
}

// Router dispatches capability calls after enforcing the registry's
// schema, permission, replay, path, and budget rules.
type Router struct {
	registry *Registry
	env      *Env
	store    *replay.ToolStore
	log      zerolog.Logger
}

// NewRouter wires a router. store may be nil when replay is off.
func NewRouter(registry *Registry, env *Env, store *replay.ToolStore, log zerolog.Logger) *Router {
	return &Router{registry: registry, env: env, store: store, log: log}
}

// Registry exposes the capability catalog for listing surfaces.
func (r *Router) Registry() *Registry {
	return r.registry
}

// SetReplayStore swaps in a replay store for runtime mode changes. Only
// call between turns; routing reads the store without a lock.
func (r *Router) SetReplayStore(store *replay.ToolStore) {
	r.store = store
}

// Route enforces, in order: capability existence, argument schema,
// permission grant (with host-exec rewritten to the sandbox), replay-mode
// blocks, path scoping, budget charge, session defaults, forced cwd, then
// invokes the handler and normalizes the result.
func (r *Router) Route(ctx context.Context, name string, args map[string]any, ec *ExecutionContext) Result {
	start := time.Now()
	res := r.route(ctx, name, args, ec, 0)

	ev := r.log.Debug()
	if !res.Success {
		ev = r.log.Info()
	}
	ev.Str("tool", name).
		Str("session_id", ec.SessionID).
		Bool("success", res.Success).
		Str("code", res.Code).
		Dur("elapsed", time.Since(start)).
		Msg("tool routed")
	return res
}

func (r *Router) route(ctx context.Context, name string, args map[string]any, ec *ExecutionContext, depth int) Result {
	if args == nil {
		args = map[string]any{}
	}

	// 1. Unknown capability.
	spec, found := r.registry.Get(name)
	if !found {
		return fail(CodeToolNotFound, "unknown tool: %s", name)
	}

	// 2. Schema.
	if serr := ValidateArguments(spec, args); serr != nil {
		return Result{Success: false, Error: serr.Message, Code: serr.Code}
	}

	// 3. Permission. A denied host-exec call is rewritten to the sandbox
	// when one is available, once.
	if spec.Permission.RequireExplicitGrant && !ec.Permissions.Has(name) {
		if depth == 0 && hostExecTools[name] && r.sandboxAvailable() {
			rewritten, rerr := rewriteToSandbox(name, args)
			if rerr == nil {
				return r.route(ctx, "sandbox_exec", rewritten, ec, depth+1)
			}
		}
		return fail(CodePermGrantRequired, "permission required for: %s", name)
	}

	// 4. Replay-mode block.
	if ec.ReplayMode == replay.ModeReplay && spec.Permission.DenyInReplay {
		return fail(CodePermScopeDenied, "%s is disabled during replay", name)
	}

	// 5. Path scoping.
	if spec.Permission.RestrictPathsToWorkdir {
		for _, key := range pathArgs {
			raw, present := args[key]
			if !present {
				continue
			}
			p, isStr := raw.(string)
			if !isStr || p == "" {
				continue
			}
			resolved, perr := ResolveUnderWorkdir(ec.WorkingDirectory, p)
			if perr != nil {
				return Result{Success: false, Error: perr.Message, Code: perr.Code}
			}
			args[key] = resolved
		}
	}

	// 6. Budget charge.
	if ok, reason := ec.Budgets.CheckAndCharge(name, spec.Budget, estimateBytes(args)); !ok {
		code := CodeBudgetCallsExceeded
		if strings.Contains(reason, "max_bytes") {
			code = CodeBudgetBytesExceeded
		}
		return fail(code, "%s", reason)
	}

	// Replay short-circuit keyed by the action identity before session
	// defaults are injected, so recorded and replayed runs agree.
	actionID := actionIDFor(name, args)
	if ec.ReplayMode == replay.ModeReplay && r.store != nil {
		if rec, hit := r.store.Get(actionID); hit {
			return Result{Success: rec.OK, Output: replayOutput(rec.Data), Error: rec.Summary, Replayed: true}
		}
	}

	// 7. Session defaults.
	if _, present := args["db_path"]; !present && hasField(spec, "db_path") {
		args["db_path"] = ec.MemoryDBPath
	}

	// 8. Forced cwd for shell-like capabilities.
	if key, shellLike := shellCwdArg[name]; shellLike {
		args[key] = ec.WorkingDirectory
	}

	// 9. Invoke.
	res := r.invoke(ctx, spec, args)

	if ec.ReplayMode == replay.ModeRecord && r.store != nil {
		rec := replay.ToolRecord{
			ActionID: actionID,
			Tool:     name,
			Args:     args,
			OK:       res.Success,
			Summary:  res.Error,
			Data:     recordData(res.Output),
		}
		if err := r.store.Put(rec); err != nil {
			r.log.Warn().Err(err).Str("tool", name).Msg("tool record append failed")
		}
	}
	return res
}

func (r *Router) invoke(ctx context.Context, spec Spec, args map[string]any) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			res = fail(CodeToolInternalError, "tool execution failed: %v", rec)
		}
	}()
	res = spec.Handler(ctx, r.env, args)
	if !res.Success && res.Code == "" {
		res.Code = CodeToolExternalFailure
	}
	return res
}

func (r *Router) sandboxAvailable() bool {
	_, found := r.registry.Get("sandbox_exec")
	return found && r.env != nil && r.env.Sandbox != nil
}

// rewriteToSandbox maps a host-exec call onto sandbox_exec arguments.
func rewriteToSandbox(name string, args map[string]any) (map[string]any, error) {
	out := map[string]any{}
	switch name {
	case "run_command":
		cmd, _ := args["command"].(string)
		if cmd == "" {
			return nil, fmt.Errorf("run_command without command")
		}
		out["command"] = cmd
	case "run_python":
		code, _ := args["code"].(string)
		if code == "" {
			return nil, fmt.Errorf("run_python without code")
		}
		out["command"] = "python3 -c " + shellQuote(code)
	default:
		return nil, fmt.Errorf("no sandbox mapping for %s", name)
	}
	if t, present := args["timeout"]; present {
		out["timeout_seconds"] = t
	}
	if m, present := args["max_output"]; present {
		out["max_output"] = m
	}
	return out, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func hasField(spec Spec, name string) bool {
	for _, f := range spec.Schema {
		if f.Name == name {
			return true
		}
	}
	return false
}

// estimateBytes approximates the byte cost of a call: actual content
// length for write-like calls, the caller's max_bytes hint for read-like
// calls.
func estimateBytes(args map[string]any) int {
	if c, present := args["content"].(string); present {
		return len(c)
	}
	if c, present := args["code"].(string); present {
		return len(c)
	}
	switch n := args["max_bytes"].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// recordData boxes non-object outputs so stored records stay one shape.
func recordData(output any) map[string]any {
	if output == nil {
		return nil
	}
	if m, isMap := output.(map[string]any); isMap {
		return m
	}
	return map[string]any{"value": output}
}

// replayOutput unboxes values stored by recordData.
func replayOutput(data map[string]any) any {
	if len(data) == 1 {
		if v, present := data["value"]; present {
			return v
		}
	}
	if data == nil {
		return nil
	}
	return data
}

func actionIDFor(name string, args map[string]any) string {
	id, err := canon.HashJSON(map[string]any{
		"kind": "tool_call",
		"payload": map[string]any{
			"tool":      name,
			"arguments": args,
		},
	})
	if err != nil {
		return ""
	}
	return id
}
