// Package gate decides whether a proposed action may execute. Both entry
// points are pure functions over (snapshot, action, policy): no IO, no
// clock, no randomness, no logging. Callers log the decision.
package gate

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/cordon-ai/cordon/internal/action"
	"github.com/cordon-ai/cordon/internal/policy"
)

// coreMinJustification applies to the repo-centric kinds regardless of the
// policy's extended-kind threshold.
const coreMinJustification = 8

// Core evaluates the repo-centric kinds: patch_plan, patch, command.
func Core(state action.StateSnapshot, a action.Proposed, pol *policy.Policy) action.Decision {
	if len(a.Justification) < coreMinJustification {
		return action.Denied("Missing/weak justification")
	}

	switch a.Kind {
	case action.KindCommand:
		if !pol.AllowCommands {
			return action.Denied("Commands forbidden by policy")
		}
		cmd, ok := a.PayloadString()
		if !ok {
			return action.Denied("Command payload must be a string")
		}
		if pol.IsBlockedCommand(cmd) {
			return action.Denied("Command blocked by prefix policy")
		}
		return action.Allowed("Command allowed", a)

	case action.KindPatch:
		if pol.RequireCleanForPatch && !state.TestsPassed {
			return action.Denied("Refusing patch: state not clean (tests failing)")
		}
		diff, ok := a.PayloadString()
		if !ok {
			return action.Denied("Patch payload must be unified diff string")
		}
		if len(diff) > pol.MaxPatchBytes {
			return action.Denied("Patch too large")
		}
		norm := a
		norm.Payload = normalizePatch(diff)
		return action.Allowed("Patch allowed", norm)

	case action.KindPatchPlan:
		return action.Allowed("Plan allowed", a)
	}

	return action.Denied(fmt.Sprintf("Unknown action kind: %s", a.Kind))
}

// normalizePatch strips trailing whitespace per line and guarantees a
// trailing newline so a patch hashes identically however it was quoted.
func normalizePatch(diff string) string {
	lines := strings.Split(strings.TrimRight(diff, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.Join(lines, "\n") + "\n"
}

// Evaluate is the extended gate covering every proposable kind. It
// delegates the repo-centric kinds to Core and applies policy checks to
// the agent-specific kinds.
func Evaluate(snap action.Snapshot, a action.Proposed, pol *policy.Policy) action.Decision {
	if pol == nil {
		pol = policy.Default()
	}
	if len(a.Justification) < pol.MinJustificationChars {
		return action.Denied("Missing/weak justification")
	}

	switch a.Kind {
	case action.KindPatchPlan, action.KindPatch, action.KindCommand:
		switch s := snap.(type) {
		case action.StateSnapshot:
			return Core(s, a, pol)
		case action.WorldSnapshot:
			return Core(s.ToState(), a, pol)
		default:
			return action.Denied("Unsupported snapshot type")
		}

	case action.KindToolCall:
		return checkToolCall(a, pol)

	case action.KindMemoryWrite:
		return checkMemoryWrite(a, pol)

	case action.KindMessageSend:
		if payload, ok := a.PayloadMap(); ok {
			msg, _ := payload["message"].(string)
			if ok, _ := pol.CheckEgress(msg); !ok {
				return action.DeniedWithHint("Content matches blocked egress pattern", "Remove sensitive data")
			}
		}
		return action.Allowed("Message allowed", a)

	case action.KindPermissionRequest:
		if pol.ElevationRequiresApproval {
			return action.DeniedWithHint("Permission elevation requires user approval", "Ask user first")
		}
		return action.Allowed("Permission request allowed", a)
	}

	return action.Denied(fmt.Sprintf("Unknown action kind: %s", a.Kind))
}

// pathTools and contentTools name the tools whose arguments carry paths
// and outbound content respectively.
var (
	pathTools    = map[string]bool{"read_file": true, "write_file": true, "list_dir": true, "search_files": true}
	contentTools = map[string]bool{"write_file": true, "memory_store": true, "fetch_url": true}
)

func checkToolCall(a action.Proposed, pol *policy.Policy) action.Decision {
	payload, ok := a.PayloadMap()
	if !ok {
		return action.Denied("tool_call payload must be an object")
	}
	tool, _ := payload["tool"].(string)
	args, _ := payload["args"].(map[string]any)
	if args == nil {
		args, _ = payload["arguments"].(map[string]any)
	}

	if !pol.IsToolAllowed(tool) {
		allowed := make([]string, 0, len(pol.AllowedTools))
		for name := range pol.AllowedTools {
			allowed = append(allowed, name)
		}
		sort.Strings(allowed)
		if len(allowed) > 5 {
			allowed = allowed[:5]
		}
		return action.DeniedWithHint(
			fmt.Sprintf("Tool '%s' not in allowlist", tool),
			"Try one of: "+strings.Join(allowed, ", "),
		)
	}

	if pathTools[tool] {
		path, _ := args["path"].(string)
		if path == "" {
			path, _ = args["directory"].(string)
		}
		if path != "" {
			if ok, reason := pol.CheckPath(path); !ok {
				return action.DeniedWithHint(reason, "Use a path in ./tmp/ or current directory")
			}
		}
	}

	if tool == "fetch_url" {
		if rawURL, _ := args["url"].(string); rawURL != "" {
			if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
				if ok, reason := pol.CheckDomain(u.Hostname()); !ok {
					return action.Denied(reason)
				}
			}
		}
	}

	if contentTools[tool] {
		content, _ := args["content"].(string)
		if content == "" {
			content, _ = args["value"].(string)
		}
		if ok, reason := pol.CheckEgress(content); !ok {
			return action.DeniedWithHint(reason, "Remove sensitive data before sending")
		}
	}

	return action.Allowed("Tool call allowed", a)
}

func checkMemoryWrite(a action.Proposed, pol *policy.Policy) action.Decision {
	payload, ok := a.PayloadMap()
	if !ok {
		return action.Denied("memory_write payload must be an object")
	}
	value, _ := payload["value"].(string)

	if ok, reason := pol.CheckEgress(value); !ok {
		return action.DeniedWithHint("Memory write blocked: "+reason, "Redact sensitive data")
	}
	if len(value) > pol.MaxPayloadBytes {
		return action.Denied(fmt.Sprintf("Value too large: > %d bytes", pol.MaxPayloadBytes))
	}
	return action.Allowed("Memory write allowed", a)
}
