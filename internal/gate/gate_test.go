package gate

import (
	"strings"
	"testing"

	"github.com/cordon-ai/cordon/internal/action"
	"github.com/cordon-ai/cordon/internal/policy"
)

func cleanState() action.StateSnapshot {
	return action.StateSnapshot{
		RepoID:      "repo-1",
		FSTreeHash:  "deadbeef",
		Toolchain:   "go",
		TestsPassed: true,
	}
}

func TestCoreDeniesWeakJustification(t *testing.T) {
	t.Parallel()

	a := action.Proposed{Kind: action.KindPatchPlan, Payload: map[string]any{}, Justification: "short"}
	d := Core(cleanState(), a, policy.Default())
	if d.Allow {
		t.Fatal("weak justification should be denied")
	}
}

func TestCoreCommandPolicy(t *testing.T) {
	t.Parallel()

	pol := policy.Default()
	a := action.Proposed{Kind: action.KindCommand, Payload: "ls -la", Justification: "inspect working tree"}
	if d := Core(cleanState(), a, pol); d.Allow {
		t.Fatal("commands should be denied when AllowCommands is off")
	}

	pol.AllowCommands = true
	if d := Core(cleanState(), a, pol); !d.Allow {
		t.Fatalf("benign command denied: %s", d.Reason)
	}

	a.Payload = "rm -rf /"
	if d := Core(cleanState(), a, pol); d.Allow {
		t.Fatal("blocked prefix should be denied")
	}

	a.Payload = map[string]any{"cmd": "ls"}
	if d := Core(cleanState(), a, pol); d.Allow {
		t.Fatal("non-string command payload should be denied")
	}
}

func TestCorePatchRequiresCleanState(t *testing.T) {
	t.Parallel()

	a := action.Proposed{Kind: action.KindPatch, Payload: "--- a\n+++ b\n", Justification: "fix the failing parser"}
	state := cleanState()
	state.TestsPassed = false
	if d := Core(state, a, policy.Default()); d.Allow {
		t.Fatal("patch against dirty state should be denied")
	}
	if d := Core(cleanState(), a, policy.Default()); !d.Allow {
		t.Fatalf("patch against clean state denied: %s", d.Reason)
	}
}

func TestCorePatchNormalization(t *testing.T) {
	t.Parallel()

	a := action.Proposed{
		Kind:          action.KindPatch,
		Payload:       "line one   \nline two\t",
		Justification: "normalize patch content",
	}
	d := Core(cleanState(), a, policy.Default())
	if !d.Allow {
		t.Fatalf("denied: %s", d.Reason)
	}
	got, _ := d.Normalized.PayloadString()
	if got != "line one\nline two\n" {
		t.Fatalf("normalized = %q", got)
	}
}

func TestCorePatchTooLarge(t *testing.T) {
	t.Parallel()

	pol := policy.Default()
	pol.MaxPatchBytes = 16
	a := action.Proposed{
		Kind:          action.KindPatch,
		Payload:       strings.Repeat("x", 32),
		Justification: "oversized patch attempt",
	}
	if d := Core(cleanState(), a, pol); d.Allow {
		t.Fatal("oversized patch should be denied")
	}
}

func TestCoreIsPure(t *testing.T) {
	t.Parallel()

	state := cleanState()
	a := action.Proposed{Kind: action.KindPatch, Payload: "--- a\n+++ b\n", Justification: "repeatable decision"}
	pol := policy.Default()
	first := Core(state, a, pol)
	for i := 0; i < 10; i++ {
		again := Core(state, a, pol)
		if again.Allow != first.Allow || again.Reason != first.Reason {
			t.Fatal("gate decision changed across identical calls")
		}
	}
}

func TestEvaluateToolCallAllowlist(t *testing.T) {
	t.Parallel()

	snap := action.WorldSnapshot{SessionID: "s", SystemClean: true}
	a := action.Proposed{
		Kind:          action.KindToolCall,
		Payload:       map[string]any{"tool": "shell_command", "args": map[string]any{"command": "ls"}},
		Justification: "run a shell command",
	}
	d := Evaluate(snap, a, policy.Default())
	if d.Allow {
		t.Fatal("tool outside allowlist should be denied")
	}
	if d.SuggestedAlternative == "" {
		t.Fatal("denial should carry a suggested alternative")
	}
}

func TestEvaluateToolCallPathPolicy(t *testing.T) {
	t.Parallel()

	snap := action.WorldSnapshot{SessionID: "s", SystemClean: true}
	a := action.Proposed{
		Kind:          action.KindToolCall,
		Payload:       map[string]any{"tool": "read_file", "args": map[string]any{"path": "/etc/shadow"}},
		Justification: "read system file",
	}
	if d := Evaluate(snap, a, policy.Default()); d.Allow {
		t.Fatal("path outside prefixes should be denied")
	}

	a.Payload = map[string]any{"tool": "read_file", "args": map[string]any{"path": "./notes.txt"}}
	if d := Evaluate(snap, a, policy.Default()); !d.Allow {
		t.Fatalf("in-scope path denied: %s", d.Reason)
	}
}

func TestEvaluateFetchURLDomainPolicy(t *testing.T) {
	t.Parallel()

	pol := policy.Dev()
	pol.AllowedDomains = map[string]bool{"github.com": true}
	snap := action.WorldSnapshot{SessionID: "s", SystemClean: true}

	a := action.Proposed{
		Kind:          action.KindToolCall,
		Payload:       map[string]any{"tool": "fetch_url", "args": map[string]any{"url": "https://evil.example/x"}},
		Justification: "fetch external data",
	}
	if d := Evaluate(snap, a, pol); d.Allow {
		t.Fatal("unlisted domain should be denied")
	}

	a.Payload = map[string]any{"tool": "fetch_url", "args": map[string]any{"url": "https://github.com/x"}}
	if d := Evaluate(snap, a, pol); !d.Allow {
		t.Fatalf("allowlisted domain denied: %s", d.Reason)
	}
}

func TestEvaluateMemoryWriteEgress(t *testing.T) {
	t.Parallel()

	snap := action.WorldSnapshot{SessionID: "s", SystemClean: true}
	a := action.Proposed{
		Kind:          action.KindMemoryWrite,
		Payload:       map[string]any{"key": "k", "value": "contact: someone@example.com"},
		Justification: "remember contact info",
	}
	if d := Evaluate(snap, a, policy.Default()); d.Allow {
		t.Fatal("memory write with PII should be denied")
	}

	a.Payload = map[string]any{"key": "k", "value": "prefers dark mode"}
	if d := Evaluate(snap, a, policy.Default()); !d.Allow {
		t.Fatalf("clean memory write denied: %s", d.Reason)
	}
}

func TestEvaluateMessageSendEgress(t *testing.T) {
	t.Parallel()

	snap := action.WorldSnapshot{SessionID: "s", SystemClean: true}
	a := action.Proposed{
		Kind:          action.KindMessageSend,
		Payload:       map[string]any{"message": "here is sk-" + strings.Repeat("a", 48)},
		Justification: "report the api key",
	}
	if d := Evaluate(snap, a, policy.Default()); d.Allow {
		t.Fatal("message leaking a key should be denied")
	}
}

func TestEvaluatePermissionRequest(t *testing.T) {
	t.Parallel()

	snap := action.WorldSnapshot{SessionID: "s", SystemClean: true}
	a := action.Proposed{
		Kind:          action.KindPermissionRequest,
		Payload:       map[string]any{"permission": "write_file", "reason": "need to save output"},
		Justification: "request elevation",
	}
	if d := Evaluate(snap, a, policy.Default()); d.Allow {
		t.Fatal("elevation should require approval under the default policy")
	}
	if d := Evaluate(snap, a, policy.Dev()); !d.Allow {
		t.Fatal("dev policy should allow permission requests")
	}
}

func TestEvaluateUnknownKindFailsClosed(t *testing.T) {
	t.Parallel()

	snap := action.WorldSnapshot{SessionID: "s", SystemClean: true}
	a := action.Proposed{Kind: "teleport", Payload: map[string]any{}, Justification: "try an unknown action"}
	if d := Evaluate(snap, a, policy.Default()); d.Allow {
		t.Fatal("unknown kind should be denied")
	}
}
