// Package action defines the untrusted proposal types flowing through the
// kernel: proposed actions, the snapshots the gate judges them against, and
// the gate's decision value.
package action

import (
	"github.com/cordon-ai/cordon/internal/canon"
)

// Kind discriminates the payload shape of a proposed action.
type Kind string

const (
	KindPatchPlan         Kind = "patch_plan"
	KindPatch             Kind = "patch"
	KindCommand           Kind = "command"
	KindToolCall          Kind = "tool_call"
	KindMessageSend       Kind = "message_send"
	KindMemoryWrite       Kind = "memory_write"
	KindPermissionRequest Kind = "permission_request"

	// Synthetic kinds used only for ledger bookkeeping entries.
	KindError      Kind = "error"
	KindToolResult Kind = "tool_result"
	KindEvent      Kind = "event"
)

// knownKinds are the kinds a reasoner may propose. Synthetic kinds are
// kernel-internal and fail closed when proposed.
var knownKinds = map[Kind]bool{
	KindPatchPlan:         true,
	KindPatch:             true,
	KindCommand:           true,
	KindToolCall:          true,
	KindMessageSend:       true,
	KindMemoryWrite:       true,
	KindPermissionRequest: true,
}

// Known reports whether k may appear in a reasoner proposal.
func Known(k Kind) bool { return knownKinds[k] }

// Proposed is a single untrusted action. Payload is a decoded JSON value:
// a string for patch/command kinds, an object for everything else.
type Proposed struct {
	Kind          Kind     `json:"kind"`
	Payload       any      `json:"payload"`
	Justification string   `json:"justification"`
	RiskTags      []string `json:"risk_tags,omitempty"`
}

// PayloadMap returns the payload as an object, or ok=false.
func (p Proposed) PayloadMap() (map[string]any, bool) {
	m, ok := p.Payload.(map[string]any)
	return m, ok
}

// PayloadString returns the payload as a string, or ok=false.
func (p Proposed) PayloadString() (string, bool) {
	s, ok := p.Payload.(string)
	return s, ok
}

// Hash is the content hash of the action used for ledger and replay keys.
func (p Proposed) Hash() (string, error) {
	return canon.HashJSON(map[string]any{
		"kind":          string(p.Kind),
		"payload":       p.Payload,
		"justification": p.Justification,
		"risk_tags":     p.RiskTags,
	})
}

// ID is the replay key for an action: a hash over kind and payload only,
// so restating a justification does not invalidate recorded outputs.
func (p Proposed) ID() (string, error) {
	return canon.HashJSON(map[string]any{
		"kind":    string(p.Kind),
		"payload": p.Payload,
	})
}

// StateSnapshot is the gate input for repo-centric workflows. The kernel
// never derives it itself; an outer controller constructs it.
type StateSnapshot struct {
	RepoID      string         `json:"repo_id"`
	FSTreeHash  string         `json:"fs_tree_hash"`
	Toolchain   string         `json:"toolchain"`
	TestsPassed bool           `json:"tests_passed"`
	Metadata    map[string]any `json:"metadata"`
}

// WorldSnapshot is the gate input for general agent sessions: the
// controllable world state, not a specific repo.
type WorldSnapshot struct {
	SessionID      string         `json:"session_id"`
	WorldStateHash string         `json:"world_state_hash"`
	EnabledTools   []string       `json:"enabled_tools"`
	Permissions    []string       `json:"permissions"`
	SystemClean    bool           `json:"system_clean"`
	Metadata       map[string]any `json:"metadata"`
}

// ToState maps a world snapshot onto the repo-flavored snapshot the core
// gate rules operate on.
func (w WorldSnapshot) ToState() StateSnapshot {
	return StateSnapshot{
		RepoID:      w.SessionID,
		FSTreeHash:  w.WorldStateHash,
		Toolchain:   "agent",
		TestsPassed: w.SystemClean,
		Metadata:    w.Metadata,
	}
}

// Snapshot is either a StateSnapshot or a WorldSnapshot.
type Snapshot interface {
	snapshotMarker()
}

func (StateSnapshot) snapshotMarker() {}
func (WorldSnapshot) snapshotMarker() {}

// HashSnapshot is the content hash recorded for a snapshot in the ledger.
func HashSnapshot(s Snapshot) (string, error) {
	return canon.HashJSON(s)
}

// Decision is the gate's verdict on one proposed action.
type Decision struct {
	Allow                bool      `json:"allow"`
	Reason               string    `json:"reason"`
	Normalized           *Proposed `json:"normalized_action,omitempty"`
	SuggestedAlternative string    `json:"suggested_alternative,omitempty"`
}

// Allowed constructs an allow decision carrying the normalized action.
func Allowed(reason string, normalized Proposed) Decision {
	return Decision{Allow: true, Reason: reason, Normalized: &normalized}
}

// Denied constructs a deny decision.
func Denied(reason string) Decision {
	return Decision{Allow: false, Reason: reason}
}

// DeniedWithHint constructs a deny decision with a suggested alternative
// the reasoner can act on.
func DeniedWithHint(reason, hint string) Decision {
	return Decision{Allow: false, Reason: reason, SuggestedAlternative: hint}
}
