package tools

import (
	"sort"
	"sync"
)

// PermissionState is the set of explicitly granted capabilities for one
// session, plus coarse feature flags.
type PermissionState struct {
	mu      sync.Mutex
	granted map[string]bool

	// PythonExecutionEnabled gates host Python execution on top of the
	// per-tool grant.
	PythonExecutionEnabled bool
}

// NewPermissionState starts with nothing granted.
func NewPermissionState() *PermissionState {
	return &PermissionState{granted: map[string]bool{}}
}

// Grant allows a capability.
func (p *PermissionState) Grant(tool string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted[tool] = true
}

// Revoke withdraws a grant. Revoking an ungranted tool is a no-op.
func (p *PermissionState) Revoke(tool string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.granted, tool)
}

// Has reports whether the capability is granted.
func (p *PermissionState) Has(tool string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted[tool]
}

// ListGrants returns all granted capabilities, sorted.
func (p *PermissionState) ListGrants() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.granted))
	for t := range p.granted {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
