package tools

import (
	"fmt"
	"sync"
)

// BudgetEnforcer tracks per-capability usage for the current turn.
// Reset at the start of each user turn.
type BudgetEnforcer struct {
	mu    sync.Mutex
	calls map[string]int
	bytes map[string]int
}

// NewBudgetEnforcer starts with zero usage.
func NewBudgetEnforcer() *BudgetEnforcer {
	return &BudgetEnforcer{calls: map[string]int{}, bytes: map[string]int{}}
}

// ResetTurn replaces all usage with a fresh zero map.
func (b *BudgetEnforcer) ResetTurn() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = map[string]int{}
	b.bytes = map[string]int{}
}

// CheckAndCharge atomically charges one call (and the byte estimate, when
// the budget bounds bytes) and reports whether the call stays in budget.
func (b *BudgetEnforcer) CheckAndCharge(tool string, budget Budget, estimatedBytes int) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.calls[tool] + 1
	if budget.CallsPerTurn > 0 && c > budget.CallsPerTurn {
		return false, fmt.Sprintf("budget exceeded: calls_per_turn %d/%d", c, budget.CallsPerTurn)
	}
	b.calls[tool] = c

	if budget.MaxBytes > 0 {
		if estimatedBytes < 0 {
			estimatedBytes = 0
		}
		n := b.bytes[tool] + estimatedBytes
		if n > budget.MaxBytes {
			return false, fmt.Sprintf("budget exceeded: max_bytes %d/%d", n, budget.MaxBytes)
		}
		b.bytes[tool] = n
	}
	return true, ""
}

// Usage returns current call and byte usage for a capability.
func (b *BudgetEnforcer) Usage(tool string) (calls, bytes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[tool], b.bytes[tool]
}

// BudgetUsage is one capability's consumption within the current turn.
type BudgetUsage struct {
	Calls int `json:"calls"`
	Bytes int `json:"bytes"`
}

// Snapshot returns per-capability usage for status surfaces.
func (b *BudgetEnforcer) Snapshot() map[string]BudgetUsage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]BudgetUsage, len(b.calls))
	for tool, calls := range b.calls {
		out[tool] = BudgetUsage{Calls: calls, Bytes: b.bytes[tool]}
	}
	for tool, bytes := range b.bytes {
		if _, seen := out[tool]; !seen {
			out[tool] = BudgetUsage{Bytes: bytes}
		}
	}
	return out
}
