// Package planner decomposes goals into gated, executable step graphs
// with real rollback on failure.
package planner

import (
	"github.com/google/uuid"

	"github.com/cordon-ai/cordon/internal/action"
)

// StepStatus is the lifecycle of a plan step.
type StepStatus string

const (
	StatusPending    StepStatus = "pending"
	StatusInProgress StepStatus = "in_progress"
	StatusCompleted  StepStatus = "completed"
	StatusFailed     StepStatus = "failed"
	StatusSkipped    StepStatus = "skipped"
)

// Strategy names a plan-generation approach. Strategies are also bandit
// arms, so their names must stay stable.
type Strategy string

const (
	StrategyDirect      Strategy = "direct"
	StrategyDecompose   Strategy = "decompose"
	StrategySearchFirst Strategy = "search_first"
	StrategyAskUser     Strategy = "ask_user"
)

// PlanStep is one node of a plan DAG.
type PlanStep struct {
	StepID      string          `json:"step_id"`
	Description string          `json:"description"`
	Action      action.Proposed `json:"action"`
	DependsOn   []string        `json:"depends_on,omitempty"`
	Status      StepStatus      `json:"status"`
	Error       string          `json:"error,omitempty"`
	Result      any             `json:"result,omitempty"`
}

// NewStep creates a pending step with a fresh short id.
func NewStep(description string, a action.Proposed, dependsOn ...string) *PlanStep {
	return &PlanStep{
		StepID:      uuid.NewString()[:8],
		Description: description,
		Action:      a,
		DependsOn:   dependsOn,
		Status:      StatusPending,
	}
}

// Plan is a goal plus its step graph.
type Plan struct {
	PlanID   string         `json:"plan_id"`
	Goal     string         `json:"goal"`
	Steps    []*PlanStep    `json:"steps"`
	Strategy Strategy       `json:"strategy"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewPlan wraps steps in a plan with a fresh id.
func NewPlan(goal string, steps []*PlanStep, strategy Strategy, metadata map[string]any) *Plan {
	return &Plan{
		PlanID:   uuid.NewString()[:8],
		Goal:     goal,
		Steps:    steps,
		Strategy: strategy,
		Metadata: metadata,
	}
}

// PendingSteps returns steps that are ready: pending with every
// dependency completed.
func (p *Plan) PendingSteps() []*PlanStep {
	completed := map[string]bool{}
	for _, s := range p.Steps {
		if s.Status == StatusCompleted {
			completed[s.StepID] = true
		}
	}
	var ready []*PlanStep
	for _, s := range p.Steps {
		if s.Status != StatusPending {
			continue
		}
		ok := true
		for _, dep := range s.DependsOn {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s)
		}
	}
	return ready
}

// IsComplete reports whether every step completed or was skipped.
func (p *Plan) IsComplete() bool {
	for _, s := range p.Steps {
		if s.Status != StatusCompleted && s.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// HasFailed reports whether any step failed.
func (p *Plan) HasFailed() bool {
	for _, s := range p.Steps {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}

// GetStep finds a step by id.
func (p *Plan) GetStep(id string) *PlanStep {
	for _, s := range p.Steps {
		if s.StepID == id {
			return s
		}
	}
	return nil
}

// StepResult is the outcome of one step execution. Gated marks a step
// the gate denied before any execution happened.
type StepResult struct {
	StepID     string `json:"step_id"`
	Success    bool   `json:"success"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	Gated      bool   `json:"gated"`
	GateReason string `json:"gate_reason,omitempty"`
}

// PlanResult is the outcome of a full plan run.
type PlanResult struct {
	PlanID         string       `json:"plan_id"`
	Success        bool         `json:"success"`
	StepResults    []StepResult `json:"step_results"`
	TotalSteps     int          `json:"total_steps"`
	CompletedSteps int          `json:"completed_steps"`
	FailedSteps    int          `json:"failed_steps"`
	Error          string       `json:"error,omitempty"`
	RolledBack     bool         `json:"rolled_back,omitempty"`
}

// CompletionRate is completed/total, treating an empty plan as done.
func (r PlanResult) CompletionRate() float64 {
	if r.TotalSteps == 0 {
		return 1.0
	}
	return float64(r.CompletedSteps) / float64(r.TotalSteps)
}
