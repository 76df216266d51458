package planner

import (
	"strings"

	"github.com/cordon-ai/cordon/internal/action"
)

// GeneratePlan builds a plan for a goal using the named strategy.
func GeneratePlan(goal string, world *action.WorldSnapshot, strategy Strategy) *Plan {
	var steps []*PlanStep
	switch strategy {
	case StrategyDecompose:
		steps = Decompose(goal)
	case StrategySearchFirst:
		steps = searchFirstSteps(goal)
	case StrategyAskUser:
		steps = askUserSteps(goal)
	default:
		strategy = StrategyDirect
		steps = Decompose(goal)[:1]
	}

	meta := map[string]any{}
	if world != nil {
		meta["context_session"] = world.SessionID
	}
	return NewPlan(goal, steps, strategy, meta)
}

func searchFirstSteps(goal string) []*PlanStep {
	explore := NewStep(
		"Search for relevant context",
		toolCall("list_dir", map[string]any{"path": "./"}, "Gather context for: "+goal),
	)
	main := Decompose(goal)
	// Every root of the goal's own graph waits for exploration.
	for _, s := range main {
		if len(s.DependsOn) == 0 {
			s.DependsOn = []string{explore.StepID}
		}
	}
	return append([]*PlanStep{explore}, main...)
}

func askUserSteps(goal string) []*PlanStep {
	msg := "Before I proceed with '" + goal + "', could you clarify:\n" +
		"1. What specific outcome do you expect?\n" +
		"2. Are there any constraints I should be aware of?"
	return []*PlanStep{
		NewStep("Request clarification from user",
			messageSend(msg, "Clarification needed before execution")),
	}
}

// SelectStrategy is the heuristic fallback when no learned selection is
// available.
func SelectStrategy(goal string) Strategy {
	lower := strings.ToLower(goal)
	switch {
	case containsAny(lower, " and ", " then ", " after "):
		return StrategyDecompose
	case containsAny(lower, "help", "how do i", "what should"):
		return StrategyAskUser
	case containsAny(lower, "analyze", "summarize", "review", "understand"):
		return StrategySearchFirst
	}
	return StrategyDirect
}

// AutoPlan generates a plan with the heuristically best strategy.
func AutoPlan(goal string, world *action.WorldSnapshot) *Plan {
	return GeneratePlan(goal, world, SelectStrategy(goal))
}

// ParseStrategy maps a learned arm name onto a strategy, defaulting to
// direct for unknown names.
func ParseStrategy(name string) Strategy {
	switch Strategy(name) {
	case StrategyDirect, StrategyDecompose, StrategySearchFirst, StrategyAskUser:
		return Strategy(name)
	}
	return StrategyDirect
}
