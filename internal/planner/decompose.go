package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cordon-ai/cordon/internal/action"
)

type patternStep struct {
	kind        string
	description string
}

type decompositionRule struct {
	pattern *regexp.Regexp
	steps   []patternStep
}

// Rule-based decomposition for common goal shapes. Unmatched goals fall
// back to a single direct step.
var decompositionRules = []decompositionRule{
	{
		pattern: regexp.MustCompile(`(list|show|find).*(and|then).*(read|summarize|analyze)`),
		steps: []patternStep{
			{"list_files", "List the relevant files"},
			{"read_content", "Read the file contents"},
			{"summarize", "Summarize the findings"},
		},
	},
	{
		pattern: regexp.MustCompile(`(create|write).*(and|then).*(test|verify)`),
		steps: []patternStep{
			{"create", "Create the requested content"},
			{"verify", "Verify the result"},
		},
	},
	{
		pattern: regexp.MustCompile(`(search|find).*(and|then).*(update|modify|change)`),
		steps: []patternStep{
			{"search", "Search for the target"},
			{"modify", "Apply the changes"},
		},
	},
	{
		pattern: regexp.MustCompile(`(read|analyze).*(and|then).*(store|save|remember)`),
		steps: []patternStep{
			{"read", "Read and analyze the content"},
			{"store", "Store the results in memory"},
		},
	},
}

func matchRule(goal string) []patternStep {
	lower := strings.ToLower(goal)
	for _, rule := range decompositionRules {
		if rule.pattern.MatchString(lower) {
			return rule.steps
		}
	}
	return nil
}

func toolCall(tool string, args map[string]any, justification string) action.Proposed {
	return action.Proposed{
		Kind:          action.KindToolCall,
		Payload:       map[string]any{"tool": tool, "arguments": args},
		Justification: justification,
	}
}

func messageSend(message, justification string) action.Proposed {
	return action.Proposed{
		Kind:          action.KindMessageSend,
		Payload:       map[string]any{"message": message},
		Justification: justification,
	}
}

func actionForStepKind(kind, goal string) action.Proposed {
	just := "Step in plan: " + goal
	switch kind {
	case "list_files":
		return toolCall("list_dir", map[string]any{"path": "./"}, just)
	case "read_content":
		return toolCall("read_file", map[string]any{"path": "./README.md"}, just)
	case "summarize", "analyze":
		return messageSend("Summarizing findings...", just)
	case "create", "modify":
		return toolCall("write_file", map[string]any{"path": "./output.txt", "content": ""}, just)
	case "verify":
		return messageSend("Verifying results...", just)
	case "search":
		return toolCall("search_files", map[string]any{"directory": "./", "pattern": "*"}, just)
	case "store":
		return toolCall("memory_store", map[string]any{"key": "result", "value": ""}, just)
	}
	return messageSend("Unknown step type: "+kind, "Fallback")
}

func directStep(goal string) *PlanStep {
	lower := strings.ToLower(goal)
	var a action.Proposed
	switch {
	case containsAny(lower, "list", "show", "find files"):
		a = toolCall("list_dir", map[string]any{"path": "./"}, goal)
	case containsAny(lower, "read", "open", "view"):
		a = toolCall("read_file", map[string]any{"path": "./README.md"}, goal)
	case containsAny(lower, "search", "find"):
		a = toolCall("search_files", map[string]any{"directory": "./", "pattern": "*"}, goal)
	case containsAny(lower, "remember", "store", "save"):
		a = toolCall("memory_store", map[string]any{"key": "note", "value": goal}, goal)
	default:
		a = messageSend(
			fmt.Sprintf("I need more specific instructions to: %s", goal),
			"Goal requires clarification",
		)
	}
	return NewStep("Execute: "+goal, a)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Decompose breaks a goal into executable steps: a matched rule yields a
// dependency chain, anything else a single direct step.
func Decompose(goal string) []*PlanStep {
	matched := matchRule(goal)
	if matched == nil {
		return []*PlanStep{directStep(goal)}
	}
	var steps []*PlanStep
	prev := ""
	for _, ps := range matched {
		var deps []string
		if prev != "" {
			deps = []string{prev}
		}
		step := NewStep(ps.description, actionForStepKind(ps.kind, goal), deps...)
		steps = append(steps, step)
		prev = step.StepID
	}
	return steps
}
