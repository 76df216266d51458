package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// DemoClient returns canned proposals without any network access, so the
// full parse/gate/route/ledger flow can be exercised offline.
type DemoClient struct{}

func (DemoClient) Model() string { return "demo" }

func (DemoClient) Chat(_ context.Context, system, user string) (Response, error) {
	lower := strings.ToLower(user)

	var proposal map[string]any
	switch {
	case strings.Contains(lower, "list") && strings.Contains(lower, "file"):
		proposal = map[string]any{
			"action":        "tool_call",
			"tool":          "list_dir",
			"arguments":     map[string]any{"path": "./"},
			"justification": "List files as requested",
		}
	case strings.Contains(lower, "read"):
		proposal = map[string]any{
			"action":        "tool_call",
			"tool":          "read_file",
			"arguments":     map[string]any{"path": "./README.md"},
			"justification": "Read the requested file",
		}
	case strings.Contains(lower, "remember") || strings.Contains(lower, "store"):
		proposal = map[string]any{
			"action":        "tool_call",
			"tool":          "memory_store",
			"arguments":     map[string]any{"key": "demo_key", "value": "demo_value"},
			"justification": "Store test value",
		}
	default:
		msg := user
		if len(msg) > 100 {
			msg = msg[:100]
		}
		proposal = map[string]any{
			"action":        "message_send",
			"message":       "I understand you want to: " + msg,
			"justification": "Acknowledge request",
		}
	}

	content, err := json.Marshal(proposal)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Content: string(content),
		Model:   "demo",
		Usage: Usage{
			PromptTokens:     len(system) + len(user),
			CompletionTokens: len(content),
		},
	}, nil
}
