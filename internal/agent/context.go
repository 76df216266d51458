package agent

import (
	"context"
	"strings"

	"github.com/cordon-ai/cordon/internal/memstore"
)

// Turn is one prior exchange in the conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ContextConfig bounds what goes into the prompt context block.
type ContextConfig struct {
	MaxTurns    int
	MaxMemItems int
	Recall      bool
}

// DefaultContextConfig keeps the last 12 turns and up to 6 recalled
// memory items.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{MaxTurns: 12, MaxMemItems: 6, Recall: true}
}

func formatTurn(role, text string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	switch r {
	case "user", "assistant", "tool":
	default:
		r = "user"
	}
	return strings.ToUpper(r) + ": " + text
}

// buildContext assembles the prompt context: recalled memory first, then
// recent chat, then the instruction. Memory recall is best-effort; a
// failing store never breaks the turn.
func buildContext(ctx context.Context, history []Turn, userText string, memory *memstore.Store, cfg ContextConfig) string {
	turns := history
	if cfg.MaxTurns > 0 && len(turns) > cfg.MaxTurns {
		turns = turns[len(turns)-cfg.MaxTurns:]
	}

	var out []string
	if cfg.Recall && memory != nil {
		if hits, err := memory.Search(ctx, userText, cfg.MaxMemItems); err == nil && len(hits) > 0 {
			out = append(out, "MEMORY (recalled):")
			for _, h := range hits {
				out = append(out, "- "+h.Key+": "+h.Value)
			}
			out = append(out, "")
		}
	}

	if len(turns) > 0 {
		out = append(out, "CHAT (recent):")
		for _, t := range turns {
			out = append(out, formatTurn(t.Role, t.Text))
		}
		out = append(out, "")
	}

	out = append(out, "INSTRUCTION:", "Propose the next actions as JSON.")
	return strings.Join(out, "\n")
}
