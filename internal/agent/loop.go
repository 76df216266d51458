package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cordon-ai/cordon/internal/action"
	"github.com/cordon-ai/cordon/internal/gate"
	"github.com/cordon-ai/cordon/internal/ledger"
	"github.com/cordon-ai/cordon/internal/llm"
	"github.com/cordon-ai/cordon/internal/memstore"
	"github.com/cordon-ai/cordon/internal/metrics"
	"github.com/cordon-ai/cordon/internal/policy"
	"github.com/cordon-ai/cordon/internal/replay"
	"github.com/cordon-ai/cordon/internal/tools"
)

// Config bounds one agent turn.
type Config struct {
	MaxSteps int
	Context  ContextConfig
}

// DefaultConfig allows up to 6 reasoner round-trips per turn.
func DefaultConfig() Config {
	return Config{MaxSteps: 6, Context: DefaultContextConfig()}
}

// Result summarizes one completed turn.
type Result struct {
	Message         string `json:"message"`
	StepsTaken      int    `json:"steps_taken"`
	ActionsProposed int    `json:"actions_proposed"`
	ActionsAllowed  int    `json:"actions_allowed"`
	ActionsDenied   int    `json:"actions_denied"`
	ActionsReplayed int    `json:"actions_replayed"`
}

// Event is a live notification emitted while a turn runs, for UIs
// subscribed to the session.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Deps are the collaborators a loop needs. Ledger, Memory, and Metrics
// may be nil; the loop degrades instead of failing.
type Deps struct {
	Client  llm.Client
	Router  *tools.Router
	Ledger  *ledger.Ledger
	Policy  *policy.Policy
	Memory  *memstore.Store
	Metrics *metrics.Registry
	Log     zerolog.Logger
}

// Loop drives proposal rounds for one session.
type Loop struct {
	deps Deps
	cfg  Config

	// OnEvent, when set, receives live events during RunTurn.
	OnEvent func(Event)
}

// New builds a loop. A nil policy falls back to the default policy.
func New(deps Deps, cfg Config) *Loop {
	if deps.Policy == nil {
		deps.Policy = policy.Default()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 6
	}
	return &Loop{deps: deps, cfg: cfg}
}

func (l *Loop) emit(eventType string, data map[string]any) {
	if l.OnEvent != nil {
		l.OnEvent(Event{Type: eventType, Data: data})
	}
}

func (l *Loop) appendLedger(world action.WorldSnapshot, a action.Proposed, decision string, extra map[string]any) {
	if l.deps.Ledger == nil {
		return
	}
	if _, err := l.deps.Ledger.Append(world, a, decision, extra); err != nil {
		l.deps.Log.Warn().Err(err).Msg("ledger append failed")
	}
}

func (l *Loop) recordError(code string) {
	if l.deps.Metrics != nil {
		l.deps.Metrics.RecordError(code)
	}
}

// noteReplay keeps turn accounting honest under replay: every routed
// call in replay mode counts as a hit or a miss, and hits are tallied
// on the turn result.
func (l *Loop) noteReplay(res *Result, ec *tools.ExecutionContext, result tools.Result) {
	if ec.ReplayMode != replay.ModeReplay {
		return
	}
	if l.deps.Metrics != nil {
		l.deps.Metrics.RecordReplay(result.Replayed)
	}
	if result.Replayed {
		res.ActionsReplayed++
	}
}

// toolResultDecision distinguishes replayed results in the ledger so a
// replay run is never byte-identical to a live one.
func toolResultDecision(result tools.Result) string {
	if result.Replayed {
		return "info:tool_result_replay"
	}
	return "info:tool_result"
}

// FormatResult renders a tool result for chat display.
func FormatResult(res tools.Result) string {
	if !res.Success {
		return "Error: " + res.Error
	}
	switch out := res.Output.(type) {
	case []any:
		items := out
		if len(items) > 20 {
			items = items[:20]
		}
		lines := make([]string, 0, len(items))
		for _, item := range items {
			lines = append(lines, fmt.Sprintf("  - %v", item))
		}
		return strings.Join(lines, "\n")
	case []string:
		items := out
		if len(items) > 20 {
			items = items[:20]
		}
		lines := make([]string, 0, len(items))
		for _, item := range items {
			lines = append(lines, "  - "+item)
		}
		return strings.Join(lines, "\n")
	case map[string]any:
		pretty, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Sprint(out)
		}
		return string(pretty)
	default:
		return fmt.Sprint(out)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// RunTurn executes one user turn: reset budgets, then up to MaxSteps
// reasoner rounds of parse, gate, execute, record. Slash commands bypass
// the reasoner but still pass the gate and router.
func (l *Loop) RunTurn(ctx context.Context, userText string, history []Turn, world action.WorldSnapshot, ec *tools.ExecutionContext) Result {
	ec.Budgets.ResetTurn()
	if l.deps.Metrics != nil {
		l.deps.Metrics.RecordMessage()
	}

	if a, ok := action.ParseSlashCommand(userText); ok {
		return l.runDirect(ctx, a, world, ec)
	}

	local := make([]Turn, len(history))
	copy(local, history)

	res := Result{}
	var finalMessage string

	for step := 0; step < l.cfg.MaxSteps; step++ {
		res.StepsTaken = step + 1

		contextBlock := buildContext(ctx, local, userText, l.deps.Memory, l.cfg.Context)
		prompt := userPrompt(userText, contextBlock)

		resp, err := l.deps.Client.Chat(ctx, systemPrompt, prompt)
		if err != nil {
			code := llm.ErrorCode(err)
			l.recordError(code)
			l.appendLedger(world, action.Proposed{
				Kind:          action.KindError,
				Payload:       map[string]any{"type": "llm_call"},
				Justification: "LLM call failed",
			}, "error:llm_call:"+err.Error(), nil)
			res.StepsTaken = step
			res.Message = "LLM call failed: " + err.Error()
			return res
		}

		proposal, err := action.ParseResponse(resp.Content)
		if err != nil {
			l.recordError("llm:parse_error")
			l.appendLedger(world, action.Proposed{
				Kind:          action.KindError,
				Payload:       map[string]any{"type": "parse"},
				Justification: "Parse failed",
			}, "deny:llm_json_parse_error", map[string]any{"error": err.Error(), "raw_head": truncate(resp.Content, 500)})
			res.Message = "I couldn't parse the model output. Try a simpler request."
			return res
		}

		for _, a := range proposal.Actions {
			res.ActionsProposed++

			decision := gate.Evaluate(world, a, l.deps.Policy)
			decisionStr := "allow"
			if !decision.Allow {
				decisionStr = "deny:" + decision.Reason
			}
			if l.deps.Metrics != nil {
				l.deps.Metrics.RecordGateDecision(decisionStr)
			}
			l.appendLedger(world, a, decisionStr, map[string]any{"reason": decision.Reason, "step": step})
			l.emit("gate_decision", map[string]any{
				"kind":   string(a.Kind),
				"allow":  decision.Allow,
				"reason": decision.Reason,
			})

			if !decision.Allow {
				res.ActionsDenied++
				local = append(local, Turn{Role: "tool", Text: "gate denied " + string(a.Kind) + ": " + decision.Reason})
				continue
			}
			res.ActionsAllowed++

			switch a.Kind {
			case action.KindMessageSend:
				payload, _ := a.PayloadMap()
				msg, _ := payload["message"].(string)
				finalMessage = msg
				local = append(local, Turn{Role: "assistant", Text: msg})
				l.emit("message", map[string]any{"text": msg})

			case action.KindToolCall:
				payload, _ := a.PayloadMap()
				tool, _ := payload["tool"].(string)
				args, _ := payload["args"].(map[string]any)
				if args == nil {
					args, _ = payload["arguments"].(map[string]any)
				}

				start := time.Now()
				result := l.deps.Router.Route(ctx, tool, args, ec)
				if l.deps.Metrics != nil {
					l.deps.Metrics.RecordToolCall(tool, time.Since(start), result.Success)
				}
				l.noteReplay(&res, ec, result)

				summary := FormatResult(result)
				local = append(local, Turn{Role: "tool", Text: tool + ": " + truncate(summary, 200)})
				l.appendLedger(world, action.Proposed{
					Kind:          action.KindToolResult,
					Payload:       map[string]any{"tool": tool},
					Justification: "Tool executed",
				}, toolResultDecision(result), map[string]any{"ok": result.Success, "summary": truncate(summary, 500)})
				l.emit("tool_result", map[string]any{
					"tool":     tool,
					"success":  result.Success,
					"code":     result.Code,
					"replayed": result.Replayed,
				})
				if !result.Success {
					l.recordError(result.Code)
				}

			case action.KindMemoryWrite:
				payload, _ := a.PayloadMap()
				result := l.deps.Router.Route(ctx, "memory_store", payload, ec)
				l.noteReplay(&res, ec, result)
				line := "memory_write: stored '" + fmt.Sprint(payload["key"]) + "'"
				if !result.Success {
					line = "memory_write: ERROR - " + result.Error
				}
				local = append(local, Turn{Role: "tool", Text: line})

			case action.KindPermissionRequest:
				payload, _ := a.PayloadMap()
				req, _ := payload["request"].(string)
				why, _ := payload["why"].(string)
				finalMessage = "I need permission: " + req + "\n\nReason: " + why
				local = append(local, Turn{Role: "assistant", Text: finalMessage})
				l.emit("permission_request", map[string]any{"request": req, "why": why})
			}
		}

		if finalMessage != "" {
			break
		}
	}

	if finalMessage == "" {
		finalMessage = "I couldn't complete that request. Try asking for something specific."
	}
	res.Message = finalMessage
	return res
}

// runDirect executes one slash-command action: same gate, same router,
// no reasoner round-trip.
func (l *Loop) runDirect(ctx context.Context, a action.Proposed, world action.WorldSnapshot, ec *tools.ExecutionContext) Result {
	res := Result{StepsTaken: 1, ActionsProposed: 1}

	decision := gate.Evaluate(world, a, l.deps.Policy)
	decisionStr := "allow"
	if !decision.Allow {
		decisionStr = "deny:" + decision.Reason
	}
	if l.deps.Metrics != nil {
		l.deps.Metrics.RecordGateDecision(decisionStr)
	}
	l.appendLedger(world, a, decisionStr, map[string]any{"reason": decision.Reason, "source": "slash"})

	if !decision.Allow {
		res.ActionsDenied = 1
		res.Message = "Denied: " + decision.Reason
		return res
	}
	res.ActionsAllowed = 1

	payload, _ := a.PayloadMap()
	tool, _ := payload["tool"].(string)
	args, _ := payload["args"].(map[string]any)
	if args == nil {
		args, _ = payload["arguments"].(map[string]any)
	}

	start := time.Now()
	result := l.deps.Router.Route(ctx, tool, args, ec)
	if l.deps.Metrics != nil {
		l.deps.Metrics.RecordToolCall(tool, time.Since(start), result.Success)
	}
	l.noteReplay(&res, ec, result)
	l.appendLedger(world, action.Proposed{
		Kind:          action.KindToolResult,
		Payload:       map[string]any{"tool": tool},
		Justification: "Tool executed",
	}, toolResultDecision(result), map[string]any{"ok": result.Success})

	res.Message = FormatResult(result)
	return res
}
