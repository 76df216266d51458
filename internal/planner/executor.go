package planner

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cordon-ai/cordon/internal/action"
	"github.com/cordon-ai/cordon/internal/gate"
	"github.com/cordon-ai/cordon/internal/ledger"
	"github.com/cordon-ai/cordon/internal/policy"
	"github.com/cordon-ai/cordon/internal/tools"
)

// Executor runs plans step by step: gate, dispatch, record.
type Executor struct {
	router *tools.Router
	ledger *ledger.Ledger
	policy *policy.Policy
	log    zerolog.Logger

	// StopOnFailure skips remaining steps after the first failure.
	StopOnFailure bool
}

// NewExecutor wires an executor. ledger may be nil for dry runs.
func NewExecutor(router *tools.Router, led *ledger.Ledger, pol *policy.Policy, log zerolog.Logger) *Executor {
	if pol == nil {
		pol = policy.Default()
	}
	return &Executor{
		router:        router,
		ledger:        led,
		policy:        pol,
		log:           log,
		StopOnFailure: true,
	}
}

func (e *Executor) appendLedger(world action.WorldSnapshot, a action.Proposed, decision string, extra map[string]any) {
	if e.ledger == nil {
		return
	}
	if _, err := e.ledger.Append(world, a, decision, extra); err != nil {
		e.log.Warn().Err(err).Msg("ledger append failed")
	}
}

// ExecuteStep gates one step and, if allowed, dispatches its action.
func (e *Executor) ExecuteStep(ctx context.Context, step *PlanStep, ec *tools.ExecutionContext, world action.WorldSnapshot) StepResult {
	a := step.Action

	decision := gate.Evaluate(world, a, e.policy)
	if !decision.Allow {
		e.appendLedger(world, a, "deny:"+decision.Reason, map[string]any{"step_id": step.StepID})
		return StepResult{
			StepID:     step.StepID,
			Success:    false,
			Gated:      true,
			GateReason: decision.Reason,
			Error:      "blocked by gate: " + decision.Reason,
		}
	}

	switch a.Kind {
	case action.KindToolCall:
		payload, _ := a.PayloadMap()
		tool, _ := payload["tool"].(string)
		args, _ := payload["arguments"].(map[string]any)
		if args == nil {
			args, _ = payload["args"].(map[string]any)
		}
		res := e.router.Route(ctx, tool, args, ec)
		decisionStr := "info:tool_result"
		if !res.Success {
			decisionStr = "error:" + res.Code
		}
		e.appendLedger(world, a, decisionStr, map[string]any{
			"step_id": step.StepID,
			"success": res.Success,
		})
		return StepResult{
			StepID:     step.StepID,
			Success:    res.Success,
			Output:     res.Output,
			Error:      res.Error,
			GateReason: decision.Reason,
		}

	case action.KindMessageSend:
		payload, _ := a.PayloadMap()
		message, _ := payload["message"].(string)
		e.appendLedger(world, a, "allow", map[string]any{"step_id": step.StepID})
		return StepResult{
			StepID:     step.StepID,
			Success:    true,
			Output:     map[string]any{"message": message},
			GateReason: decision.Reason,
		}

	case action.KindMemoryWrite:
		payload, _ := a.PayloadMap()
		res := e.router.Route(ctx, "memory_store", payload, ec)
		decisionStr := "info:tool_result"
		if !res.Success {
			decisionStr = "error:" + res.Code
		}
		e.appendLedger(world, a, decisionStr, map[string]any{"step_id": step.StepID})
		return StepResult{
			StepID:     step.StepID,
			Success:    res.Success,
			Output:     res.Output,
			Error:      res.Error,
			GateReason: decision.Reason,
		}
	}

	return StepResult{
		StepID:     step.StepID,
		Success:    false,
		Error:      "unsupported action kind: " + string(a.Kind),
		GateReason: decision.Reason,
	}
}

// ExecutePlan runs ready steps until the plan finishes or fails.
func (e *Executor) ExecutePlan(ctx context.Context, plan *Plan, ec *tools.ExecutionContext, world action.WorldSnapshot) PlanResult {
	var results []StepResult
	completed, failed := 0, 0

	for {
		ready := plan.PendingSteps()
		if len(ready) == 0 {
			break
		}
		step := ready[0]
		step.Status = StatusInProgress

		res := e.ExecuteStep(ctx, step, ec, world)
		results = append(results, res)

		if res.Success {
			step.Status = StatusCompleted
			step.Result = res.Output
			completed++
			continue
		}
		step.Status = StatusFailed
		step.Error = res.Error
		failed++

		if e.StopOnFailure {
			for _, s := range plan.Steps {
				if s.Status == StatusPending {
					s.Status = StatusSkipped
				}
			}
			break
		}
	}

	errMsg := ""
	if len(results) > 0 && !results[len(results)-1].Success {
		errMsg = results[len(results)-1].Error
	}
	return PlanResult{
		PlanID:         plan.PlanID,
		Success:        failed == 0 && completed == len(plan.Steps),
		StepResults:    results,
		TotalSteps:     len(plan.Steps),
		CompletedSteps: completed,
		FailedSteps:    failed,
		Error:          errMsg,
	}
}
