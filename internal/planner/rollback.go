package planner

import (
	"context"

	"github.com/cordon-ai/cordon/internal/action"
	"github.com/cordon-ai/cordon/internal/checkpoint"
	"github.com/cordon-ai/cordon/internal/tools"
)

// irreversibleTools mutate state outside the workdir (the memory
// database); git rollback cannot undo them, so failures only produce a
// note event.
var irreversibleTools = map[string]bool{
	"memory_store":  true,
	"memory_delete": true,
}

// RollbackConfig controls checkpointing around plan execution.
type RollbackConfig struct {
	Enabled bool
	// SQLiteTargets are database files snapshotted alongside each git
	// checkpoint and restored on rollback.
	SQLiteTargets []checkpoint.SQLiteTarget
	// KeepSnapshots bounds on-disk snapshot copies per target.
	KeepSnapshots int
}

// DefaultRollbackConfig enables rollback with no database targets.
func DefaultRollbackConfig() RollbackConfig {
	return RollbackConfig{Enabled: true, KeepSnapshots: 5}
}

func (e *Executor) stepMutates(step *PlanStep) (tool string, mutates bool) {
	a := step.Action
	switch a.Kind {
	case action.KindMemoryWrite:
		return "memory_store", true
	case action.KindToolCall:
		payload, _ := a.PayloadMap()
		name, _ := payload["tool"].(string)
		spec, ok := e.router.Registry().Get(name)
		if !ok {
			return name, false
		}
		return name, spec.Permission.Mutates
	}
	return "", false
}

func (e *Executor) appendEvent(world action.WorldSnapshot, event string, payload map[string]any) {
	if e.ledger == nil {
		return
	}
	p := map[string]any{"event": event}
	for k, v := range payload {
		p[k] = v
	}
	if _, err := e.ledger.AppendInfo(world, action.KindEvent, p, "info:"+event, nil); err != nil {
		e.log.Warn().Err(err).Str("event", event).Msg("ledger event append failed")
	}
}

// ExecutePlanWithRollback runs the plan under git checkpoints: a
// plan_start commit before anything executes, another commit before
// each mutating reversible step, and on failure a hard reset to the
// last checkpoint plus restoration of any SQLite snapshots.
func (e *Executor) ExecutePlanWithRollback(ctx context.Context, plan *Plan, ec *tools.ExecutionContext, world action.WorldSnapshot, cfg RollbackConfig) PlanResult {
	if !cfg.Enabled {
		return e.ExecutePlan(ctx, plan, ec, world)
	}

	wd := ec.WorkingDirectory
	if err := checkpoint.EnsureRepo(ctx, wd); err != nil {
		e.log.Warn().Err(err).Msg("checkpoint repo unavailable, executing without rollback")
		return e.ExecutePlan(ctx, plan, ec, world)
	}

	startCommit, err := checkpoint.Commit(ctx, wd, "plan_start:"+plan.PlanID)
	if err != nil {
		e.log.Warn().Err(err).Msg("plan_start checkpoint failed, executing without rollback")
		return e.ExecutePlan(ctx, plan, ec, world)
	}
	lastCheckpoint := startCommit
	snapID := plan.PlanID
	if _, err := checkpoint.SnapshotSQLite(wd, cfg.SQLiteTargets, snapID); err != nil {
		e.log.Warn().Err(err).Msg("sqlite snapshot failed")
	}
	e.appendEvent(world, "planner_checkpoint", map[string]any{
		"plan_id": plan.PlanID,
		"commit":  startCommit,
		"label":   "plan_start",
	})

	var results []StepResult
	completed, failed := 0, 0
	mutatedIrreversibly := false

	for {
		ready := plan.PendingSteps()
		if len(ready) == 0 {
			break
		}
		step := ready[0]

		if tool, mutates := e.stepMutates(step); mutates {
			if irreversibleTools[tool] {
				mutatedIrreversibly = true
			} else {
				if commit, err := checkpoint.Commit(ctx, wd, "pre_step:"+step.StepID); err == nil {
					lastCheckpoint = commit
					if _, err := checkpoint.SnapshotSQLite(wd, cfg.SQLiteTargets, snapID); err != nil {
						e.log.Warn().Err(err).Msg("sqlite snapshot failed")
					}
				} else {
					e.log.Warn().Err(err).Str("step_id", step.StepID).Msg("step checkpoint failed")
				}
			}
		}

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
	result := PlanResult{
		PlanID:         plan.PlanID,
		Success:        failed == 0 && completed == len(plan.Steps),
		StepResults:    results,
		TotalSteps:     len(plan.Steps),
		CompletedSteps: completed,
		FailedSteps:    failed,
		Error:          errMsg,
	}

	if !result.Success {
		ok := true
		if err := checkpoint.ResetHard(ctx, wd, lastCheckpoint); err != nil {
			ok = false
			e.log.Error().Err(err).Str("commit", lastCheckpoint).Msg("rollback reset failed")
		}
		if err := checkpoint.RestoreSQLite(wd, cfg.SQLiteTargets, snapID); err != nil {
			ok = false
			e.log.Error().Err(err).Msg("sqlite restore failed")
		}
		result.RolledBack = ok
		e.appendEvent(world, "planner_rollback", map[string]any{
			"plan_id":    plan.PlanID,
			"ok":         ok,
			"checkpoint": lastCheckpoint,
		})
		if mutatedIrreversibly {
			e.appendEvent(world, "planner_irreversible", map[string]any{
				"plan_id": plan.PlanID,
				"note":    "memory mutations were not rolled back",
			})
		}
	}

	checkpoint.CleanupSnapshots(wd, cfg.SQLiteTargets, max(cfg.KeepSnapshots, 1))
	return result
}
