package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cordon-ai/cordon/internal/action"
	"github.com/cordon-ai/cordon/internal/bandit"
	"github.com/cordon-ai/cordon/internal/checkpoint"
	"github.com/cordon-ai/cordon/internal/fshash"
	"github.com/cordon-ai/cordon/internal/ledger"
	"github.com/cordon-ai/cordon/internal/memstore"
	"github.com/cordon-ai/cordon/internal/outcome"
	"github.com/cordon-ai/cordon/internal/planner"
	"github.com/cordon-ai/cordon/internal/tools"
)

func planCmd() *cobra.Command {
	var strategyName string
	var noRollback bool
	var seed int64
	cmd := &cobra.Command{
		Use:          "plan <goal>",
		Short:        "Decompose a goal into gated steps and execute them",
		Long:         "Decompose a goal into a step graph, run every step through the gate and router, and roll the working tree back on failure. The strategy is picked by the learner unless --strategy overrides it.",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := args[0]
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pol, err := cfg.ResolvePolicy()
			if err != nil {
				return err
			}
			dir, err := stateDir(cfg)
			if err != nil {
				return err
			}
			storeDB, memPath, closeFn, err := openMemoryDB(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			planID := uuid.NewString()[:8]
			led, err := ledger.Open(filepath.Join(dir, "plan_"+planID+".jsonl"))
			if err != nil {
				return err
			}

			env := &tools.Env{Memory: memstore.New(storeDB), DevMode: cfg.DevMode()}
			router := tools.NewRouter(tools.NewRegistry(cfg.DevMode()), env, nil, log.Logger)
			ec := tools.NewExecutionContext(planID)
			ec.WorkingDirectory = cfg.Paths.WorkingDirectory
			ec.MemoryDBPath = memPath

			learner := bandit.NewLearner(outcome.New(storeDB), bandit.Thompson)
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			strategy := planner.ParseStrategy(strategyName)
			if strategyName == "" || strategyName == "auto" {
				picked, err := learner.SelectStrategy(cmd.Context(), goal, seed)
				if err != nil {
					return err
				}
				strategy = planner.ParseStrategy(picked)
			}

			world := action.WorldSnapshot{SessionID: planID, SystemClean: true}
			if sum, err := fshash.TreeHash(ec.WorkingDirectory, fshash.DefaultIgnorePatterns); err == nil {
				world.WorldStateHash = sum
			} else {
				log.Warn().Err(err).Msg("workdir tree hash failed")
			}
			plan := planner.GeneratePlan(goal, &world, strategy)
			exec := planner.NewExecutor(router, led, pol, log.Logger)

			rc := planner.DefaultRollbackConfig()
			rc.Enabled = cfg.Planner.Rollback && !noRollback
			if cfg.Planner.KeepSnapshots > 0 {
				rc.KeepSnapshots = cfg.Planner.KeepSnapshots
			}
			rc.SQLiteTargets = []checkpoint.SQLiteTarget{{Name: "memory", Path: memPath}}

			result := exec.ExecutePlanWithRollback(cmd.Context(), plan, ec, world, rc)

			reward := planner.RewardFromPlanResult(result)
			if err := learner.RecordStrategy(cmd.Context(), goal, string(strategy), reward,
				map[string]any{"plan_id": plan.PlanID}); err != nil {
				log.Warn().Err(err).Msg("record strategy outcome failed")
			}

			if err := printJSON(cmd, result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "strategy=%s reward=%+.3f\n", strategy, reward)

			if !result.Success {
				for _, sr := range result.StepResults {
					if sr.Gated {
						return errGateDenied
					}
				}
				return fmt.Errorf("plan failed: %s", result.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&strategyName, "strategy", "auto", "plan strategy: auto, direct, decompose, search_first, ask_user")
	cmd.Flags().BoolVar(&noRollback, "no-rollback", false, "skip checkpointing and rollback")
	cmd.Flags().Int64Var(&seed, "seed", 0, "strategy selection seed (0 = time-based)")
	return cmd
}
