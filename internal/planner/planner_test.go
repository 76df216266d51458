package planner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cordon-ai/cordon/internal/action"
	"github.com/cordon-ai/cordon/internal/ledger"
	"github.com/cordon-ai/cordon/internal/policy"
	"github.com/cordon-ai/cordon/internal/tools"
)

func testWorld() action.WorldSnapshot {
	return action.WorldSnapshot{
		SessionID:      "sess-planner",
		WorldStateHash: "w0",
		SystemClean:    true,
	}
}

func newTestExecutor(t *testing.T, workdir string, pol *policy.Policy) (*Executor, *tools.ExecutionContext, *ledger.Ledger) {
	t.Helper()
	led, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	router := tools.NewRouter(tools.NewRegistry(false), &tools.Env{}, nil, zerolog.Nop())
	ec := tools.NewExecutionContext("sess-planner")
	ec.WorkingDirectory = workdir
	return NewExecutor(router, led, pol, zerolog.Nop()), ec, led
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func TestDecomposeRuleChain(t *testing.T) {
	t.Parallel()

	steps := Decompose("list the go files and then read and summarize them")
	require.Len(t, steps, 3)
	require.Empty(t, steps[0].DependsOn)
	require.Equal(t, []string{steps[0].StepID}, steps[1].DependsOn)
	require.Equal(t, []string{steps[1].StepID}, steps[2].DependsOn)
	require.Equal(t, action.KindToolCall, steps[0].Action.Kind)
	require.Equal(t, action.KindMessageSend, steps[2].Action.Kind)
}

func TestDecomposeDirectFallback(t *testing.T) {
	t.Parallel()

	steps := Decompose("read the project readme")
	require.Len(t, steps, 1)
	payload, ok := steps[0].Action.PayloadMap()
	require.True(t, ok)
	require.Equal(t, "read_file", payload["tool"])

	vague := Decompose("do the thing")
	require.Len(t, vague, 1)
	require.Equal(t, action.KindMessageSend, vague[0].Action.Kind)
}

func TestGeneratePlanSearchFirst(t *testing.T) {
	t.Parallel()

	world := testWorld()
	plan := GeneratePlan("summarize the repository layout", &world, StrategySearchFirst)
	require.Equal(t, StrategySearchFirst, plan.Strategy)
	require.GreaterOrEqual(t, len(plan.Steps), 2)

	explore := plan.Steps[0]
	payload, _ := explore.Action.PayloadMap()
	require.Equal(t, "list_dir", payload["tool"])
	for _, s := range plan.Steps[1:] {
		require.Contains(t, s.DependsOn, explore.StepID)
	}
	require.Equal(t, "sess-planner", plan.Metadata["context_session"])
}

func TestGeneratePlanAskUser(t *testing.T) {
	t.Parallel()

	plan := GeneratePlan("help me somehow", nil, StrategyAskUser)
	require.Len(t, plan.Steps, 1)
	require.Equal(t, action.KindMessageSend, plan.Steps[0].Action.Kind)
}

func TestSelectStrategy(t *testing.T) {
	t.Parallel()

	cases := map[string]Strategy{
		"list files and then read them": StrategyDecompose,
		"how do i configure this":       StrategyAskUser,
		"analyze the ledger format":     StrategySearchFirst,
		"print version":                 StrategyDirect,
	}
	for goal, want := range cases {
		require.Equal(t, want, SelectStrategy(goal), goal)
	}

	require.Equal(t, StrategyDecompose, ParseStrategy("decompose"))
	require.Equal(t, StrategyDirect, ParseStrategy("not-a-strategy"))
}

func TestExecutePlanSuccess(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "notes.txt"), []byte("hello"), 0o644))

	e, ec, led := newTestExecutor(t, workdir, policy.Dev())
	listStep := NewStep("list workdir", toolCall("list_dir", map[string]any{"path": "./"}, "Inspect the working directory"))
	doneStep := NewStep("report", messageSend("all files listed", "Report results to the user"), listStep.StepID)
	plan := NewPlan("list the workdir", []*PlanStep{listStep, doneStep}, StrategyDecompose, nil)

	result := e.ExecutePlan(context.Background(), plan, ec, testWorld())
	require.True(t, result.Success)
	require.Equal(t, 2, result.CompletedSteps)
	require.Zero(t, result.FailedSteps)
	require.InDelta(t, 1.0, result.CompletionRate(), 1e-9)
	require.True(t, plan.IsComplete())
	for _, sr := range result.StepResults {
		require.False(t, sr.Gated)
	}

	entries, err := led.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "info:tool_result", entries[0].Decision)
	require.Equal(t, "allow", entries[1].Decision)
}

func TestExecuteStepGateDeny(t *testing.T) {
	t.Parallel()

	e, ec, led := newTestExecutor(t, t.TempDir(), policy.Default())
	step := NewStep("write output",
		toolCall("write_file", map[string]any{"path": "./out.txt", "content": "x"}, "Write the output file"))

	res := e.ExecuteStep(context.Background(), step, ec, testWorld())
	require.False(t, res.Success)
	require.True(t, res.Gated)
	require.Contains(t, res.Error, "blocked by gate")

	entries, err := led.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Decision, "deny:")
}

func TestExecutePlanStopOnFailure(t *testing.T) {
	t.Parallel()

	e, ec, _ := newTestExecutor(t, t.TempDir(), policy.Dev())
	failing := NewStep("read missing file",
		toolCall("read_file", map[string]any{"path": "./missing.txt"}, "Read a file that does not exist"))
	never := NewStep("report", messageSend("done", "Report results"), failing.StepID)
	plan := NewPlan("doomed plan", []*PlanStep{failing, never}, StrategyDirect, nil)

	result := e.ExecutePlan(context.Background(), plan, ec, testWorld())
	require.False(t, result.Success)
	require.Equal(t, 1, result.FailedSteps)
	require.Equal(t, StatusFailed, failing.Status)
	require.Equal(t, StatusSkipped, never.Status)
	require.NotEmpty(t, result.Error)
}

func TestExecutePlanWithRollbackRestoresFile(t *testing.T) {
	t.Parallel()
	requireGit(t)

	workdir := t.TempDir()
	target := filepath.Join(workdir, "x.txt")
	require.NoError(t, os.WriteFile(target, []byte("A"), 0o644))

	e, ec, led := newTestExecutor(t, workdir, policy.Dev())
	ec.Permissions.Grant("write_file")

	write := NewStep("overwrite x.txt",
		toolCall("write_file", map[string]any{"path": "./x.txt", "content": "B"}, "Overwrite the tracked file"))
	fail := NewStep("read missing file",
		toolCall("read_file", map[string]any{"path": "./missing.txt"}, "Read a file that does not exist"), write.StepID)
	plan := NewPlan("mutate then fail", []*PlanStep{write, fail}, StrategyDirect, nil)

	result := e.ExecutePlanWithRollback(context.Background(), plan, ec, testWorld(), DefaultRollbackConfig())
	require.False(t, result.Success)
	require.True(t, result.RolledBack)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "A", string(data))

	entries, err := led.ReadAll()
	require.NoError(t, err)
	var rollback *ledger.Entry
	for i := range entries {
		if entries[i].Decision == "info:planner_rollback" {
			rollback = &entries[i]
		}
	}
	require.NotNil(t, rollback)
	act, ok := rollback.Payload["action"].(map[string]any)
	require.True(t, ok)
	payload, ok := act["payload"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, payload["ok"])
}

func TestExecutePlanWithRollbackRemovesUntracked(t *testing.T) {
	t.Parallel()
	requireGit(t)

	workdir := t.TempDir()
	e, ec, _ := newTestExecutor(t, workdir, policy.Dev())
	ec.Permissions.Grant("write_file")

	create := NewStep("create y.txt",
		toolCall("write_file", map[string]any{"path": "./y.txt", "content": "scratch"}, "Create a scratch file"))
	fail := NewStep("read missing file",
		toolCall("read_file", map[string]any{"path": "./missing.txt"}, "Read a file that does not exist"), create.StepID)
	plan := NewPlan("create then fail", []*PlanStep{create, fail}, StrategyDirect, nil)

	result := e.ExecutePlanWithRollback(context.Background(), plan, ec, testWorld(), DefaultRollbackConfig())
	require.True(t, result.RolledBack)
	_, err := os.Stat(filepath.Join(workdir, "y.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestExecutePlanWithRollbackSuccessKeepsChanges(t *testing.T) {
	t.Parallel()
	requireGit(t)

	workdir := t.TempDir()
	e, ec, _ := newTestExecutor(t, workdir, policy.Dev())
	ec.Permissions.Grant("write_file")

	write := NewStep("create out.txt",
		toolCall("write_file", map[string]any{"path": "./out.txt", "content": "kept"}, "Write the plan output"))
	plan := NewPlan("single write", []*PlanStep{write}, StrategyDirect, nil)

	result := e.ExecutePlanWithRollback(context.Background(), plan, ec, testWorld(), DefaultRollbackConfig())
	require.True(t, result.Success)
	require.False(t, result.RolledBack)

	data, err := os.ReadFile(filepath.Join(workdir, "out.txt"))
	require.NoError(t, err)
	require.Equal(t, "kept", string(data))
}

func TestRewardFromPlanResult(t *testing.T) {
	t.Parallel()

	full := PlanResult{Success: true, TotalSteps: 3, CompletedSteps: 3}
	require.InDelta(t, 1.0, RewardFromPlanResult(full), 1e-9)

	partial := PlanResult{Success: false, TotalSteps: 4, CompletedSteps: 2, FailedSteps: 1}
	// 0*0.7 + 0.5*0.6 - 0.15
	require.InDelta(t, 0.15, RewardFromPlanResult(partial), 1e-9)

	disaster := PlanResult{Success: false, TotalSteps: 10, CompletedSteps: 0, FailedSteps: 10}
	require.InDelta(t, -1.0, RewardFromPlanResult(disaster), 1e-9)
}

func TestRewardFromStepOutcomes(t *testing.T) {
	t.Parallel()

	require.Zero(t, RewardFromStepOutcomes(0, 0, 0, 0))
	require.InDelta(t, 1.0, RewardFromStepOutcomes(4, 0, 0, 4), 1e-9)
	// 0.5 - 0.5*0.25 - 0.1*0.25
	require.InDelta(t, 0.35, RewardFromStepOutcomes(2, 1, 1, 4), 1e-9)
}

func TestTestDeltaReward(t *testing.T) {
	t.Parallel()

	fullFix := TestDelta{
		Baseline: TestCounts{Passed: false, Total: 5, PassedNum: 2, FailedNum: 3},
		Patched:  TestCounts{Passed: true, Total: 5, PassedNum: 5},
	}
	require.InDelta(t, 1.0, fullFix.Reward(), 1e-9)

	regression := TestDelta{
		Baseline: TestCounts{Passed: true, Total: 4, PassedNum: 4},
		Patched:  TestCounts{Passed: false, Total: 4, PassedNum: 2, FailedNum: 2},
	}
	require.True(t, regression.Regression())
	// -0.5 - 0.5*(2/4)
	require.InDelta(t, -0.75, regression.Reward(), 1e-9)

	improvement := TestDelta{
		Baseline: TestCounts{Passed: false, Total: 6, PassedNum: 2, FailedNum: 4},
		Patched:  TestCounts{Passed: false, Total: 6, PassedNum: 4, FailedNum: 2},
	}
	require.True(t, improvement.Improved())
	// 0.5 * (2/4)
	require.InDelta(t, 0.25, improvement.Reward(), 1e-9)

	noTests := TestDelta{}
	require.Zero(t, noTests.Reward())
}

func TestCombinedReward(t *testing.T) {
	t.Parallel()

	require.Zero(t, CombinedReward(nil, nil))

	full := PlanResult{Success: true, TotalSteps: 2, CompletedSteps: 2}
	require.InDelta(t, 1.0, CombinedReward(&full, nil), 1e-9)

	delta := TestDelta{
		Baseline: TestCounts{Passed: false, Total: 2, PassedNum: 0, FailedNum: 2},
		Patched:  TestCounts{Passed: true, Total: 2, PassedNum: 2},
	}
	// (1.0*0.4 + 1.0*0.6) / 1.0
	require.InDelta(t, 1.0, CombinedReward(&full, &delta), 1e-9)

	zero := PlanResult{Success: false, TotalSteps: 1, CompletedSteps: 0}
	// (0.0*0.4 + 1.0*0.6) / 1.0
	require.InDelta(t, 0.6, CombinedReward(&zero, &delta), 1e-9)
}
