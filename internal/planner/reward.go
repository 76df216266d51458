package planner

// Reward shaping for the strategy learner. Thompson sampling is only as
// good as the scalar it is fed, so every function here clamps to [-1, 1].

func clamp(r float64) float64 {
	return max(-1.0, min(1.0, r))
}

// RewardFromPlanResult scores a plan run: full success matters most,
// partial completion still counts, failed steps carry a bounded penalty.
func RewardFromPlanResult(result PlanResult) float64 {
	base := 0.0
	if result.Success {
		base = 1.0
	}
	penalty := min(1.0, 0.15*float64(result.FailedSteps))
	return clamp(base*0.7 + result.CompletionRate()*0.6 - penalty)
}

// RewardFromStepOutcomes scores raw step counts when no PlanResult is at
// hand. Denials waste a proposal but are cheaper than execution failures.
func RewardFromStepOutcomes(completed, failed, denied, total int) float64 {
	if total == 0 {
		return 0.0
	}
	t := float64(total)
	r := float64(completed)/t - 0.5*float64(failed)/t - 0.1*float64(denied)/t
	return clamp(r)
}

// TestCounts summarizes one test-suite run.
type TestCounts struct {
	Passed    bool `json:"passed"`
	Total     int  `json:"total"`
	PassedNum int  `json:"passed_tests"`
	FailedNum int  `json:"failed_tests"`
	ErrorNum  int  `json:"error_tests"`
	TimedOut  bool `json:"timed_out"`
}

// TestDelta is the change in test results across a patch.
type TestDelta struct {
	Baseline TestCounts `json:"baseline"`
	Patched  TestCounts `json:"patched"`
}

// Fixed counts tests that went from failing to passing.
func (d TestDelta) Fixed() int {
	return max(0, d.Patched.PassedNum-d.Baseline.PassedNum)
}

// Broken counts tests that went from passing to failing.
func (d TestDelta) Broken() int {
	return max(0, d.Baseline.PassedNum-d.Patched.PassedNum)
}

// NetChange is the signed change in passing tests.
func (d TestDelta) NetChange() int {
	return d.Patched.PassedNum - d.Baseline.PassedNum
}

// Improved reports a net gain without a timeout.
func (d TestDelta) Improved() bool {
	return d.NetChange() > 0 && !d.Patched.TimedOut
}

// Regression reports lost ground: fewer passing tests, or a previously
// green suite that is now red.
func (d TestDelta) Regression() bool {
	return d.NetChange() < 0 || (d.Baseline.Passed && !d.Patched.Passed)
}

// Reward maps the delta onto [-1, 1]: 1.0 for turning a red suite
// green, negative for regressions scaled by how much broke, partial
// credit for fixing some of the failures.
func (d TestDelta) Reward() float64 {
	if d.Baseline.Total == 0 {
		return 0.0
	}
	if d.Patched.Passed && !d.Baseline.Passed {
		return 1.0
	}
	if d.Regression() {
		return -0.5 - 0.5*(float64(d.Broken())/float64(max(1, d.Baseline.Total)))
	}
	if d.Improved() {
		return 0.5 * (float64(d.Fixed()) / float64(max(1, d.Baseline.FailedNum+d.Baseline.ErrorNum)))
	}
	return 0.0
}

// CombinedReward merges the plan reward and the test reward into one
// scalar, weighting tests higher. A nil component drops out and the
// weights renormalize over what remains.
func CombinedReward(plan *PlanResult, tests *TestDelta) float64 {
	const wPlan, wTest = 0.4, 0.6

	rPlan, rTest, totalWeight := 0.0, 0.0, 0.0
	if plan != nil {
		rPlan = RewardFromPlanResult(*plan)
		totalWeight += wPlan
	}
	if tests != nil {
		rTest = tests.Reward()
		totalWeight += wTest
	}
	if totalWeight == 0 {
		return 0.0
	}
	return clamp((rPlan*wPlan + rTest*wTest) / totalWeight)
}
