package bandit

import (
	"testing"
)

func TestThompsonDeterministicPerSeed(t *testing.T) {
	t.Parallel()

	candidates := []string{"a", "b", "c"}
	first := ThompsonSelect(candidates, nil, 42)
	second := ThompsonSelect(candidates, nil, 42)
	if first != second {
		t.Fatalf("same seed gave %q then %q", first, second)
	}

	seen := map[string]bool{}
	for seed := int64(0); seed < 50; seed++ {
		seen[ThompsonSelect(candidates, nil, seed)] = true
	}
	if len(seen) < 2 {
		t.Fatal("different seeds should be able to pick different arms")
	}
}

func TestThompsonConvergesOnDominantArm(t *testing.T) {
	t.Parallel()

	candidates := []string{"good", "meh", "bad"}
	stats := []ArmStats{
		{ArmKey: "good", N: 100, Mean: 0.9},
		{ArmKey: "meh", N: 100, Mean: 0.5},
		{ArmKey: "bad", N: 100, Mean: 0.1},
	}

	wins := 0
	const seeds = 20
	for seed := int64(0); seed < seeds; seed++ {
		if ThompsonSelect(candidates, stats, seed) == "good" {
			wins++
		}
	}
	if wins*2 <= seeds {
		t.Fatalf("dominant arm won only %d/%d", wins, seeds)
	}
}

func TestUCBReturnsUnexploredArmFirst(t *testing.T) {
	t.Parallel()

	stats := []ArmStats{
		{ArmKey: "a", N: 10, Mean: 0.9},
	}
	if got := UCBSelect([]string{"a", "fresh"}, stats, 0, 2); got != "fresh" {
		t.Fatalf("got %q, want the unexplored arm", got)
	}
}

func TestUCBPrefersUnderexploredAmongObserved(t *testing.T) {
	t.Parallel()

	// Equal means: the arm with fewer pulls has the larger bonus.
	stats := []ArmStats{
		{ArmKey: "a", N: 100, Mean: 0.5},
		{ArmKey: "b", N: 2, Mean: 0.5},
	}
	if got := UCBSelect([]string{"a", "b"}, stats, 0, 2); got != "b" {
		t.Fatalf("got %q, want b", got)
	}
}

func TestEpsilonGreedyExploitsAtZeroEpsilon(t *testing.T) {
	t.Parallel()

	stats := []ArmStats{
		{ArmKey: "a", N: 5, Mean: 0.2},
		{ArmKey: "b", N: 5, Mean: 0.8},
	}
	for seed := int64(0); seed < 10; seed++ {
		if got := EpsilonGreedySelect([]string{"a", "b"}, stats, 0, seed); got != "b" {
			t.Fatalf("seed %d picked %q", seed, got)
		}
	}
}

func TestSelectRejectsUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	if _, err := Select("oracle", []string{"a"}, nil, 0, SelectOptions{}); err == nil {
		t.Fatal("unknown algorithm should fail")
	}
}

func TestRegretIdentities(t *testing.T) {
	t.Parallel()

	if r := EstimateRegret(nil); r != 0 {
		t.Fatalf("empty stats regret = %v", r)
	}

	// Optimal allocation: everything on the best arm.
	optimal := []ArmStats{
		{ArmKey: "best", N: 100, Mean: 0.9},
		{ArmKey: "worst", N: 0, Mean: 0.1},
	}
	if r := EstimateRegret(optimal); r != 0 {
		t.Fatalf("optimal allocation regret = %v, want 0", r)
	}

	// Adversarial allocation: everything on the worst arm.
	adversarial := []ArmStats{
		{ArmKey: "best", N: 0, Mean: 0.9},
		{ArmKey: "worst", N: 100, Mean: 0.1},
	}
	want := (0.9 - 0.1) * 100
	if r := EstimateRegret(adversarial); r < want-1e-9 || r > want+1e-9 {
		t.Fatalf("adversarial regret = %v, want %v", r, want)
	}
}

func TestArmCatalog(t *testing.T) {
	t.Parallel()

	arm, ok := GetArm("plan::decompose")
	if !ok || arm.Category != CategoryPlan {
		t.Fatalf("GetArm = %+v %v", arm, ok)
	}
	if _, ok := GetArm("plan::teleport"); ok {
		t.Fatal("unknown key should miss")
	}

	for _, c := range Categories {
		arms := Arms(c)
		if len(arms) == 0 {
			t.Fatalf("category %s has no arms", c)
		}
		for _, a := range arms {
			if a.Category != c {
				t.Fatalf("arm %s filed under %s", a.Key, c)
			}
		}
	}
	if len(AllArms()) == 0 {
		t.Fatal("catalog empty")
	}
}

func TestContextKeyFromGoal(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"List the files and summarize them": "goal::list_find",
		"Analyze this log":                  "goal::read_analyze",
		"Create a config file":              "goal::create_write",
		"look for TODOs":                    "goal::search",
		"do something else":                 "goal::general",
	}
	for goal, want := range cases {
		if got := ContextKeyFromGoal(goal); got != want {
			t.Errorf("ContextKeyFromGoal(%q) = %q, want %q", goal, got, want)
		}
	}
}
