// Package bandit implements the multi-armed bandit the kernel learns
// strategies with: the arm catalog, seeded selection algorithms, regret
// estimation, the multi-arm learner, and learning analytics.
package bandit

import (
	"fmt"
	"math"
	"math/rand"
)

// Algorithm names a selection strategy.
type Algorithm string

const (
	Thompson      Algorithm = "thompson"
	UCB1          Algorithm = "ucb1"
	EpsilonGreedy Algorithm = "epsilon_greedy"
)

// ArmStats is the observed history of one arm.
type ArmStats struct {
	ArmKey   string
	N        int
	Mean     float64
	Variance float64
}

func statsByKey(stats []ArmStats) map[string]ArmStats {
	m := make(map[string]ArmStats, len(stats))
	for _, s := range stats {
		m[s.ArmKey] = s
	}
	return m
}

// ThompsonSelect samples each candidate from Normal(mean, 1/sqrt(max(1,n)))
// and returns the arg-max. Unknown candidates sample around zero with unit
// deviation, which keeps them in the running until observed. The seed makes
// selection deterministic.
func ThompsonSelect(candidates []string, stats []ArmStats, seed int64) string {
	if len(candidates) == 0 {
		return ""
	}
	rng := rand.New(rand.NewSource(seed))
	byKey := statsByKey(stats)

	best := ""
	bestSample := math.Inf(-1)
	for _, k := range candidates {
		mu, n := 0.0, 0
		if s, ok := byKey[k]; ok {
			mu, n = s.Mean, s.N
		}
		sigma := 1.0 / math.Sqrt(math.Max(1, float64(n)))
		sample := rng.NormFloat64()*sigma + mu
		if sample > bestSample {
			bestSample = sample
			best = k
		}
	}
	return best
}

// UCBSelect implements UCB1: any unexplored candidate wins immediately;
// otherwise the arg-max of mean + c*sqrt(ln(total)/n). c defaults to 2
// when non-positive.
func UCBSelect(candidates []string, stats []ArmStats, totalPulls int, c float64) string {
	if len(candidates) == 0 {
		return ""
	}
	if c <= 0 {
		c = 2.0
	}
	byKey := statsByKey(stats)
	if totalPulls == 0 {
		for _, s := range stats {
			totalPulls += s.N
		}
		if totalPulls == 0 {
			totalPulls = 1
		}
	}

	best := ""
	bestScore := math.Inf(-1)
	for _, k := range candidates {
		s, ok := byKey[k]
		if !ok || s.N == 0 {
			return k
		}
		score := s.Mean + c*math.Sqrt(math.Log(float64(totalPulls))/float64(s.N))
		if score > bestScore {
			bestScore = score
			best = k
		}
	}
	return best
}

// EpsilonGreedySelect explores uniformly with probability epsilon and
// exploits the best observed mean otherwise.
func EpsilonGreedySelect(candidates []string, stats []ArmStats, epsilon float64, seed int64) string {
	if len(candidates) == 0 {
		return ""
	}
	rng := rand.New(rand.NewSource(seed))
	if rng.Float64() < epsilon {
		return candidates[rng.Intn(len(candidates))]
	}

	byKey := statsByKey(stats)
	best := candidates[0]
	bestMean := math.Inf(-1)
	for _, k := range candidates {
		mean := 0.0
		if s, ok := byKey[k]; ok {
			mean = s.Mean
		}
		if mean > bestMean {
			bestMean = mean
			best = k
		}
	}
	return best
}

// SelectOptions carry algorithm-specific knobs for Select.
type SelectOptions struct {
	Epsilon    float64
	C          float64
	TotalPulls int
}

// Select dispatches to the named algorithm.
func Select(algorithm Algorithm, candidates []string, stats []ArmStats, seed int64, opts SelectOptions) (string, error) {
	switch algorithm {
	case Thompson, "":
		return ThompsonSelect(candidates, stats, seed), nil
	case UCB1:
		return UCBSelect(candidates, stats, opts.TotalPulls, opts.C), nil
	case EpsilonGreedy:
		eps := opts.Epsilon
		if eps == 0 {
			eps = 0.1
		}
		return EpsilonGreedySelect(candidates, stats, eps, seed), nil
	}
	return "", fmt.Errorf("bandit: unknown algorithm %q", algorithm)
}

// EstimateRegret returns sum((best_mean - arm_mean) * n) over the stats.
func EstimateRegret(stats []ArmStats) float64 {
	if len(stats) == 0 {
		return 0
	}
	best := math.Inf(-1)
	for _, s := range stats {
		if s.Mean > best {
			best = s.Mean
		}
	}
	regret := 0.0
	for _, s := range stats {
		regret += (best - s.Mean) * float64(s.N)
	}
	return regret
}
