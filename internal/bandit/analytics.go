package bandit

import (
	"context"
	"math"
	"sort"

	"github.com/cordon-ai/cordon/internal/outcome"
)

// ArmPerformance is one arm's aggregate standing.
type ArmPerformance struct {
	ArmKey     string  `json:"arm_key"`
	Count      int     `json:"count"`
	MeanReward float64 `json:"mean_reward"`
	MinReward  float64 `json:"min_reward"`
	MaxReward  float64 `json:"max_reward"`
	StdDev     float64 `json:"std_dev"`
}

// ConfidenceInterval returns the 95% interval around the mean.
func (a ArmPerformance) ConfidenceInterval() (float64, float64) {
	if a.Count < 2 {
		return a.MeanReward, a.MeanReward
	}
	margin := 1.96 * a.StdDev / math.Sqrt(float64(a.Count))
	return a.MeanReward - margin, a.MeanReward + margin
}

// LearningCurve is the reward trajectory of an experiment.
type LearningCurve struct {
	ArmKey       string               `json:"arm_key,omitempty"`
	Points       []outcome.CurvePoint `json:"points"`
	TotalRewards float64              `json:"total_rewards"`
	TotalCount   int                  `json:"total_count"`
}

// FinalMean is the cumulative mean after the last point.
func (c LearningCurve) FinalMean() float64 {
	if c.TotalCount == 0 {
		return 0
	}
	return c.TotalRewards / float64(c.TotalCount)
}

// IsConverged reports whether the cumulative mean has settled: variance
// below threshold over the trailing window.
func (c LearningCurve) IsConverged(threshold float64, window int) bool {
	if window <= 0 {
		window = 20
	}
	if len(c.Points) < window {
		return false
	}
	recent := c.Points[len(c.Points)-window:]
	mean := 0.0
	for _, p := range recent {
		mean += p.CumulativeMean
	}
	mean /= float64(len(recent))
	variance := 0.0
	for _, p := range recent {
		d := p.CumulativeMean - mean
		variance += d * d
	}
	variance /= float64(len(recent))
	return variance < threshold
}

// ExperimentSummary aggregates an entire learning run.
type ExperimentSummary struct {
	TotalTrials     int              `json:"total_trials"`
	UniqueArms      int              `json:"unique_arms"`
	BestArm         string           `json:"best_arm"`
	BestMean        float64          `json:"best_mean"`
	WorstArm        string           `json:"worst_arm"`
	WorstMean       float64          `json:"worst_mean"`
	EstimatedRegret float64          `json:"estimated_regret"`
	Arms            []ArmPerformance `json:"arms"`
}

// Analytics reads aggregate learning views from the outcome store.
type Analytics struct {
	store *outcome.Store
}

// NewAnalytics creates an analytics reader over the outcome store.
func NewAnalytics(store *outcome.Store) *Analytics {
	return &Analytics{store: store}
}

// ArmRankings returns arms ordered by mean reward, best first.
func (a *Analytics) ArmRankings(ctx context.Context, limit int) ([]ArmPerformance, error) {
	perf, err := a.store.ArmPerformance(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ArmPerformance, 0, len(perf))
	for key, p := range perf {
		out = append(out, ArmPerformance{
			ArmKey:     key,
			Count:      p.Count,
			MeanReward: p.Mean,
			MinReward:  p.Min,
			MaxReward:  p.Max,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MeanReward != out[j].MeanReward {
			return out[i].MeanReward > out[j].MeanReward
		}
		return out[i].ArmKey < out[j].ArmKey
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Curve builds a learning curve, optionally filtered by arm or task.
func (a *Analytics) Curve(ctx context.Context, armKey, taskID string, window int) (LearningCurve, error) {
	points, err := a.store.LearningCurve(ctx, armKey, taskID, window)
	if err != nil {
		return LearningCurve{}, err
	}
	total := 0.0
	for _, p := range points {
		total += p.CumulativeMean
	}
	return LearningCurve{
		ArmKey:       armKey,
		Points:       points,
		TotalRewards: total,
		TotalCount:   len(points),
	}, nil
}

// Summary builds the experiment-level view including estimated regret.
func (a *Analytics) Summary(ctx context.Context) (ExperimentSummary, error) {
	rankings, err := a.ArmRankings(ctx, 0)
	if err != nil {
		return ExperimentSummary{}, err
	}
	if len(rankings) == 0 {
		return ExperimentSummary{}, nil
	}

	total := 0
	stats := make([]ArmStats, 0, len(rankings))
	for _, r := range rankings {
		total += r.Count
		stats = append(stats, ArmStats{ArmKey: r.ArmKey, N: r.Count, Mean: r.MeanReward})
	}

	return ExperimentSummary{
		TotalTrials:     total,
		UniqueArms:      len(rankings),
		BestArm:         rankings[0].ArmKey,
		BestMean:        rankings[0].MeanReward,
		WorstArm:        rankings[len(rankings)-1].ArmKey,
		WorstMean:       rankings[len(rankings)-1].MeanReward,
		EstimatedRegret: EstimateRegret(stats),
		Arms:            rankings,
	}, nil
}
