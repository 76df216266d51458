package bandit

import (
	"context"
	"fmt"
	"strings"

	"github.com/cordon-ai/cordon/internal/outcome"
)

// ContextKeyFromGoal normalizes free-form goal text to the learning
// context it aggregates under.
func ContextKeyFromGoal(goal string) string {
	g := strings.ToLower(goal)
	switch {
	case containsAny(g, "list", "show", "find"):
		return "goal::list_find"
	case containsAny(g, "read", "analyze", "summarize"):
		return "goal::read_analyze"
	case containsAny(g, "create", "write", "make"):
		return "goal::create_write"
	case containsAny(g, "search", "look for"):
		return "goal::search"
	}
	return "goal::general"
}

// ContextKeyFromTask builds a context key for benchmark-style tasks.
func ContextKeyFromTask(benchmark, taskID string) string {
	if benchmark == "" {
		benchmark = "unknown"
	}
	if taskID == "" {
		taskID = "unknown"
	}
	return benchmark + "::" + taskID
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// MultiArmSelection is one arm chosen per category for a context.
type MultiArmSelection struct {
	ContextKey string
	Seed       int64
	Arms       map[Category]Arm
}

// Learner selects arms per category from outcome history and records
// rewards back, one outcome row per category so the context dimension
// stays independent across arms.
type Learner struct {
	store     *outcome.Store
	algorithm Algorithm
}

// NewLearner creates a learner over the outcome store.
func NewLearner(store *outcome.Store, algorithm Algorithm) *Learner {
	if algorithm == "" {
		algorithm = Thompson
	}
	return &Learner{store: store, algorithm: algorithm}
}

func (l *Learner) statsFor(ctx context.Context, contextKey string) ([]ArmStats, error) {
	summary, err := l.store.Summary(ctx, contextKey)
	if err != nil {
		return nil, err
	}
	stats := make([]ArmStats, 0, len(summary))
	for _, s := range summary {
		stats = append(stats, ArmStats{ArmKey: s.ArmKey, N: s.N, Mean: s.Mean})
	}
	return stats, nil
}

// SelectArm chooses one arm within a category for the context.
func (l *Learner) SelectArm(ctx context.Context, category Category, contextKey string, seed int64) (Arm, error) {
	arms := Arms(category)
	if len(arms) == 0 {
		return Arm{}, fmt.Errorf("bandit: no arms for category %q", category)
	}
	stats, err := l.statsFor(ctx, contextKey)
	if err != nil {
		return Arm{}, err
	}
	keys := make([]string, len(arms))
	for i, a := range arms {
		keys[i] = a.Key
	}
	key, err := Select(l.algorithm, keys, stats, seed, SelectOptions{})
	if err != nil {
		return Arm{}, err
	}
	for _, a := range arms {
		if a.Key == key {
			return a, nil
		}
	}
	return arms[0], nil
}

// SelectAll independently chooses one arm per category, offsetting the
// seed per category to decorrelate the draws.
func (l *Learner) SelectAll(ctx context.Context, contextKey string, seed int64) (MultiArmSelection, error) {
	sel := MultiArmSelection{ContextKey: contextKey, Seed: seed, Arms: map[Category]Arm{}}
	for i, c := range Categories {
		arm, err := l.SelectArm(ctx, c, contextKey, seed+int64(i))
		if err != nil {
			return MultiArmSelection{}, err
		}
		sel.Arms[c] = arm
	}
	return sel, nil
}

// SelectStrategy picks a planning strategy for a goal. The returned name
// is the arm key without its category prefix.
func (l *Learner) SelectStrategy(ctx context.Context, goal string, seed int64) (string, error) {
	arm, err := l.SelectArm(ctx, CategoryPlan, ContextKeyFromGoal(goal), seed)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(arm.Key, "plan::"), nil
}

// Record writes one outcome per selected category.
func (l *Learner) Record(ctx context.Context, sel MultiArmSelection, reward float64, meta map[string]any) error {
	for _, c := range Categories {
		arm, ok := sel.Arms[c]
		if !ok {
			continue
		}
		armMeta := map[string]any{"category": string(c)}
		if arm.Config != nil {
			armMeta["config"] = arm.Config
		}
		for k, v := range meta {
			armMeta[k] = v
		}
		if err := l.store.Record(ctx, sel.ContextKey, arm.Key, reward, armMeta); err != nil {
			return err
		}
	}
	return nil
}

// RecordRich writes one rich outcome per selected category with the same
// execution metrics attached to each.
func (l *Learner) RecordRich(ctx context.Context, sel MultiArmSelection, rich outcome.Rich) error {
	for _, c := range Categories {
		arm, ok := sel.Arms[c]
		if !ok {
			continue
		}
		r := rich
		r.ContextKey = sel.ContextKey
		r.ArmKey = arm.Key
		r.Seed = sel.Seed
		if err := l.store.RecordRich(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// RecordStrategy writes a single plan-strategy outcome for a goal.
func (l *Learner) RecordStrategy(ctx context.Context, goal, strategy string, reward float64, meta map[string]any) error {
	return l.store.Record(ctx, ContextKeyFromGoal(goal), "plan::"+strategy, reward, meta)
}
