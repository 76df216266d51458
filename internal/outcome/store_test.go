package outcome

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/cordon-ai/cordon/internal/db"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	sqldb, err := db.Open(filepath.Join(t.TempDir(), "outcomes.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { sqldb.Close() })
	return New(sqldb)
}

func TestRecordAndSummary(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	for _, r := range []float64{1.0, 0.5, 0.0} {
		if err := s.Record(ctx, "goal::search", "plan::direct", r, nil); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := s.Record(ctx, "goal::search", "plan::decompose", -0.5, map[string]any{"note": "x"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(ctx, "goal::general", "plan::direct", 1.0, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	summary, err := s.Summary(ctx, "goal::search")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(summary) != 2 {
		t.Fatalf("len = %d, want 2", len(summary))
	}
	// Ordered by arm key: decompose then direct.
	if summary[0].ArmKey != "plan::decompose" || summary[0].N != 1 {
		t.Fatalf("first = %+v", summary[0])
	}
	if summary[1].ArmKey != "plan::direct" || summary[1].N != 3 || math.Abs(summary[1].Mean-0.5) > 1e-9 {
		t.Fatalf("second = %+v", summary[1])
	}
}

func TestRecordRichFeedsAggregates(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	if err := s.RecordRich(ctx, Rich{
		ContextKey:  "swe::task-1",
		ArmKey:      "search::greedy",
		Reward:      0.8,
		TaskID:      "task-1",
		RunID:       "run-1",
		WallTimeMS:  1200,
		ToolCalls:   4,
		TestsPassed: 10,
	}); err != nil {
		t.Fatalf("RecordRich: %v", err)
	}
	if err := s.Record(ctx, "swe::task-1", "search::greedy", 0.4, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	perf, err := s.ArmPerformance(ctx)
	if err != nil {
		t.Fatalf("ArmPerformance: %v", err)
	}
	p, ok := perf["search::greedy"]
	if !ok {
		t.Fatal("arm missing from performance map")
	}
	if p.Count != 2 || math.Abs(p.Mean-0.6) > 1e-9 || p.Min != 0.4 || p.Max != 0.8 {
		t.Fatalf("perf = %+v", p)
	}
}

func TestLearningCurveMeans(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	rewards := []float64{0, 0, 1, 1}
	for _, r := range rewards {
		if err := s.Record(ctx, "c", "a", r, nil); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	points, err := s.LearningCurve(ctx, "a", "", 2)
	if err != nil {
		t.Fatalf("LearningCurve: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("len = %d", len(points))
	}
	// Window=2: last point averages rewards[2:4] = 1.0; cumulative = 0.5.
	last := points[3]
	if math.Abs(last.WindowMean-1.0) > 1e-9 || math.Abs(last.CumulativeMean-0.5) > 1e-9 {
		t.Fatalf("last = %+v", last)
	}
	if points[0].WindowMean != 0 || points[0].CumulativeMean != 0 {
		t.Fatalf("first = %+v", points[0])
	}
}

func TestRecentOutcomesLimit(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Record(ctx, "c", "a", float64(i)/10, nil); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	rows, err := s.RecentOutcomes(ctx, 3)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len = %d, want 3", len(rows))
	}
}
