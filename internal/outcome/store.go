// Package outcome persists scalar learning outcomes and serves the
// aggregate views the bandit and analytics layers read.
package outcome

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store wraps the outcomes tables of an opened database. Aggregations
// cover both the plain and rich tables.
type Store struct {
	db *sql.DB
}

// New creates a store over db. The schema is managed by the db package.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

func metaJSON(meta map[string]any) (string, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("outcome: encode meta: %w", err)
	}
	return string(b), nil
}

// Record writes one (context, arm, reward) observation.
func (s *Store) Record(ctx context.Context, contextKey, armKey string, reward float64, meta map[string]any) error {
	mj, err := metaJSON(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO outcomes(context_key, arm_key, reward, meta_json, ts_utc) VALUES (?,?,?,?,?)",
		contextKey, armKey, reward, mj, nowUTC())
	if err != nil {
		return fmt.Errorf("outcome: record: %w", err)
	}
	return nil
}

// Rich is an outcome with execution metrics attached.
type Rich struct {
	ContextKey          string
	ArmKey              string
	Reward              float64
	TaskID              string
	RunID               string
	Seed                int64
	WallTimeMS          int64
	ToolCalls           int
	GateDenials         int
	TestsPassed         int
	TestsFailed         int
	TestsBaselinePassed int
	TestsBaselineFailed int
	PatchSizeBytes      int
	FilesChanged        int
	Meta                map[string]any
}

// RecordRich writes one rich observation.
func (s *Store) RecordRich(ctx context.Context, r Rich) error {
	mj, err := metaJSON(r.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rich_outcomes(
			context_key, arm_key, reward, task_id, run_id, seed,
			wall_time_ms, tool_calls, gate_denials,
			tests_passed, tests_failed, tests_baseline_passed, tests_baseline_failed,
			patch_size_bytes, files_changed, meta_json, ts_utc
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ContextKey, r.ArmKey, r.Reward, r.TaskID, r.RunID, r.Seed,
		r.WallTimeMS, r.ToolCalls, r.GateDenials,
		r.TestsPassed, r.TestsFailed, r.TestsBaselinePassed, r.TestsBaselineFailed,
		r.PatchSizeBytes, r.FilesChanged, mj, nowUTC())
	if err != nil {
		return fmt.Errorf("outcome: record rich: %w", err)
	}
	return nil
}

// allRewards unions the plain and rich tables.
const allRewards = `
	SELECT context_key, arm_key, reward, '' AS task_id, ts_utc, id, 0 AS src FROM outcomes
	UNION ALL
	SELECT context_key, arm_key, reward, COALESCE(task_id,''), ts_utc, id, 1 AS src FROM rich_outcomes`

// ArmSummary is one row of Summary.
type ArmSummary struct {
	ArmKey string  `json:"arm_key"`
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
}

// Summary returns per-arm counts and mean reward within a context.
func (s *Store) Summary(ctx context.Context, contextKey string) ([]ArmSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT arm_key, COUNT(*), AVG(reward)
		FROM (`+allRewards+`)
		WHERE context_key = ?
		GROUP BY arm_key
		ORDER BY arm_key`, contextKey)
	if err != nil {
		return nil, fmt.Errorf("outcome: summary: %w", err)
	}
	defer rows.Close()

	var out []ArmSummary
	for rows.Next() {
		var a ArmSummary
		if err := rows.Scan(&a.ArmKey, &a.N, &a.Mean); err != nil {
			return nil, fmt.Errorf("outcome: scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Perf aggregates one arm across all contexts.
type Perf struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// ArmPerformance returns per-arm aggregates across every context.
func (s *Store) ArmPerformance(ctx context.Context) (map[string]Perf, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT arm_key, COUNT(*), AVG(reward), MIN(reward), MAX(reward)
		FROM (`+allRewards+`)
		GROUP BY arm_key`)
	if err != nil {
		return nil, fmt.Errorf("outcome: arm performance: %w", err)
	}
	defer rows.Close()

	out := map[string]Perf{}
	for rows.Next() {
		var key string
		var p Perf
		if err := rows.Scan(&key, &p.Count, &p.Mean, &p.Min, &p.Max); err != nil {
			return nil, fmt.Errorf("outcome: scan: %w", err)
		}
		out[key] = p
	}
	return out, rows.Err()
}

// CurvePoint is one point of a learning curve.
type CurvePoint struct {
	Index          int     `json:"index"`
	WindowMean     float64 `json:"window_mean"`
	CumulativeMean float64 `json:"cumulative_mean"`
}

// LearningCurve returns rolling and cumulative means over rewards in
// insertion order, optionally filtered by arm or task.
func (s *Store) LearningCurve(ctx context.Context, armKey, taskID string, window int) ([]CurvePoint, error) {
	if window <= 0 {
		window = 10
	}
	q := "SELECT reward FROM (" + allRewards + ") WHERE 1=1"
	args := []any{}
	if armKey != "" {
		q += " AND arm_key = ?"
		args = append(args, armKey)
	}
	if taskID != "" {
		q += " AND task_id = ?"
		args = append(args, taskID)
	}
	q += " ORDER BY src, id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("outcome: learning curve: %w", err)
	}
	defer rows.Close()

	var rewards []float64
	for rows.Next() {
		var r float64
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("outcome: scan: %w", err)
		}
		rewards = append(rewards, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	points := make([]CurvePoint, 0, len(rewards))
	cumulative := 0.0
	for i, r := range rewards {
		cumulative += r
		start := i + 1 - window
		if start < 0 {
			start = 0
		}
		windowSum := 0.0
		for _, w := range rewards[start : i+1] {
			windowSum += w
		}
		points = append(points, CurvePoint{
			Index:          i,
			WindowMean:     windowSum / float64(i+1-start),
			CumulativeMean: cumulative / float64(i+1),
		})
	}
	return points, nil
}

// Row is one stored outcome as returned by RecentOutcomes.
type Row struct {
	ContextKey string  `json:"context_key"`
	ArmKey     string  `json:"arm_key"`
	Reward     float64 `json:"reward"`
	TaskID     string  `json:"task_id,omitempty"`
	TsUTC      string  `json:"ts_utc"`
}

// RecentOutcomes returns the most recent outcomes, newest first.
func (s *Store) RecentOutcomes(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT context_key, arm_key, reward, task_id, ts_utc
		FROM (`+allRewards+`)
		ORDER BY ts_utc DESC, src DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("outcome: recent: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ContextKey, &r.ArmKey, &r.Reward, &r.TaskID, &r.TsUTC); err != nil {
			return nil, fmt.Errorf("outcome: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
