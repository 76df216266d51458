// Package metrics collects in-process counters and latency histograms
// for tool calls, gate decisions, and replay cache traffic. The registry
// is injected, not global, so tests and embedded uses stay isolated.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var defaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

type histogram struct {
	buckets []float64
	counts  []int
	sum     float64
	count   int
}

func newHistogram() *histogram {
	return &histogram{buckets: defaultBuckets, counts: make([]int, len(defaultBuckets))}
}

func (h *histogram) observe(v float64) {
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

// HistogramSnapshot is a point-in-time view of one histogram.
type HistogramSnapshot struct {
	Sum     float64        `json:"sum"`
	Count   int            `json:"count"`
	Mean    float64        `json:"mean,omitempty"`
	Buckets map[string]int `json:"buckets"`
}

func (h *histogram) snapshot() HistogramSnapshot {
	s := HistogramSnapshot{Sum: h.sum, Count: h.count, Buckets: map[string]int{}}
	for i, b := range h.buckets {
		s.Buckets[fmt.Sprintf("%g", b)] = h.counts[i]
	}
	if h.count > 0 {
		s.Mean = h.sum / float64(h.count)
	}
	return s
}

// Registry aggregates all runtime metrics for one process.
type Registry struct {
	mu sync.Mutex

	toolCalls      map[string]int
	toolErrors     map[string]int
	toolDurations  map[string]*histogram
	gateDecisions  map[string]int
	replayHits     int
	replayMisses   int
	activeSessions int
	totalMessages  int
	errorsByType   map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		toolCalls:     map[string]int{},
		toolErrors:    map[string]int{},
		toolDurations: map[string]*histogram{},
		gateDecisions: map[string]int{},
		errorsByType:  map[string]int{},
	}
}

// RecordToolCall counts one tool invocation with its latency.
func (r *Registry) RecordToolCall(tool string, elapsed time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolCalls[tool]++
	if !success {
		r.toolErrors[tool]++
	}
	h := r.toolDurations[tool]
	if h == nil {
		h = newHistogram()
		r.toolDurations[tool] = h
	}
	h.observe(elapsed.Seconds())
}

// RecordGateDecision counts one gate outcome by decision string.
func (r *Registry) RecordGateDecision(decision string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateDecisions[decision]++
}

// RecordReplay counts a replay cache hit or miss.
func (r *Registry) RecordReplay(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.replayHits++
	} else {
		r.replayMisses++
	}
}

// SessionStarted and SessionEnded track the active session gauge.
func (r *Registry) SessionStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeSessions++
}

func (r *Registry) SessionEnded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeSessions > 0 {
		r.activeSessions--
	}
}

// RecordMessage counts one processed user message.
func (r *Registry) RecordMessage() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalMessages++
}

// RecordError counts one error by its structured code.
func (r *Registry) RecordError(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorsByType[code]++
}

// Snapshot is the JSON-facing export of the registry.
type Snapshot struct {
	ToolCalls      map[string]int               `json:"tool_calls"`
	ToolErrors     map[string]int               `json:"tool_errors"`
	ToolDurations  map[string]HistogramSnapshot `json:"tool_durations"`
	GateDecisions  map[string]int               `json:"gate_decisions"`
	ReplayHits     int                          `json:"replay_hits"`
	ReplayMisses   int                          `json:"replay_misses"`
	ActiveSessions int                          `json:"active_sessions"`
	TotalMessages  int                          `json:"total_messages"`
	Errors         map[string]int               `json:"errors"`
}

// Export returns a copy of all metrics.
func (r *Registry) Export() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		ToolCalls:      copyMap(r.toolCalls),
		ToolErrors:     copyMap(r.toolErrors),
		ToolDurations:  map[string]HistogramSnapshot{},
		GateDecisions:  copyMap(r.gateDecisions),
		ReplayHits:     r.replayHits,
		ReplayMisses:   r.replayMisses,
		ActiveSessions: r.activeSessions,
		TotalMessages:  r.totalMessages,
		Errors:         copyMap(r.errorsByType),
	}
	for tool, h := range r.toolDurations {
		s.ToolDurations[tool] = h.snapshot()
	}
	return s
}

func copyMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Prometheus renders the registry in text exposition format.
func (r *Registry) Prometheus() string {
	s := r.Export()
	var b strings.Builder

	writeCounter := func(name, help, label string, values map[string]int) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s{%s=%q} %d\n", name, label, k, values[k])
		}
	}

	writeCounter("cordon_tool_calls_total", "Tool calls by name", "tool", s.ToolCalls)
	writeCounter("cordon_tool_errors_total", "Tool errors by name", "tool", s.ToolErrors)
	writeCounter("cordon_gate_decisions_total", "Gate decisions", "decision", s.GateDecisions)
	writeCounter("cordon_errors_total", "Errors by code", "code", s.Errors)

	fmt.Fprintf(&b, "# HELP cordon_tool_duration_seconds Tool execution duration\n")
	fmt.Fprintf(&b, "# TYPE cordon_tool_duration_seconds histogram\n")
	tools := make([]string, 0, len(s.ToolDurations))
	for t := range s.ToolDurations {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	for _, tool := range tools {
		h := s.ToolDurations[tool]
		buckets := make([]string, 0, len(h.Buckets))
		for le := range h.Buckets {
			buckets = append(buckets, le)
		}
		sort.Strings(buckets)
		for _, le := range buckets {
			fmt.Fprintf(&b, "cordon_tool_duration_seconds_bucket{tool=%q,le=%q} %d\n", tool, le, h.Buckets[le])
		}
		fmt.Fprintf(&b, "cordon_tool_duration_seconds_sum{tool=%q} %g\n", tool, h.Sum)
		fmt.Fprintf(&b, "cordon_tool_duration_seconds_count{tool=%q} %d\n", tool, h.Count)
	}

	fmt.Fprintf(&b, "# HELP cordon_replay_hits_total Replay cache hits\n# TYPE cordon_replay_hits_total counter\ncordon_replay_hits_total %d\n", s.ReplayHits)
	fmt.Fprintf(&b, "# HELP cordon_replay_misses_total Replay cache misses\n# TYPE cordon_replay_misses_total counter\ncordon_replay_misses_total %d\n", s.ReplayMisses)
	fmt.Fprintf(&b, "# HELP cordon_active_sessions Current active sessions\n# TYPE cordon_active_sessions gauge\ncordon_active_sessions %d\n", s.ActiveSessions)
	fmt.Fprintf(&b, "# HELP cordon_messages_total Total messages processed\n# TYPE cordon_messages_total counter\ncordon_messages_total %d\n", s.TotalMessages)

	return b.String()
}
