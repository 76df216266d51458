package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryCountsAndDurations(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RecordToolCall("read_file", 30*time.Millisecond, true)
	r.RecordToolCall("read_file", 200*time.Millisecond, false)
	r.RecordGateDecision("allow")
	r.RecordGateDecision("deny:policy")
	r.RecordGateDecision("allow")
	r.RecordReplay(true)
	r.RecordReplay(false)
	r.RecordError("tool:timeout")

	s := r.Export()
	require.Equal(t, 2, s.ToolCalls["read_file"])
	require.Equal(t, 1, s.ToolErrors["read_file"])
	require.Equal(t, 2, s.GateDecisions["allow"])
	require.Equal(t, 1, s.GateDecisions["deny:policy"])
	require.Equal(t, 1, s.ReplayHits)
	require.Equal(t, 1, s.ReplayMisses)
	require.Equal(t, 1, s.Errors["tool:timeout"])

	h := s.ToolDurations["read_file"]
	require.Equal(t, 2, h.Count)
	require.InDelta(t, 0.23, h.Sum, 1e-9)
	require.InDelta(t, 0.115, h.Mean, 1e-9)
}

func TestSessionGaugeNeverNegative(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.SessionStarted()
	r.SessionEnded()
	r.SessionEnded()
	require.Equal(t, 0, r.Export().ActiveSessions)
}

func TestPrometheusExposition(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RecordToolCall("list_dir", 10*time.Millisecond, true)
	r.RecordGateDecision("allow")
	r.RecordMessage()
	r.SessionStarted()

	out := r.Prometheus()
	require.Contains(t, out, `cordon_tool_calls_total{tool="list_dir"} 1`)
	require.Contains(t, out, `cordon_gate_decisions_total{decision="allow"} 1`)
	require.Contains(t, out, "cordon_active_sessions 1")
	require.Contains(t, out, "cordon_messages_total 1")
	require.Contains(t, out, "# TYPE cordon_tool_duration_seconds histogram")
	require.Contains(t, out, `cordon_tool_duration_seconds_count{tool="list_dir"} 1`)
	require.True(t, strings.HasSuffix(out, "\n"))
}

func TestRegistryConcurrentUse(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.RecordToolCall("think", time.Millisecond, true)
				r.RecordMessage()
			}
		}()
	}
	wg.Wait()

	s := r.Export()
	require.Equal(t, 800, s.ToolCalls["think"])
	require.Equal(t, 800, s.TotalMessages)
}
