package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe(StageAgentStep, 500)
	w.Observe(StageAgentStep, 700)
	w.Observe(StageAgentStep, 900)
	w.Observe("", 10)
	w.Observe(StageAgentStep, -1)
	w.ObserveIndicator("superseded")
	w.ObserveIndicator("superseded")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 || s.P50MS != 700 {
		t.Fatalf("LastMS/P50MS = %.2f/%.2f, want 900/700", s.LastMS, s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 4000 {
		t.Fatalf("TargetP95MS = %.2f, want 4000", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want superseded x2", snap.Indicators)
	}
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	w := newLatencyWindow(2)
	for _, v := range []float64{1, 2, 3} {
		w.Observe(StageApprovalWait, v)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 2.5 {
		t.Fatalf("AvgMS = %.2f, want 2.5", s.AvgMS)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTaskEvent("created")
	m.ObserveApprovalWait(time.Second)
	m.ObserveHTTP("GET", "/x", 200, time.Millisecond)
	if snap := m.SnapshotLatency(); len(snap.Stages) != 0 {
		t.Fatalf("nil metrics snapshot has stages: %+v", snap.Stages)
	}
}
