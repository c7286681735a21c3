package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StageApprovalWait  = "approval_wait"
	StageFirstProposal = "create_to_first_proposal"
	StageAgentStep     = "decision_to_next_proposal"
	StageTaskTotal     = "task_total"
)

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// latencyWindow keeps the most recent samples per stage in a ring.
type latencyWindow struct {
	mu         sync.RWMutex
	size       int
	rings      map[string]*sampleRing
	indicators map[string]int
}

type sampleRing struct {
	values []float64
	next   int
	full   bool
	last   float64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:       size,
		rings:      make(map[string]*sampleRing),
		indicators: make(map[string]int),
	}
}

func (w *latencyWindow) Observe(stage string, ms float64) {
	stage = strings.TrimSpace(stage)
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ring, ok := w.rings[stage]
	if !ok {
		ring = &sampleRing{values: make([]float64, w.size)}
		w.rings[stage] = ring
	}
	ring.values[ring.next] = ms
	ring.last = ms
	ring.next = (ring.next + 1) % len(ring.values)
	if ring.next == 0 {
		ring.full = true
	}
}

func (w *latencyWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.rings))
	for name := range w.rings {
		names = append(names, name)
	}
	sort.Strings(names)

	stages := make([]StageStats, 0, len(names))
	for _, name := range names {
		ring := w.rings[name]
		n := ring.next
		if ring.full {
			n = len(ring.values)
		}
		if n == 0 {
			continue
		}
		sorted := append([]float64(nil), ring.values[:n]...)
		sort.Float64s(sorted)
		sum := 0.0
		for _, v := range sorted {
			sum += v
		}
		stages = append(stages, StageStats{
			Stage:       name,
			Samples:     n,
			LastMS:      round2(ring.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(quantile(sorted, 0.50)),
			P95MS:       round2(quantile(sorted, 0.95)),
			TargetP95MS: targetP95MS(name),
		})
	}

	var indicators []Indicator
	for name, count := range w.indicators {
		indicators = append(indicators, Indicator{Name: name, Count: count})
	}
	sort.Slice(indicators, func(i, j int) bool { return indicators[i].Name < indicators[j].Name })

	return LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      stages,
		Indicators:  indicators,
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// targetP95MS is the latency budget for agent-side stages. Operator think
// time has no target.
func targetP95MS(stage string) float64 {
	switch stage {
	case StageFirstProposal:
		return 5000
	case StageAgentStep:
		return 4000
	default:
		return 0
	}
}
