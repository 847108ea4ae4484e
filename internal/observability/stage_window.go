package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// StageStats summarizes the retained samples of one pipeline stage.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	// OverTarget counts retained samples slower than TargetP95MS.
	OverTarget int `json:"over_target,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// stageBudgets maps stage name prefixes to their p95 latency budget in ms.
// Exact names are listed as full prefixes.
var stageBudgets = []struct {
	prefix string
	ms     float64
}{
	{"evaluate_", 50},
	{"analyze", 50},
	{"understanding_", 4000},
}

func stageBudget(stage string) float64 {
	for _, b := range stageBudgets {
		if strings.HasPrefix(stage, b.prefix) {
			return b.ms
		}
	}
	return 0
}

// stageWindow keeps the most recent latency samples per stage in fixed rings.
type stageWindow struct {
	mu         sync.RWMutex
	capacity   int
	rings      map[string]*sampleRing
	indicators map[string]int
}

type sampleRing struct {
	buf  []float64
	pos  int
	full bool
	last float64
}

func (r *sampleRing) add(ms float64) {
	r.buf[r.pos] = ms
	r.last = ms
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 {
		r.full = true
	}
}

// sorted returns a sorted copy of the retained samples.
func (r *sampleRing) sorted() []float64 {
	n := r.pos
	if r.full {
		n = len(r.buf)
	}
	out := append([]float64(nil), r.buf[:n]...)
	sort.Float64s(out)
	return out
}

func newStageWindow(capacity int) *stageWindow {
	if capacity <= 0 {
		capacity = 256
	}
	return &stageWindow{
		capacity:   capacity,
		rings:      make(map[string]*sampleRing),
		indicators: make(map[string]int),
	}
}

func (w *stageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 || math.IsNaN(ms) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.rings[stage]
	if !ok {
		r = &sampleRing{buf: make([]float64, w.capacity)}
		w.rings[stage] = r
	}
	r.add(ms)
}

func (w *stageWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.capacity,
		Stages:      make([]StageStats, 0, len(w.rings)),
	}
	for stage, r := range w.rings {
		samples := r.sorted()
		if len(samples) == 0 {
			continue
		}
		snap.Stages = append(snap.Stages, summarize(stage, samples, r.last))
	}
	sort.Slice(snap.Stages, func(i, j int) bool { return snap.Stages[i].Stage < snap.Stages[j].Stage })

	for name, count := range w.indicators {
		if count > 0 {
			snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: count})
		}
	}
	sort.Slice(snap.Indicators, func(i, j int) bool { return snap.Indicators[i].Name < snap.Indicators[j].Name })
	return snap
}

func (w *stageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rings = make(map[string]*sampleRing)
	w.indicators = make(map[string]int)
}

func summarize(stage string, sorted []float64, last float64) StageStats {
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	st := StageStats{
		Stage:       stage,
		Samples:     len(sorted),
		LastMS:      round2(last),
		AvgMS:       round2(sum / float64(len(sorted))),
		P50MS:       round2(percentile(sorted, 0.50)),
		P95MS:       round2(percentile(sorted, 0.95)),
		MaxMS:       round2(sorted[len(sorted)-1]),
		TargetP95MS: stageBudget(stage),
	}
	if st.TargetP95MS > 0 {
		// Samples are sorted, so everything after the first over-budget index counts.
		st.OverTarget = len(sorted) - sort.SearchFloat64s(sorted, math.Nextafter(st.TargetP95MS, math.Inf(1)))
	}
	return st
}

// percentile linearly interpolates between the closest ranks.
func percentile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	rank := q * float64(len(sorted)-1)
	lo := int(rank)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
