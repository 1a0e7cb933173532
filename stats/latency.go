package stats

import (
	"sort"
	"sync"
	"time"
)

// LatencySummary 单个阶段的延迟分位统计
type LatencySummary struct {
	Count uint64        `json:"count"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	Max   time.Duration `json:"max"`
}

type latencyRing struct {
	samples []int64 // 纳秒，环形缓冲区
	next    int
	filled  bool
	count   uint64
	maxNs   int64
}

func (r *latencyRing) add(ns int64) {
	r.samples[r.next] = ns
	r.next = (r.next + 1) % len(r.samples)
	if r.next == 0 {
		r.filled = true
	}
	r.count++
	if ns > r.maxNs {
		r.maxNs = ns
	}
}

// LatencyRecorder 以视图开始（收到或发出提案）为起点，记录各阶段 QC 形成耗时
type LatencyRecorder struct {
	mu       sync.Mutex
	capacity int
	starts   map[uint64]time.Time
	rings    map[string]*latencyRing
	observe  func(name string, d time.Duration)
}

func NewLatencyRecorder(capacity int, observe func(name string, d time.Duration)) *LatencyRecorder {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LatencyRecorder{
		capacity: capacity,
		starts:   make(map[uint64]time.Time),
		rings:    make(map[string]*latencyRing),
		observe:  observe,
	}
}

// StartView 记录视图起点，重复调用保留最早的时间
func (r *LatencyRecorder) StartView(view uint64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.starts[view]; !ok {
		r.starts[view] = at
	}
}

// ObservePhase 记录 view 内某阶段完成的耗时；没有起点时忽略
func (r *LatencyRecorder) ObservePhase(view uint64, phase string, at time.Time) {
	r.mu.Lock()
	start, ok := r.starts[view]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.Record(phase, at.Sub(start))
}

// Forget 丢弃早于 view 的起点
func (r *LatencyRecorder) Forget(view uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for v := range r.starts {
		if v < view {
			delete(r.starts, v)
		}
	}
}

func (r *LatencyRecorder) Record(name string, d time.Duration) {
	if r == nil || name == "" {
		return
	}
	ns := d.Nanoseconds()
	if ns < 0 {
		ns = 0
	}
	r.mu.Lock()
	ring, ok := r.rings[name]
	if !ok {
		ring = &latencyRing{samples: make([]int64, r.capacity)}
		r.rings[name] = ring
	}
	ring.add(ns)
	r.mu.Unlock()

	if r.observe != nil {
		r.observe(name, d)
	}
}

// Summary 各阶段的分位统计
func (r *LatencyRecorder) Summary() map[string]LatencySummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]LatencySummary, len(r.rings))
	for name, ring := range r.rings {
		n := ring.next
		if ring.filled {
			n = len(ring.samples)
		}
		if n == 0 {
			continue
		}
		values := make([]int64, n)
		copy(values, ring.samples[:n])
		sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
		out[name] = LatencySummary{
			Count: ring.count,
			P50:   time.Duration(percentile(values, 0.50)),
			P95:   time.Duration(percentile(values, 0.95)),
			Max:   time.Duration(ring.maxNs),
		}
	}
	return out
}

func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
