package pool

import (
	"sort"
	"time"
)

// latencySamples 是保留的最近获取延迟样本数
const latencySamples = 256

// latencyWindow 是固定大小的获取延迟环形缓冲，调用方必须持有池的锁
type latencyWindow struct {
	samples []time.Duration
	next    int
	full    bool
}

func newLatencyWindow() *latencyWindow {
	return &latencyWindow{samples: make([]time.Duration, latencySamples)}
}

func (w *latencyWindow) record(d time.Duration) {
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

func (w *latencyWindow) values() []time.Duration {
	if w.full {
		out := make([]time.Duration, len(w.samples))
		copy(out, w.samples)
		return out
	}
	out := make([]time.Duration, w.next)
	copy(out, w.samples[:w.next])
	return out
}

// summary 返回 p95 和平均值
func (w *latencyWindow) summary() (p95, avg time.Duration) {
	vals := w.values()
	if len(vals) == 0 {
		return 0, 0
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })

	var total time.Duration
	for _, v := range vals {
		total += v
	}
	idx := (len(vals)*95+99)/100 - 1
	if idx < 0 {
		idx = 0
	}
	return vals[idx], total / time.Duration(len(vals))
}
