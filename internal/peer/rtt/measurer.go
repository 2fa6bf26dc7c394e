package rtt

import (
	"sync"
	"time"
)

// DefaultAlpha weights a new observation against the running average.
const DefaultAlpha = 0.3

// Sample is the smoothed view of one source.
type Sample struct {
	LatencyMs   float64
	UploadSpeed float64 // MB/s
	Count       int
}

// Measurer keeps an exponential moving average of latency and throughput
// per source (a peer id or a seeder URL).
type Measurer struct {
	mu      sync.RWMutex
	alpha   float64
	samples map[string]Sample
}

func NewMeasurer(alpha float64) *Measurer {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &Measurer{alpha: alpha, samples: make(map[string]Sample)}
}

// Observe records one transfer of size bytes that took elapsed and returns
// the updated sample. Non-positive durations are ignored.
func (m *Measurer) Observe(source string, elapsed time.Duration, size int64) Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, seen := m.samples[source]
	if elapsed <= 0 {
		return cur
	}
	latency := float64(elapsed) / float64(time.Millisecond)
	speed := float64(size) / (1 << 20) / elapsed.Seconds()

	if !seen {
		cur = Sample{LatencyMs: latency, UploadSpeed: speed, Count: 1}
	} else {
		cur.LatencyMs = m.alpha*latency + (1-m.alpha)*cur.LatencyMs
		cur.UploadSpeed = m.alpha*speed + (1-m.alpha)*cur.UploadSpeed
		cur.Count++
	}
	m.samples[source] = cur
	return cur
}

func (m *Measurer) Get(source string) (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.samples[source]
	return s, ok
}

// Baseline is the mean smoothed latency across all sources, or 0 when
// nothing has been observed.
func (m *Measurer) Baseline() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range m.samples {
		sum += s.LatencyMs
	}
	return sum / float64(len(m.samples))
}

func (m *Measurer) Snapshot() map[string]Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Sample, len(m.samples))
	for k, v := range m.samples {
		out[k] = v
	}
	return out
}
