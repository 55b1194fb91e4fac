package mqttcore

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryMetrics keeps every series in memory. It suits tests and device
// status endpoints that report client counters.
type MemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]*memoryCounter
	gauges     map[string]*memoryGauge
	histograms map[string]*memoryHistogram
}

// NewMemoryMetrics creates an empty MemoryMetrics.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   make(map[string]*memoryCounter),
		gauges:     make(map[string]*memoryGauge),
		histograms: make(map[string]*memoryHistogram),
	}
}

// seriesKey renders name and labels as name|k1=v1|k2=v2 with sorted keys.
func seriesKey(name string, labels MetricLabels) string {
	var b strings.Builder
	b.WriteString(name)
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

// series returns the entry for key in m, creating it under the write lock.
func series[T any](mu *sync.RWMutex, m map[string]*T, key string) *T {
	mu.RLock()
	v, ok := m[key]
	mu.RUnlock()
	if ok {
		return v
	}

	mu.Lock()
	defer mu.Unlock()
	if v, ok = m[key]; !ok {
		v = new(T)
		m[key] = v
	}
	return v
}

// existing returns the entry for key in m, or nil.
func existing[T any](mu *sync.RWMutex, m map[string]*T, key string) *T {
	mu.RLock()
	defer mu.RUnlock()
	return m[key]
}

// Counter implements Metrics.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return series(&m.mu, m.counters, seriesKey(name, labels))
}

// Gauge implements Metrics.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return series(&m.mu, m.gauges, seriesKey(name, labels))
}

// Histogram implements Metrics.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	return series(&m.mu, m.histograms, seriesKey(name, labels))
}

// GetCounter returns the counter if it was ever used, or nil.
func (m *MemoryMetrics) GetCounter(name string, labels MetricLabels) Counter {
	if c := existing(&m.mu, m.counters, seriesKey(name, labels)); c != nil {
		return c
	}
	return nil
}

// GetGauge returns the gauge if it was ever used, or nil.
func (m *MemoryMetrics) GetGauge(name string, labels MetricLabels) Gauge {
	if g := existing(&m.mu, m.gauges, seriesKey(name, labels)); g != nil {
		return g
	}
	return nil
}

// GetHistogram returns the histogram if it was ever used, or nil.
func (m *MemoryMetrics) GetHistogram(name string, labels MetricLabels) Histogram {
	if h := existing(&m.mu, m.histograms, seriesKey(name, labels)); h != nil {
		return h
	}
	return nil
}

// Snapshot returns counter and gauge values and histogram counts, keyed
// like name|label=value.
func (m *MemoryMetrics) Snapshot() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]float64, len(m.counters)+len(m.gauges)+len(m.histograms))
	for k, c := range m.counters {
		out[k] = c.Value()
	}
	for k, g := range m.gauges {
		out[k] = g.Value()
	}
	for k, h := range m.histograms {
		out[k] = float64(h.Count())
	}
	return out
}

// atomicFloat is a float64 stored as its IEEE 754 bits.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *atomicFloat) store(v float64) { f.bits.Store(math.Float64bits(v)) }

func (f *atomicFloat) add(delta float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

type memoryCounter struct{ v atomicFloat }

func (c *memoryCounter) Inc()              { c.v.add(1) }
func (c *memoryCounter) Add(delta float64) { c.v.add(delta) }
func (c *memoryCounter) Value() float64    { return c.v.load() }

type memoryGauge struct{ v atomicFloat }

func (g *memoryGauge) Set(value float64) { g.v.store(value) }
func (g *memoryGauge) Value() float64    { return g.v.load() }

type memoryHistogram struct {
	count atomic.Uint64
	sum   atomicFloat
}

func (h *memoryHistogram) Observe(value float64) {
	h.count.Add(1)
	h.sum.add(value)
}

func (h *memoryHistogram) Count() uint64 { return h.count.Load() }
func (h *memoryHistogram) Sum() float64  { return h.sum.load() }
