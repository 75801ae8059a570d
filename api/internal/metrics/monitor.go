// Package metrics keeps per-label timing statistics for the service and
// mirrors them into Prometheus.
package metrics

import (
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats are aggregated durations for one label, in milliseconds.
type Stats struct {
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

type series struct {
	count    int
	sum      float64
	min, max float64
}

// MemoryUsage is a snapshot of the Go runtime's memory, in MB.
type MemoryUsage struct {
	Sys       float64 `json:"rss"`
	HeapTotal float64 `json:"heapTotal"`
	HeapUsed  float64 `json:"heapUsed"`
	Stack     float64 `json:"stack"`
}

type Monitor struct {
	log *slog.Logger
	now func() time.Time

	mu     sync.Mutex
	timers map[string]time.Time
	data   map[string]*series

	duration *prometheus.HistogramVec
}

// NewMonitor creates a monitor. reg may be nil to skip Prometheus export.
func NewMonitor(reg prometheus.Registerer, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	m := &Monitor{
		log:    log.With("component", "monitor"),
		now:    time.Now,
		timers: make(map[string]time.Time),
		data:   make(map[string]*series),
	}
	if reg != nil {
		m.duration = promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "homework_review",
			Subsystem: "monitor",
			Name:      "operation_duration_seconds",
			Help:      "Duration of timed operations.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"label"})
	}
	return m
}

// Start times one operation; the returned func records and returns the
// elapsed time. Calls after the first return 0.
func (m *Monitor) Start(label string) func() time.Duration {
	start := m.now()
	var once sync.Once
	return func() time.Duration {
		var d time.Duration
		once.Do(func() {
			d = m.now().Sub(start)
			m.Record(label, d)
		})
		return d
	}
}

// StartTimer begins a named timer. A second start for the same label
// restarts it.
func (m *Monitor) StartTimer(label string) {
	m.mu.Lock()
	m.timers[label] = m.now()
	m.mu.Unlock()
}

// EndTimer stops the named timer and records its duration.
func (m *Monitor) EndTimer(label string) time.Duration {
	m.mu.Lock()
	start, ok := m.timers[label]
	delete(m.timers, label)
	m.mu.Unlock()
	if !ok {
		m.log.Warn("timer was not started", slog.String("label", label))
		return 0
	}
	d := m.now().Sub(start)
	m.Record(label, d)
	return d
}

// Record adds one sample for label.
func (m *Monitor) Record(label string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	m.mu.Lock()
	s, ok := m.data[label]
	if !ok {
		s = &series{min: math.Inf(1), max: math.Inf(-1)}
		m.data[label] = s
	}
	s.count++
	s.sum += ms
	s.min = math.Min(s.min, ms)
	s.max = math.Max(s.max, ms)
	m.mu.Unlock()

	if m.duration != nil {
		m.duration.WithLabelValues(label).Observe(d.Seconds())
	}
	m.log.Debug("timer", slog.String("label", label), slog.Float64("ms", ms))
}

func (m *Monitor) Stats(label string) (Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[label]
	if !ok || s.count == 0 {
		return Stats{}, false
	}
	return s.stats(), true
}

func (m *Monitor) AllStats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stats, len(m.data))
	for label, s := range m.data {
		out[label] = s.stats()
	}
	return out
}

// Clear drops the samples of label, or of every label when it is empty.
func (m *Monitor) Clear(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if label == "" {
		clear(m.data)
		return
	}
	delete(m.data, label)
}

func (s *series) stats() Stats {
	return Stats{
		Avg:   s.sum / float64(s.count),
		Min:   s.min,
		Max:   s.max,
		Count: s.count,
	}
}

// Memory reads the current runtime memory figures.
func Memory() MemoryUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemoryUsage{
		Sys:       toMB(ms.Sys),
		HeapTotal: toMB(ms.HeapSys),
		HeapUsed:  toMB(ms.HeapAlloc),
		Stack:     toMB(ms.StackSys),
	}
}

// LogMemory writes a memory snapshot tagged with label at info level.
func (m *Monitor) LogMemory(label string) MemoryUsage {
	u := Memory()
	m.log.Info("memory usage",
		slog.String("label", label),
		slog.Float64("rss_mb", u.Sys),
		slog.Float64("heap_total_mb", u.HeapTotal),
		slog.Float64("heap_used_mb", u.HeapUsed),
		slog.Float64("stack_mb", u.Stack),
	)
	return u
}

func toMB(b uint64) float64 {
	return math.Round(float64(b)/1024/1024*100) / 100
}
