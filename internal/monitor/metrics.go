// Package monitor collects metrics from every component, scores
// provider health, and evaluates declarative alert rules. Nothing in
// this package sits on a request's critical path.
package monitor

import (
	"sort"
	"sync"
	"time"
)

// Kind is the metric type.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
	KindTimer     Kind = "timer"
)

type point struct {
	value float64
	at    time.Time
}

type series struct {
	kind   Kind
	points []point
}

// Summary is the exported view of one metric over the retention
// window.
type Summary struct {
	Name  string  `json:"name"`
	Kind  Kind    `json:"kind"`
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Last  float64 `json:"last"`
}

// Registry is an in-memory time series store bounded by a retention
// window per metric. All methods are non-blocking and safe for
// concurrent use.
type Registry struct {
	mu        sync.Mutex
	retention time.Duration
	series    map[string]*series

	nowFunc func() time.Time
}

// NewRegistry creates a registry. retention <= 0 defaults to one hour.
func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Registry{
		retention: retention,
		series:    make(map[string]*series),
		nowFunc:   time.Now,
	}
}

// Inc adds delta to a counter.
func (r *Registry) Inc(name string, delta float64) {
	r.record(name, KindCounter, delta)
}

// Gauge sets a gauge's current value.
func (r *Registry) Gauge(name string, value float64) {
	r.record(name, KindGauge, value)
}

// Observe records a histogram sample.
func (r *Registry) Observe(name string, value float64) {
	r.record(name, KindHistogram, value)
}

// Time records a timer sample in milliseconds.
func (r *Registry) Time(name string, d time.Duration) {
	r.record(name, KindTimer, float64(d.Milliseconds()))
}

func (r *Registry) record(name string, kind Kind, value float64) {
	now := r.nowFunc()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.series[name]
	if !ok {
		s = &series{kind: kind}
		r.series[name] = s
	}
	s.points = append(s.points, point{value: value, at: now})
	r.pruneLocked(s, now)
}

// pruneLocked drops points older than the retention window.
func (r *Registry) pruneLocked(s *series, now time.Time) {
	cutoff := now.Add(-r.retention)
	i := 0
	for ; i < len(s.points); i++ {
		if s.points[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		s.points = append(s.points[:0], s.points[i:]...)
	}
}

// Value reduces a metric to one number: counters sum over the window,
// gauges report the last value, histograms and timers average. Unknown
// metrics report 0.
func (r *Registry) Value(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.series[name]
	if !ok {
		return 0
	}
	r.pruneLocked(s, r.nowFunc())
	if len(s.points) == 0 {
		return 0
	}

	switch s.kind {
	case KindCounter:
		var sum float64
		for _, p := range s.points {
			sum += p.value
		}
		return sum
	case KindGauge:
		return s.points[len(s.points)-1].value
	default:
		var sum float64
		for _, p := range s.points {
			sum += p.value
		}
		return sum / float64(len(s.points))
	}
}

// Summaries exports every metric, sorted by name, for the metrics
// endpoint.
func (r *Registry) Summaries() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	out := make([]Summary, 0, len(r.series))
	for name, s := range r.series {
		r.pruneLocked(s, now)
		if len(s.points) == 0 {
			continue
		}

		sum := Summary{Name: name, Kind: s.kind, Count: len(s.points)}
		sum.Min = s.points[0].value
		sum.Max = s.points[0].value
		for _, p := range s.points {
			sum.Sum += p.value
			if p.value < sum.Min {
				sum.Min = p.value
			}
			if p.value > sum.Max {
				sum.Max = p.value
			}
		}
		sum.Avg = sum.Sum / float64(sum.Count)
		sum.Last = s.points[len(s.points)-1].value
		out = append(out, sum)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Provider metric names. The registry implements the adapter observer
// interface so every provider call lands here automatically.
const (
	metricCalls    = ".calls"
	metricFailures = ".failures"
	metricLatency  = ".latency_ms"
	metricCost     = ".cost_usd"
)

// ObserveCall records one provider call outcome.
func (r *Registry) ObserveCall(providerID string, latency time.Duration, succeeded bool, costUSD float64) {
	prefix := "provider." + providerID
	r.Inc(prefix+metricCalls, 1)
	if !succeeded {
		r.Inc(prefix+metricFailures, 1)
	}
	r.Time(prefix+metricLatency, latency)
	if costUSD > 0 {
		r.Inc(prefix+metricCost, costUSD)
	}
}
