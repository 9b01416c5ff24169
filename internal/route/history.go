// Package route decides which providers serve an analysis request,
// based on query classification, circuit breaker state, and rolling
// per-provider performance history.
package route

import (
	"sync"
	"time"
)

const defaultHistoryWindow = 50

type call struct {
	latency   time.Duration
	succeeded bool
	costUSD   float64
}

// History keeps a bounded ring of recent call outcomes per provider.
// It implements the adapter observer interface, so every provider call
// feeds it automatically.
type History struct {
	mu     sync.RWMutex
	window int
	calls  map[string][]call
	next   map[string]int
}

// NewHistory creates a history with the given window per provider.
// window <= 0 uses the default of 50 calls.
func NewHistory(window int) *History {
	if window <= 0 {
		window = defaultHistoryWindow
	}
	return &History{
		window: window,
		calls:  make(map[string][]call),
		next:   make(map[string]int),
	}
}

// ObserveCall records one call outcome. Non-blocking.
func (h *History) ObserveCall(providerID string, latency time.Duration, succeeded bool, costUSD float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := call{latency: latency, succeeded: succeeded, costUSD: costUSD}
	buf := h.calls[providerID]
	if len(buf) < h.window {
		h.calls[providerID] = append(buf, c)
		return
	}
	i := h.next[providerID]
	buf[i] = c
	h.next[providerID] = (i + 1) % h.window
}

// Stats summarizes a provider's recent calls.
type Stats struct {
	Samples     int
	SuccessRate float64
	AvgLatency  time.Duration
	AvgCostUSD  float64
}

// Stats returns the rolling summary for one provider. A provider with
// no recorded calls reports a success rate of 1.0 — new providers are
// given the benefit of the doubt rather than starved of traffic.
func (h *History) Stats(providerID string) Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	buf := h.calls[providerID]
	if len(buf) == 0 {
		return Stats{SuccessRate: 1.0}
	}

	var succeeded int
	var totalLatency time.Duration
	var totalCost float64
	for _, c := range buf {
		if c.succeeded {
			succeeded++
		}
		totalLatency += c.latency
		totalCost += c.costUSD
	}
	n := len(buf)
	return Stats{
		Samples:     n,
		SuccessRate: float64(succeeded) / float64(n),
		AvgLatency:  totalLatency / time.Duration(n),
		AvgCostUSD:  totalCost / float64(n),
	}
}
