package monitor

import (
	"github.com/civitas-labs/strategist/internal/resilience"
)

// Health score weights: error rate and availability dominate, latency
// refines.
const (
	weightErrorRate    = 0.4
	weightAvailability = 0.4
	weightPerformance  = 0.2
)

// latencyCeilingMS is the recent average latency at which the
// performance component bottoms out.
const latencyCeilingMS = 30000.0

// ProviderHealth is the scored health of one provider.
type ProviderHealth struct {
	Provider     string  `json:"provider"`
	CircuitState string  `json:"circuit_state"`
	ErrorRate    float64 `json:"error_rate"`
	Availability float64 `json:"availability"`
	Performance  float64 `json:"performance"`
	Score        float64 `json:"score"`
}

// HealthScore blends a provider's recent error rate, circuit
// availability, and latency into one 0–1 score.
func (r *Registry) HealthScore(providerID string, breaker resilience.BreakerState) ProviderHealth {
	prefix := "provider." + providerID

	var errorRate float64
	if calls := r.Value(prefix + metricCalls); calls > 0 {
		errorRate = r.Value(prefix+metricFailures) / calls
	}

	var availability float64
	switch breaker.State {
	case resilience.StateClosed:
		availability = 1.0
	case resilience.StateHalfOpen:
		availability = 0.5
	case resilience.StateOpen:
		availability = 0.0
	}

	performance := 1.0
	if avgMS := r.Value(prefix + metricLatency); avgMS > 0 {
		performance = 1.0 - avgMS/latencyCeilingMS
		if performance < 0 {
			performance = 0
		}
	}

	return ProviderHealth{
		Provider:     providerID,
		CircuitState: breaker.StateName,
		ErrorRate:    errorRate,
		Availability: availability,
		Performance:  performance,
		Score: weightErrorRate*(1-errorRate) +
			weightAvailability*availability +
			weightPerformance*performance,
	}
}
