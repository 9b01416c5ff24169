package route

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/civitas-labs/strategist/internal/model"
	"github.com/civitas-labs/strategist/internal/provider"
	"github.com/civitas-labs/strategist/internal/resilience"
)

// consensusThreshold: below this routing confidence a secondary
// provider is added so the consensus engine can cross-check.
const defaultConsensusThreshold = 0.6

// Scoring weights. Affinity between query type and provider specialty
// dominates; recent health and latency refine, cost breaks near-ties.
const (
	weightAffinity = 0.55
	weightHealth   = 0.25
	weightLatency  = 0.10
	weightCost     = 0.10
)

// Router selects the primary (and optionally secondary) provider for a
// classified request.
type Router struct {
	registry  *provider.Registry
	history   *History
	threshold float64
}

// NewRouter creates a router over the given provider registry.
// threshold <= 0 uses the default consensus threshold of 0.6.
func NewRouter(registry *provider.Registry, history *History, threshold float64) *Router {
	if threshold <= 0 {
		threshold = defaultConsensusThreshold
	}
	return &Router{registry: registry, history: history, threshold: threshold}
}

type candidate struct {
	id    string
	kind  provider.Kind
	score float64
	stats Stats
	cost  float64
}

// Route picks providers for the request. Providers whose breaker is
// open are excluded up front; if that excludes everyone, the decision
// is marked Offline and the caller takes the fallback path.
func (r *Router) Route(req model.AnalysisRequest, qc model.QueryClassification) model.RoutingDecision {
	var candidates []candidate
	var excluded []string

	for _, id := range r.registry.IDs() {
		a := r.registry.Get(id)
		if a.Breaker().State == resilience.StateOpen {
			excluded = append(excluded, id)
			continue
		}
		stats := r.history.Stats(id)
		estCost := a.EstimateCost(req.Depth)
		candidates = append(candidates, candidate{
			id:    id,
			kind:  a.Kind(),
			score: score(a.Kind(), qc, stats, estCost),
			stats: stats,
			cost:  estCost,
		})
	}

	if len(candidates) == 0 {
		zap.L().Warn("no eligible providers, routing offline",
			zap.String("ward", req.Ward),
			zap.Strings("excluded", excluded),
		)
		return model.RoutingDecision{
			Offline:   true,
			Reasoning: fmt.Sprintf("all providers unavailable (circuits open: %s); using offline fallback", strings.Join(excluded, ", ")),
		}
	}

	// IDs() is sorted, so equal scores resolve to the lexically first
	// provider and routing stays reproducible.
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.score > best.score {
			best = c
		}
	}

	decision := model.RoutingDecision{
		Primary:          best.id,
		Confidence:       best.score,
		EstimatedCostUSD: best.cost,
	}

	var reasons []string
	reasons = append(reasons, fmt.Sprintf("%s query (%s complexity) routed to %s (score %.2f, recent success %.0f%%)",
		qc.Type, qc.Complexity, best.id, best.score, best.stats.SuccessRate*100))
	if len(excluded) > 0 {
		reasons = append(reasons, fmt.Sprintf("excluded with open circuits: %s", strings.Join(excluded, ", ")))
	}

	if req.Depth == model.DepthDeep || decision.Confidence < r.threshold {
		if second, ok := runnerUp(candidates, best.id); ok {
			decision.Secondary = second.id
			decision.EstimatedCostUSD += second.cost
			why := "deep analysis"
			if req.Depth != model.DepthDeep {
				why = fmt.Sprintf("routing confidence %.2f below %.2f", decision.Confidence, r.threshold)
			}
			reasons = append(reasons, fmt.Sprintf("%s consults %s for consensus", why, second.id))
		}
	}

	decision.Reasoning = strings.Join(reasons, "; ")
	return decision
}

func runnerUp(candidates []candidate, primaryID string) (candidate, bool) {
	var best candidate
	found := false
	for _, c := range candidates {
		if c.id == primaryID {
			continue
		}
		if !found || c.score > best.score {
			best = c
			found = true
		}
	}
	return best, found
}

// score blends specialty affinity with recent performance, 0–1.
func score(kind provider.Kind, qc model.QueryClassification, stats Stats, estCost float64) float64 {
	s := weightAffinity*affinity(kind, qc) +
		weightHealth*stats.SuccessRate +
		weightLatency*latencyScore(stats) +
		weightCost*costScore(estCost)
	return math.Min(1.0, s)
}

// affinity maps query type to provider specialty. Real-time questions
// want live web intelligence; strategic and scenario work wants the
// reasoning model.
func affinity(kind provider.Kind, qc model.QueryClassification) float64 {
	var a float64
	switch kind {
	case provider.KindWebIntelligence:
		switch qc.Type {
		case model.QueryRealTimeIntelligence:
			a = 0.95
		case model.QueryCompetitiveAnalysis:
			a = 0.6
		default:
			a = 0.4
		}
	case provider.KindReasoning:
		switch qc.Type {
		case model.QueryRealTimeIntelligence:
			a = 0.45
		case model.QueryCompetitiveAnalysis:
			a = 0.75
		default:
			a = 0.9
		}
		if qc.Complexity == model.ComplexityHigh {
			a += 0.05
		}
	}
	return math.Min(1.0, a)
}

// latencyScore decays toward 0 as recent average latency grows past a
// few seconds. A provider with no history scores 1.0.
func latencyScore(stats Stats) float64 {
	if stats.Samples == 0 {
		return 1.0
	}
	return 1.0 / (1.0 + stats.AvgLatency.Seconds()/5.0)
}

// costScore prefers cheaper providers, gently: a dollar of estimated
// cost halves the score.
func costScore(estCost float64) float64 {
	return 1.0 / (1.0 + estCost)
}
