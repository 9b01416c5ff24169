// Package consensus merges the responses of all consulted providers
// into a single result with an agreement score.
package consensus

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civitas-labs/strategist/internal/model"
)

// agreementBoostThreshold: above this agreement the merged confidence
// may exceed the best individual confidence, capped at 1.0.
const agreementBoostThreshold = 0.8

// fallbackConfidence is the confidence of the placeholder result when
// no provider answered.
const fallbackConfidence = 0.2

// Engine computes consensus results. Stateless and safe for
// concurrent use.
type Engine struct {
	nowFunc func() time.Time
}

// NewEngine creates a consensus engine.
func NewEngine() *Engine {
	return &Engine{nowFunc: time.Now}
}

// Merge combines provider responses into one result. Failed responses
// contribute zero weight; they never penalize the providers that did
// answer. Merging is symmetric: input order does not affect the
// agreement score.
func (e *Engine) Merge(req model.AnalysisRequest, responses []*model.ProviderResponse) model.ConsensusResult {
	var succeeded []*model.ProviderResponse
	for _, r := range responses {
		if r != nil && r.Succeeded {
			succeeded = append(succeeded, r)
		}
	}

	switch len(succeeded) {
	case 0:
		return e.fallback(req)
	case 1:
		r := succeeded[0]
		return model.ConsensusResult{
			Summary:           r.Summary,
			Findings:          r.Findings,
			Citations:         r.Citations,
			Providers:         []string{r.Provider},
			AgreementScore:    1.0,
			OverallConfidence: r.Confidence,
			GeneratedAt:       e.nowFunc(),
		}
	}

	agreement := agreementScore(succeeded)
	confidence := blendConfidence(succeeded, agreement)

	zap.L().Debug("consensus merged",
		zap.String("ward", req.Ward),
		zap.Int("providers", len(succeeded)),
		zap.Float64("agreement", agreement),
		zap.Float64("confidence", confidence),
	)

	providers := make([]string, 0, len(succeeded))
	for _, r := range succeeded {
		providers = append(providers, r.Provider)
	}

	return model.ConsensusResult{
		Summary:           mergeSummaries(succeeded),
		Findings:          mergeFindings(succeeded),
		Citations:         mergeCitations(succeeded),
		Providers:         providers,
		AgreementScore:    agreement,
		OverallConfidence: confidence,
		GeneratedAt:       e.nowFunc(),
	}
}

// fallback is the deterministic placeholder when nothing answered.
func (e *Engine) fallback(req model.AnalysisRequest) model.ConsensusResult {
	return model.ConsensusResult{
		Summary: fmt.Sprintf(
			"No analysis providers are currently available for ward %q. This is a degraded placeholder; retry once provider health recovers.",
			req.Ward),
		AgreementScore:    0,
		OverallConfidence: fallbackConfidence,
		FallbackMode:      true,
		GeneratedAt:       e.nowFunc(),
	}
}

// agreementScore is the confidence-weighted mean pairwise Jaccard
// similarity of the providers' combined text (summary plus findings).
// Near-identical responses score 1.0; materially disjoint responses
// approach 0.
func agreementScore(responses []*model.ProviderResponse) float64 {
	tokens := make([]map[string]bool, len(responses))
	for i, r := range responses {
		tokens[i] = tokenize(r.Summary + " " + strings.Join(r.Findings, " "))
	}

	var weighted, totalWeight float64
	for i := 0; i < len(responses); i++ {
		for j := i + 1; j < len(responses); j++ {
			w := responses[i].Confidence * responses[j].Confidence
			weighted += w * jaccard(tokens[i], tokens[j])
			totalWeight += w
		}
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

// blendConfidence averages individual confidences weighted by
// themselves, then applies the high-agreement boost. The result never
// exceeds the best individual confidence unless agreement clears the
// boost threshold, and never exceeds 1.0.
func blendConfidence(responses []*model.ProviderResponse, agreement float64) float64 {
	var sum, weight, best float64
	for _, r := range responses {
		sum += r.Confidence * r.Confidence
		weight += r.Confidence
		if r.Confidence > best {
			best = r.Confidence
		}
	}
	if weight == 0 {
		return 0
	}
	blended := sum / weight

	if agreement >= agreementBoostThreshold {
		blended += 0.05 * agreement
		if blended > 1.0 {
			blended = 1.0
		}
		return blended
	}
	if blended > best {
		blended = best
	}
	return blended
}

func tokenize(text string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?()[]\"'-•")
		if len(word) > 2 {
			set[word] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	var intersection int
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// mergeSummaries concatenates each provider's summary under a short
// attribution line.
func mergeSummaries(responses []*model.ProviderResponse) string {
	if len(responses) == 1 {
		return responses[0].Summary
	}
	var sb strings.Builder
	for i, r := range responses {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s]\n%s", r.Provider, r.Summary)
	}
	return sb.String()
}

// mergeFindings unions findings, dropping case-insensitive duplicates
// while preserving first-seen order.
func mergeFindings(responses []*model.ProviderResponse) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range responses {
		for _, f := range r.Findings {
			key := strings.ToLower(strings.TrimSpace(f))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, f)
		}
	}
	return out
}

// mergeCitations unions citations deduplicated by URL.
func mergeCitations(responses []*model.ProviderResponse) []model.Citation {
	seen := make(map[string]bool)
	var out []model.Citation
	for _, r := range responses {
		for _, c := range r.Citations {
			if c.URL == "" || seen[c.URL] {
				continue
			}
			seen[c.URL] = true
			out = append(out, c)
		}
	}
	return out
}
