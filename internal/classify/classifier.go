// Package classify labels analysis requests for routing. Classification
// is a pure keyword heuristic: no external calls, deterministic for
// identical input so routing decisions are reproducible.
package classify

import (
	"sort"
	"strings"

	"github.com/civitas-labs/strategist/internal/model"
)

// typeTriggers maps each query type to the phrases that vote for it.
var typeTriggers = map[model.QueryType][]string{
	model.QueryRealTimeIntelligence: {
		"latest", "today", "breaking", "right now", "this week",
		"current", "recent", "news", "happening", "update",
	},
	model.QueryCompetitiveAnalysis: {
		"opponent", "rival", "incumbent", "challenger", "versus",
		"vs ", "compare", "competitor", "their campaign", "other candidate",
	},
	model.QueryScenarioPlanning: {
		"scenario", "what if", "if we", "projection", "forecast",
		"outcome", "simulate", "contingency", "best case", "worst case",
	},
	model.QueryStrategicAnalysis: {
		"strategy", "strategic", "plan", "position", "messaging",
		"approach", "priorit", "roadmap", "how should",
	},
}

// politicalTerms contribute to the political-relevance score.
var politicalTerms = []string{
	"ward", "voter", "election", "council", "turnout", "campaign",
	"policy", "constituen", "candidate", "poll", "manifesto", "electorate",
}

// modeBias gives each context mode one extra vote for the query type it
// naturally implies.
var modeBias = map[model.ContextMode]model.QueryType{
	model.ModeOpposition: model.QueryCompetitiveAnalysis,
	model.ModeCampaign:   model.QueryStrategicAnalysis,
	model.ModeGovernance: model.QueryScenarioPlanning,
}

// Classify inspects the request text and context mode and returns a
// classification. Empty or garbage text degrades to strategic-analysis
// with low complexity rather than failing the request.
func Classify(req model.AnalysisRequest, wardCtx model.WardContext) model.QueryClassification {
	text := strings.ToLower(strings.TrimSpace(req.Query))
	if text == "" {
		return model.QueryClassification{
			Type:               model.QueryStrategicAnalysis,
			PoliticalRelevance: relevance(text, wardCtx),
			Complexity:         model.ComplexityLow,
		}
	}

	scores := make(map[model.QueryType]int, len(typeTriggers))
	for qt, triggers := range typeTriggers {
		for _, trig := range triggers {
			if strings.Contains(text, trig) {
				scores[qt]++
			}
		}
	}
	if qt, ok := modeBias[req.ContextMode]; ok {
		scores[qt]++
	}

	return model.QueryClassification{
		Type:               topType(scores),
		PoliticalRelevance: relevance(text, wardCtx),
		Complexity:         complexity(text, scores),
	}
}

// topType picks the highest-scoring type; ties break on a fixed order
// so identical input always classifies identically.
func topType(scores map[model.QueryType]int) model.QueryType {
	type candidate struct {
		qt    model.QueryType
		score int
	}
	cands := make([]candidate, 0, len(scores))
	for qt, s := range scores {
		if s > 0 {
			cands = append(cands, candidate{qt, s})
		}
	}
	if len(cands) == 0 {
		return model.QueryStrategicAnalysis
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score == cands[j].score {
			return cands[i].qt < cands[j].qt
		}
		return cands[i].score > cands[j].score
	})
	return cands[0].qt
}

func complexity(text string, scores map[model.QueryType]int) model.Complexity {
	words := len(strings.Fields(text))
	matchedTypes := 0
	for _, s := range scores {
		if s > 0 {
			matchedTypes++
		}
	}

	switch {
	case words >= 30 || matchedTypes >= 3:
		return model.ComplexityHigh
	case words >= 10 || matchedTypes == 2:
		return model.ComplexityMedium
	default:
		return model.ComplexityLow
	}
}

// relevance scores how political the query is, boosted by overlap with
// the ward's recent issues. Always in [0, 1].
func relevance(text string, wardCtx model.WardContext) float64 {
	score := 0.2 // every request arrives through the political surface
	for _, term := range politicalTerms {
		if strings.Contains(text, term) {
			score += 0.1
		}
	}
	for _, issue := range wardCtx.RecentIssues {
		issue = strings.ToLower(strings.TrimSpace(issue))
		if issue != "" && strings.Contains(text, issue) {
			score += 0.15
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}
