package model

import "time"

// Citation is a single sourced reference returned by a provider.
type Citation struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source,omitempty"`
	Date   string `json:"date,omitempty"`
}

// ProviderResponse is the uniform result shape for one provider call.
// One per provider actually invoked; owned by the run.
type ProviderResponse struct {
	Provider   string     `json:"provider"`
	Summary    string     `json:"summary"`
	Findings   []string   `json:"findings"`
	Citations  []Citation `json:"citations,omitempty"`
	Confidence float64    `json:"confidence"`
	LatencyMS  int64      `json:"latency_ms"`
	CostUSD    float64    `json:"cost_usd"`
	Succeeded  bool       `json:"succeeded"`
	Error      string     `json:"error,omitempty"`
}

// RoutingDecision records which providers the router selected and why.
// Produced once per request; read-only afterward.
type RoutingDecision struct {
	Primary          string  `json:"primary"`
	Secondary        string  `json:"secondary,omitempty"`
	Confidence       float64 `json:"confidence"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	Reasoning        string  `json:"reasoning"`
	// Offline is set when every provider's breaker is open and the
	// caller must take the fully offline fallback path.
	Offline bool `json:"offline,omitempty"`
}

// ConsensusResult is the merged output of all responding providers.
type ConsensusResult struct {
	Summary           string     `json:"summary"`
	Findings          []string   `json:"findings"`
	Citations         []Citation `json:"citations,omitempty"`
	Providers         []string   `json:"providers"`
	AgreementScore    float64    `json:"agreement_score"`
	OverallConfidence float64    `json:"overall_confidence"`
	FallbackMode      bool       `json:"fallback_mode"`
	GeneratedAt       time.Time  `json:"generated_at"`
}

// WardContext is the political background for a ward, supplied by the
// data layer. A zero value is a valid empty context.
type WardContext struct {
	Ward             string            `json:"ward"`
	Demographics     map[string]string `json:"demographics,omitempty"`
	RecentIssues     []string          `json:"recent_issues,omitempty"`
	ElectoralProfile string            `json:"electoral_profile,omitempty"`
}
