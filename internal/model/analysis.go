// Package model defines the core domain types shared across the
// orchestration pipeline.
package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Depth is the requested thoroughness of an analysis.
type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// Valid reports whether d is a known depth.
func (d Depth) Valid() bool {
	switch d {
	case DepthQuick, DepthStandard, DepthDeep:
		return true
	}
	return false
}

// ContextMode is the strategic framing applied to an analysis.
type ContextMode string

const (
	ModeNeutral    ContextMode = "neutral"
	ModeCampaign   ContextMode = "campaign"
	ModeGovernance ContextMode = "governance"
	ModeOpposition ContextMode = "opposition"
)

// Valid reports whether m is a known context mode.
func (m ContextMode) Valid() bool {
	switch m {
	case ModeNeutral, ModeCampaign, ModeGovernance, ModeOpposition:
		return true
	}
	return false
}

// ErrInvalidRequest flags a request rejected before any provider call.
var ErrInvalidRequest = eris.New("invalid analysis request")

// AnalysisRequest describes one strategic-analysis request. Immutable
// once created; owned exclusively by the orchestration run.
type AnalysisRequest struct {
	Ward        string      `json:"ward"`
	Query       string      `json:"query"`
	Depth       Depth       `json:"depth"`
	ContextMode ContextMode `json:"context_mode"`
	RequestedAt time.Time   `json:"requested_at"`
}

// Validate rejects structurally invalid requests. Unset depth and
// context mode default to standard/neutral rather than failing.
func (r *AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.Ward) == "" {
		return eris.Wrap(ErrInvalidRequest, "ward is required")
	}
	if r.Depth == "" {
		r.Depth = DepthStandard
	}
	if r.ContextMode == "" {
		r.ContextMode = ModeNeutral
	}
	if !r.Depth.Valid() {
		return eris.Wrapf(ErrInvalidRequest, "unknown depth %q", r.Depth)
	}
	if !r.ContextMode.Valid() {
		return eris.Wrapf(ErrInvalidRequest, "unknown context mode %q", r.ContextMode)
	}
	return nil
}

// QueryType labels a classified analysis request for routing.
type QueryType string

const (
	QueryRealTimeIntelligence QueryType = "real-time-intelligence"
	QueryStrategicAnalysis    QueryType = "strategic-analysis"
	QueryCompetitiveAnalysis  QueryType = "competitive-analysis"
	QueryScenarioPlanning     QueryType = "scenario-planning"
)

// Complexity grades how demanding a query is to answer.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// QueryClassification is the classifier's verdict for one request.
// Derived, not persisted beyond the run.
type QueryClassification struct {
	Type               QueryType  `json:"type"`
	PoliticalRelevance float64    `json:"political_relevance"`
	Complexity         Complexity `json:"complexity"`
}
