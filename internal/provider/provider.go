// Package provider defines the uniform contract for external reasoning
// providers and the adapters that make their calls resilient.
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/civitas-labs/strategist/internal/model"
)

// Well-known provider ids.
const (
	DeepReasoningID   = "deep-reasoning"
	WebIntelligenceID = "web-intelligence"
)

// Kind describes a provider's specialty, used by the router to match
// providers against query classifications.
type Kind string

const (
	// KindReasoning providers excel at deep strategic synthesis.
	KindReasoning Kind = "reasoning"
	// KindWebIntelligence providers excel at fresh, cited web facts.
	KindWebIntelligence Kind = "web-intelligence"
)

// Provider is one external reasoning service. Provider-specific
// request/response shaping lives entirely inside each implementation;
// nothing upstream sees an SDK type.
type Provider interface {
	// ID returns the stable provider identifier.
	ID() string
	// Kind returns the provider's specialty.
	Kind() Kind
	// EstimateCost predicts the USD cost of one call at the given depth.
	EstimateCost(depth model.Depth) float64
	// Invoke performs one analysis call.
	Invoke(ctx context.Context, req model.AnalysisRequest, wardCtx model.WardContext) (*model.ProviderResponse, error)
}

// Registry manages the available providers behind their adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*Adapter
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]*Adapter),
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(a *Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
}

// Get returns an adapter by provider id, or nil if not found.
func (r *Registry) Get(id string) *Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[id]
}

// IDs returns all registered provider ids in stable order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
