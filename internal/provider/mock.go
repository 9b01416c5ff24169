package provider

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/civitas-labs/strategist/internal/model"
)

// Mock is a deterministic provider for tests and local runs.
type Mock struct {
	MockID   string
	MockKind Kind
	// Response is returned on success. A copy is made per call.
	Response model.ProviderResponse
	// Err, when set, fails every call.
	Err error
	// Delay simulates provider latency.
	Delay time.Duration
	// Cost is the fixed per-call estimate.
	Cost float64

	calls atomic.Int64
}

// NewMock creates a mock provider that succeeds with the given summary.
func NewMock(id string, kind Kind, summary string, confidence float64) *Mock {
	return &Mock{
		MockID:   id,
		MockKind: kind,
		Response: model.ProviderResponse{
			Provider:   id,
			Summary:    summary,
			Confidence: confidence,
			Succeeded:  true,
		},
	}
}

func (m *Mock) ID() string { return m.MockID }

func (m *Mock) Kind() Kind { return m.MockKind }

func (m *Mock) EstimateCost(model.Depth) float64 { return m.Cost }

// Calls reports how many times Invoke ran.
func (m *Mock) Calls() int64 { return m.calls.Load() }

func (m *Mock) Invoke(ctx context.Context, _ model.AnalysisRequest, _ model.WardContext) (*model.ProviderResponse, error) {
	m.calls.Add(1)

	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}

	resp := m.Response
	resp.Provider = m.MockID
	return &resp, nil
}
