package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/civitas-labs/strategist/internal/model"
	"github.com/civitas-labs/strategist/internal/resilience"
)

// fallbackConfidence caps the confidence of placeholder responses so a
// degraded answer can never outrank a live one.
const fallbackConfidence = 0.25

// Observer receives the outcome of every adapter call. Implemented by
// the reliability monitor and the router's performance history; calls
// must not block.
type Observer interface {
	ObserveCall(providerID string, latency time.Duration, succeeded bool, costUSD float64)
}

// Adapter wraps one Provider with its own circuit breaker, a bounded
// per-call timeout, and a rate limiter. All resilience policy lives
// here; adding a new provider requires no new resilience logic.
type Adapter struct {
	provider  Provider
	breaker   *resilience.Breaker
	timeout   time.Duration
	limiter   *rate.Limiter
	observers []Observer
}

// AdapterConfig bundles the adapter's policy knobs.
type AdapterConfig struct {
	// Timeout bounds a single provider call. Default: 60s.
	Timeout time.Duration
	// RatePerSec throttles calls to the provider. Zero disables.
	RatePerSec float64
}

// NewAdapter creates an adapter for p, gated by the given breaker.
func NewAdapter(p Provider, breaker *resilience.Breaker, cfg AdapterConfig, observers ...Observer) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Adapter{
		provider:  p,
		breaker:   breaker,
		timeout:   cfg.Timeout,
		limiter:   limiter,
		observers: observers,
	}
}

// ID returns the wrapped provider's id.
func (a *Adapter) ID() string { return a.provider.ID() }

// Kind returns the wrapped provider's specialty.
func (a *Adapter) Kind() Kind { return a.provider.Kind() }

// EstimateCost proxies to the wrapped provider.
func (a *Adapter) EstimateCost(depth model.Depth) float64 {
	return a.provider.EstimateCost(depth)
}

// Breaker exposes the adapter's circuit breaker state for the router
// and monitor. Read-only.
func (a *Adapter) Breaker() resilience.BreakerState {
	return a.breaker.Snapshot()
}

// Invoke calls the provider through its breaker. It never returns an
// error: provider failures and an open circuit both degrade to a
// low-confidence placeholder response with Succeeded=false.
func (a *Adapter) Invoke(ctx context.Context, req model.AnalysisRequest, wardCtx model.WardContext) *model.ProviderResponse {
	start := time.Now()

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return a.finish(start, a.placeholder(fmt.Sprintf("rate limit wait aborted: %v", err)))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := resilience.Do(callCtx, a.breaker,
		func(ctx context.Context) (*model.ProviderResponse, error) {
			return a.provider.Invoke(ctx, req, wardCtx)
		},
		func(_ context.Context) (*model.ProviderResponse, error) {
			return a.placeholder("provider temporarily unavailable (circuit open)"), nil
		},
	)
	if err != nil {
		zap.L().Warn("provider call failed",
			zap.String("provider", a.ID()),
			zap.String("ward", req.Ward),
			zap.Error(err),
		)
		resp = a.placeholder(err.Error())
	}

	return a.finish(start, resp)
}

// placeholder builds the degraded response used whenever the real
// provider cannot answer.
func (a *Adapter) placeholder(reason string) *model.ProviderResponse {
	return &model.ProviderResponse{
		Provider:   a.ID(),
		Summary:    fmt.Sprintf("No live response from %s.", a.ID()),
		Confidence: fallbackConfidence,
		Succeeded:  false,
		Error:      reason,
	}
}

func (a *Adapter) finish(start time.Time, resp *model.ProviderResponse) *model.ProviderResponse {
	latency := time.Since(start)
	resp.LatencyMS = latency.Milliseconds()
	for _, o := range a.observers {
		o.ObserveCall(a.ID(), latency, resp.Succeeded, resp.CostUSD)
	}
	return resp
}
