package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/civitas-labs/strategist/internal/cache"
	"github.com/civitas-labs/strategist/internal/config"
	"github.com/civitas-labs/strategist/internal/consensus"
	"github.com/civitas-labs/strategist/internal/cost"
	"github.com/civitas-labs/strategist/internal/monitor"
	"github.com/civitas-labs/strategist/internal/orchestrator"
	"github.com/civitas-labs/strategist/internal/progress"
	"github.com/civitas-labs/strategist/internal/provider"
	"github.com/civitas-labs/strategist/internal/resilience"
	"github.com/civitas-labs/strategist/internal/route"
	"github.com/civitas-labs/strategist/pkg/anthropic"
	"github.com/civitas-labs/strategist/pkg/perplexity"
)

// appEnv bundles the wired components a command needs.
type appEnv struct {
	cfg      config.Config
	registry *provider.Registry
	hub      *progress.Hub
	metrics  *monitor.Registry
	checker  *monitor.Checker
	cache    cache.Cache
	orch     *orchestrator.Orchestrator
}

func (e *appEnv) Close() {
	if err := e.cache.Close(); err != nil {
		zap.L().Warn("closing cache", zap.Error(err))
	}
}

// initEnv builds provider adapters, the router, cache, progress hub,
// monitoring, and the orchestrator from the loaded configuration.
func initEnv(ctx context.Context) (*appEnv, error) {
	metrics := monitor.NewRegistry(time.Duration(cfg.Monitoring.RetentionMinutes) * time.Minute)
	history := route.NewHistory(0)

	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		ResetTimeout:     cfg.Resilience.ResetTimeout(),
		OnStateChange: func(providerID string, from, to resilience.State) {
			metrics.Inc("breaker.transitions", 1)
			zap.L().Warn("circuit state changed",
				zap.String("provider", providerID),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	calc := cost.NewCalculator(cost.DefaultRates())
	reasoning := provider.NewReasoning(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic, calc)
	webintel := provider.NewWebIntel(perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model),
	), calc)

	registry := provider.NewRegistry()
	registry.Register(provider.NewAdapter(reasoning, breakers.Get(reasoning.ID()), provider.AdapterConfig{
		Timeout:    cfg.Orchestrator.ProviderTimeout(),
		RatePerSec: cfg.Anthropic.RatePerSec,
	}, metrics, history))
	registry.Register(provider.NewAdapter(webintel, breakers.Get(webintel.ID()), provider.AdapterConfig{
		Timeout:    cfg.Orchestrator.ProviderTimeout(),
		RatePerSec: cfg.Perplexity.RatePerSec,
	}, metrics, history))

	alerter := monitor.NewAlerter(cfg.Monitoring, monitor.DefaultRules(cfg.Monitoring, registry.IDs()))
	checker := monitor.NewChecker(metrics, alerter, breakerSource(registry), cfg.Monitoring)

	var source orchestrator.ContextSource
	if cfg.WardData.BaseURL != "" {
		source = orchestrator.NewHTTPContextSource(cfg.WardData)
	} else {
		source = orchestrator.StaticContextSource{}
	}

	resultCache := cache.New(ctx, cfg.Cache)
	hub := progress.NewHub(cfg.Orchestrator.Heartbeat(), cfg.Orchestrator.EventBuffer)
	router := route.NewRouter(registry, history, cfg.Orchestrator.ConsensusThreshold)

	return &appEnv{
		cfg:      *cfg,
		registry: registry,
		hub:      hub,
		metrics:  metrics,
		checker:  checker,
		cache:    resultCache,
		orch: orchestrator.New(*cfg, registry, router, consensus.NewEngine(),
			resultCache, hub, metrics, source),
	}, nil
}

// breakerSource adapts the provider registry to the monitor's view of
// circuit state.
func breakerSource(registry *provider.Registry) monitor.BreakerSource {
	return func() map[string]resilience.BreakerState {
		out := make(map[string]resilience.BreakerState)
		for _, id := range registry.IDs() {
			out[id] = registry.Get(id).Breaker()
		}
		return out
	}
}
