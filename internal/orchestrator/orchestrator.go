// Package orchestrator runs the analysis lifecycle: validate,
// classify, route, fan out to providers, reach consensus, cache, and
// stream progress.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civitas-labs/strategist/internal/cache"
	"github.com/civitas-labs/strategist/internal/classify"
	"github.com/civitas-labs/strategist/internal/config"
	"github.com/civitas-labs/strategist/internal/consensus"
	"github.com/civitas-labs/strategist/internal/model"
	"github.com/civitas-labs/strategist/internal/monitor"
	"github.com/civitas-labs/strategist/internal/progress"
	"github.com/civitas-labs/strategist/internal/provider"
	"github.com/civitas-labs/strategist/internal/route"
)

// notifier receives the run's progress. Satisfied by a progress
// connection and by the synchronous collector used for one-shot runs.
type notifier interface {
	Progress(stage progress.Stage, percent int, message string)
	Complete(result *model.ConsensusResult)
	Error(message string)
}

// Orchestrator coordinates one analysis run per request.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	cacheTTL time.Duration

	registry *provider.Registry
	router   *route.Router
	engine   *consensus.Engine
	cache    cache.Cache
	hub      *progress.Hub
	metrics  *monitor.Registry
	source   ContextSource
}

// New wires an orchestrator from its collaborators.
func New(
	cfg config.Config,
	registry *provider.Registry,
	router *route.Router,
	engine *consensus.Engine,
	c cache.Cache,
	hub *progress.Hub,
	metrics *monitor.Registry,
	source ContextSource,
) *Orchestrator {
	ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if cfg.Orchestrator.RequestTimeoutSecs <= 0 {
		cfg.Orchestrator.RequestTimeoutSecs = 60
	}
	return &Orchestrator{
		cfg:      cfg.Orchestrator,
		cacheTTL: ttl,
		registry: registry,
		router:   router,
		engine:   engine,
		cache:    c,
		hub:      hub,
		metrics:  metrics,
		source:   source,
	}
}

// StartAnalysis validates the request, opens a progress connection,
// and launches the run in the background. The returned connection id
// identifies the event stream. The run outlives the caller's context:
// a disconnecting client must not abort an analysis other consumers
// may still want cached.
func (o *Orchestrator) StartAnalysis(ctx context.Context, req model.AnalysisRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}

	conn := o.hub.Open()
	go o.run(context.WithoutCancel(ctx), req, conn)
	return conn.ID(), nil
}

// Analyze runs the full pipeline synchronously and returns the
// consensus result. Used by the one-shot CLI path.
func (o *Orchestrator) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.ConsensusResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}

	col := &collector{}
	o.run(ctx, req, col)
	if col.err != "" {
		return nil, eris.Errorf("analysis failed: %s", col.err)
	}
	return col.result, nil
}

// collector is the synchronous notifier backing Analyze.
type collector struct {
	result *model.ConsensusResult
	err    string
}

func (c *collector) Progress(progress.Stage, int, string)   {}
func (c *collector) Complete(result *model.ConsensusResult) { c.result = result }
func (c *collector) Error(message string)                   { c.err = message }

func (o *Orchestrator) run(ctx context.Context, req model.AnalysisRequest, out notifier) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout())
	defer cancel()

	log := zap.L().With(zap.String("ward", req.Ward), zap.String("depth", string(req.Depth)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("analysis run panicked", zap.Any("panic", r))
			o.metrics.Inc("requests.panic", 1)
			out.Error(fmt.Sprintf("internal error: %v", r))
		}
	}()
	o.metrics.Inc("requests.total", 1)

	out.Progress(progress.StageInitializing, 5, "validating request")

	key := cache.Key(req.Ward, req.Depth, req.ContextMode)
	if entry, err := o.cache.Get(runCtx, key); err == nil && entry != nil {
		o.metrics.Inc("cache.hits", 1)
		log.Info("serving cached analysis", zap.String("etag", entry.ETag))
		out.Progress(progress.StageSynthesizing, 90, "returning cached analysis")
		out.Complete(&entry.Value)
		return
	}
	o.metrics.Inc("cache.misses", 1)

	wardCtx, err := o.source.FetchWardContext(runCtx, req.Ward)
	if err != nil {
		// Missing background narrows the analysis, never blocks it.
		log.Warn("ward context unavailable", zap.Error(err))
		wardCtx = model.WardContext{Ward: req.Ward}
	}
	out.Progress(progress.StageInitializing, 10, "ward context loaded")

	qc := classify.Classify(req, wardCtx)
	decision := o.router.Route(req, qc)
	out.Progress(progress.StageRouting, 20, decision.Reasoning)

	if decision.Offline {
		o.offline(runCtx, req, key, out, log)
		return
	}

	responses := o.fanOut(runCtx, req, wardCtx, decision, out)

	out.Progress(progress.StageSynthesizing, 85, "merging provider responses")
	result := o.engine.Merge(req, responses)

	o.metrics.Observe("consensus.agreement", result.AgreementScore)
	o.metrics.Time("request.duration_ms", time.Since(start))
	if result.FallbackMode {
		o.metrics.Inc("requests.fallback", 1)
	} else if etag, err := o.cache.Set(runCtx, key, result, o.cacheTTL); err == nil {
		log.Debug("analysis cached", zap.String("key", key), zap.String("etag", etag))
	}

	log.Info("analysis complete",
		zap.Float64("agreement", result.AgreementScore),
		zap.Float64("confidence", result.OverallConfidence),
		zap.Bool("fallback", result.FallbackMode),
	)
	out.Complete(&result)
}

// fanOut invokes the primary and, when selected, secondary provider
// concurrently. Adapters never error; a provider that misses the
// budget contributes a degraded placeholder the consensus engine
// weighs at zero.
func (o *Orchestrator) fanOut(
	ctx context.Context,
	req model.AnalysisRequest,
	wardCtx model.WardContext,
	decision model.RoutingDecision,
	out notifier,
) []*model.ProviderResponse {
	ids := []string{decision.Primary}
	if decision.Secondary != "" {
		ids = append(ids, decision.Secondary)
	}
	out.Progress(progress.StageGathering, 35, fmt.Sprintf("querying %d provider(s)", len(ids)))

	responses := make([]*model.ProviderResponse, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		adapter := o.registry.Get(id)
		if adapter == nil {
			continue
		}
		g.Go(func() error {
			responses[i] = adapter.Invoke(gctx, req, wardCtx)
			return nil
		})
	}
	_ = g.Wait()

	out.Progress(progress.StageAnalyzing, 60, "provider responses received")
	return responses
}

// offline serves the request with no live providers: a cached prior
// result if one exists, otherwise the flagged placeholder.
func (o *Orchestrator) offline(ctx context.Context, req model.AnalysisRequest, key string, out notifier, log *zap.Logger) {
	o.metrics.Inc("requests.offline", 1)

	if entry, err := o.cache.Get(ctx, key); err == nil && entry != nil {
		log.Warn("all providers unavailable, serving cached prior result")
		out.Progress(progress.StageSynthesizing, 90, "all providers unavailable, returning prior analysis")
		out.Complete(&entry.Value)
		return
	}

	log.Warn("all providers unavailable and no cached result")
	o.metrics.Inc("requests.fallback", 1)
	result := o.engine.Merge(req, nil)
	out.Progress(progress.StageSynthesizing, 90, "no providers and no cached result")
	out.Complete(&result)
}
