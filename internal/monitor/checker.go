package monitor

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/civitas-labs/strategist/internal/config"
	"github.com/civitas-labs/strategist/internal/resilience"
)

// BreakerSource supplies current circuit state per provider, typically
// backed by the provider registry.
type BreakerSource func() map[string]resilience.BreakerState

// Snapshot is the pull-endpoint view of system health.
type Snapshot struct {
	Metrics     []Summary        `json:"metrics"`
	Providers   []ProviderHealth `json:"providers"`
	Alerts      []Alert          `json:"active_alerts"`
	CollectedAt time.Time        `json:"collected_at"`
}

// Checker periodically scores provider health and evaluates alert
// rules in the background.
type Checker struct {
	registry *Registry
	alerter  *Alerter
	breakers BreakerSource
	cfg      config.MonitoringConfig
}

// NewChecker creates a background alert checker.
func NewChecker(registry *Registry, alerter *Alerter, breakers BreakerSource, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		registry: registry,
		alerter:  alerter,
		breakers: breakers,
		cfg:      cfg,
	}
}

// Snapshot assembles the current metrics, provider health, and active
// alerts.
func (c *Checker) Snapshot() Snapshot {
	return Snapshot{
		Metrics:     c.registry.Summaries(),
		Providers:   c.providerHealth(),
		Alerts:      c.alerter.Active(),
		CollectedAt: time.Now().UTC(),
	}
}

// Run starts the periodic check loop. It blocks until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	log := zap.L().With(zap.String("component", "monitor.checker"))
	log.Info("starting alert checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	triggered, resolved := c.alerter.Evaluate(c.values())

	for _, alert := range resolved {
		log.Info("alert resolved",
			zap.String("rule", alert.RuleName),
			zap.Float64("value", alert.Value),
		)
	}
	if len(triggered) == 0 {
		log.Debug("no alerts triggered")
		return
	}

	sent := c.alerter.SendAlerts(ctx, triggered)
	log.Info("alert check complete",
		zap.Int("alerts_triggered", len(triggered)),
		zap.Int("alerts_sent", sent),
	)
}

// values flattens provider health and raw metrics into the value map
// the alert rules read.
func (c *Checker) values() map[string]float64 {
	values := make(map[string]float64)
	for _, h := range c.providerHealth() {
		prefix := "provider." + h.Provider
		values[prefix+".error_rate"] = h.ErrorRate
		values[prefix+".health"] = h.Score
		values[prefix+metricLatency] = c.registry.Value(prefix + metricLatency)
	}
	return values
}

func (c *Checker) providerHealth() []ProviderHealth {
	states := c.breakers()
	out := make([]ProviderHealth, 0, len(states))
	for id, st := range states {
		out = append(out, c.registry.HealthScore(id, st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
