package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civitas-labs/strategist/internal/config"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Comparison is the direction of a rule's threshold check.
type Comparison string

const (
	Above Comparison = "above"
	Below Comparison = "below"
)

// Rule is one declarative alert condition over a metric value.
type Rule struct {
	Name       string     `json:"name"`
	Metric     string     `json:"metric"`
	Comparison Comparison `json:"comparison"`
	Threshold  float64    `json:"threshold"`
	Severity   Severity   `json:"severity"`
}

func (r Rule) holds(value float64) bool {
	if r.Comparison == Below {
		return value < r.Threshold
	}
	return value > r.Threshold
}

// Alert is one firing (or resolved) instance of a rule. At most one
// active alert exists per rule at a time.
type Alert struct {
	ID          string     `json:"id"`
	RuleName    string     `json:"rule_name"`
	Severity    Severity   `json:"severity"`
	Metric      string     `json:"metric"`
	Threshold   float64    `json:"threshold"`
	Value       float64    `json:"value"`
	Message     string     `json:"message"`
	TriggeredAt time.Time  `json:"triggered_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Alerter evaluates rules against metric values and delivers webhook
// notifications on transitions.
type Alerter struct {
	cfg    config.MonitoringConfig
	rules  []Rule
	client *http.Client

	mu     sync.Mutex
	active map[string]*Alert

	nowFunc func() time.Time
}

// NewAlerter creates an alerter with the given rules.
func NewAlerter(cfg config.MonitoringConfig, rules []Rule) *Alerter {
	return &Alerter{
		cfg:     cfg,
		rules:   rules,
		client:  &http.Client{Timeout: 10 * time.Second},
		active:  make(map[string]*Alert),
		nowFunc: time.Now,
	}
}

// DefaultRules builds the standing rule set for the given providers
// from configured thresholds.
func DefaultRules(cfg config.MonitoringConfig, providerIDs []string) []Rule {
	var rules []Rule
	for _, id := range providerIDs {
		prefix := "provider." + id
		rules = append(rules,
			Rule{
				Name:       id + "-error-rate",
				Metric:     prefix + ".error_rate",
				Comparison: Above,
				Threshold:  cfg.ErrorRateThreshold,
				Severity:   SeverityCritical,
			},
			Rule{
				Name:       id + "-availability",
				Metric:     prefix + ".health",
				Comparison: Below,
				Threshold:  cfg.AvailabilityThreshold,
				Severity:   SeverityCritical,
			},
			Rule{
				Name:       id + "-latency",
				Metric:     prefix + metricLatency,
				Comparison: Above,
				Threshold:  float64(cfg.LatencyThresholdMS),
				Severity:   SeverityWarning,
			},
		)
	}
	return rules
}

// Evaluate applies every rule to the given values. A rule whose
// condition newly holds triggers one alert; a rule whose condition
// stops holding resolves its active alert. Re-evaluation while active
// never duplicates.
func (a *Alerter) Evaluate(values map[string]float64) (triggered, resolved []Alert) {
	now := a.nowFunc().UTC()

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, rule := range a.rules {
		value, ok := values[rule.Metric]
		if !ok {
			continue
		}

		current := a.active[rule.Name]
		switch {
		case rule.holds(value) && current == nil:
			alert := &Alert{
				ID:        uuid.New().String(),
				RuleName:  rule.Name,
				Severity:  rule.Severity,
				Metric:    rule.Metric,
				Threshold: rule.Threshold,
				Value:     value,
				Message: fmt.Sprintf("%s: %s is %.4g, %s threshold %.4g",
					rule.Name, rule.Metric, value, rule.Comparison, rule.Threshold),
				TriggeredAt: now,
			}
			a.active[rule.Name] = alert
			triggered = append(triggered, *alert)
		case !rule.holds(value) && current != nil:
			current.ResolvedAt = &now
			resolved = append(resolved, *current)
			delete(a.active, rule.Name)
		}
	}
	return triggered, resolved
}

// Active returns the currently firing alerts, sorted by rule name.
func (a *Alerter) Active() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Alert, 0, len(a.active))
	for _, alert := range a.active {
		out = append(out, *alert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleName < out[j].RuleName })
	return out
}

// SendAlerts delivers alerts to the configured webhook URL. Returns
// the number successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("failed to send alert",
				zap.String("rule", alert.RuleName),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("alert sent",
			zap.String("rule", alert.RuleName),
			zap.String("severity", string(alert.Severity)),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitor: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitor: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitor: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitor: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
