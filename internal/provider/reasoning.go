package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/civitas-labs/strategist/internal/config"
	"github.com/civitas-labs/strategist/internal/cost"
	"github.com/civitas-labs/strategist/internal/model"
	"github.com/civitas-labs/strategist/pkg/anthropic"
)

// Reasoning is the deep-reasoning provider, backed by the Anthropic
// messages API. Model selection scales with requested depth.
type Reasoning struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
	calc   *cost.Calculator
}

// NewReasoning creates the deep-reasoning provider.
func NewReasoning(client anthropic.Client, cfg config.AnthropicConfig, calc *cost.Calculator) *Reasoning {
	return &Reasoning{client: client, cfg: cfg, calc: calc}
}

func (r *Reasoning) ID() string { return DeepReasoningID }

func (r *Reasoning) Kind() Kind { return KindReasoning }

// EstimateCost predicts the call cost for the model the depth selects.
func (r *Reasoning) EstimateCost(depth model.Depth) float64 {
	return r.calc.EstimateReasoning(r.modelFor(depth), depth)
}

func (r *Reasoning) modelFor(depth model.Depth) string {
	switch depth {
	case model.DepthQuick:
		return r.cfg.QuickModel
	case model.DepthDeep:
		return r.cfg.DeepModel
	default:
		return r.cfg.StandardModel
	}
}

// Invoke runs one analysis against the reasoning model.
func (r *Reasoning) Invoke(ctx context.Context, req model.AnalysisRequest, wardCtx model.WardContext) (*model.ProviderResponse, error) {
	mdl := r.modelFor(req.Depth)

	resp, err := r.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     mdl,
		MaxTokens: r.cfg.MaxTokens,
		System:    reasoningSystemPrompt(req.ContextMode),
		Messages: []anthropic.Message{
			{Role: "user", Content: buildAnalysisPrompt(req, wardCtx)},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "reasoning: invoke %s", mdl)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, eris.New("reasoning: empty completion")
	}

	resp.Usage.LogCost(mdl, "analysis")

	confidence := 0.85
	if resp.StopReason == "max_tokens" {
		// Truncated output is a weaker answer.
		confidence = 0.65
	}

	return &model.ProviderResponse{
		Provider:   DeepReasoningID,
		Summary:    text,
		Findings:   extractFindings(text),
		Confidence: confidence,
		CostUSD:    r.calc.Reasoning(mdl, resp.Usage.InputTokens, resp.Usage.OutputTokens),
		Succeeded:  true,
	}, nil
}

func reasoningSystemPrompt(mode model.ContextMode) string {
	base := "You are a ward-level political strategy analyst. Answer with a short prose summary followed by bullet findings, one per line, each starting with '- '."
	switch mode {
	case model.ModeCampaign:
		return base + " Frame the analysis for an active campaign seeking votes."
	case model.ModeGovernance:
		return base + " Frame the analysis for an officeholder focused on delivery."
	case model.ModeOpposition:
		return base + " Frame the analysis from the opposition's point of view."
	default:
		return base + " Keep the framing neutral."
	}
}

func buildAnalysisPrompt(req model.AnalysisRequest, wardCtx model.WardContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Ward: %s\n", req.Ward)
	if req.Query != "" {
		fmt.Fprintf(&sb, "Question: %s\n", req.Query)
	}
	fmt.Fprintf(&sb, "Requested depth: %s\n", req.Depth)

	if wardCtx.ElectoralProfile != "" {
		fmt.Fprintf(&sb, "Electoral profile: %s\n", wardCtx.ElectoralProfile)
	}
	if len(wardCtx.RecentIssues) > 0 {
		fmt.Fprintf(&sb, "Recent issues: %s\n", strings.Join(wardCtx.RecentIssues, "; "))
	}
	keys := make([]string, 0, len(wardCtx.Demographics))
	for k := range wardCtx.Demographics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "Demographic %s: %s\n", k, wardCtx.Demographics[k])
	}

	return sb.String()
}

// extractFindings pulls bullet lines out of a prose answer.
func extractFindings(text string) []string {
	var findings []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		for _, prefix := range []string{"- ", "* ", "• "} {
			if strings.HasPrefix(line, prefix) {
				if f := strings.TrimSpace(strings.TrimPrefix(line, prefix)); f != "" {
					findings = append(findings, f)
				}
				break
			}
		}
	}
	return findings
}
