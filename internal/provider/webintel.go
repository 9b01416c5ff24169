package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/civitas-labs/strategist/internal/cost"
	"github.com/civitas-labs/strategist/internal/model"
	"github.com/civitas-labs/strategist/internal/resilience"
	"github.com/civitas-labs/strategist/pkg/perplexity"
)

// WebIntel is the real-time web-intelligence provider, backed by the
// Perplexity search-augmented completion API.
type WebIntel struct {
	client perplexity.Client
	calc   *cost.Calculator
	retry  resilience.RetryConfig
}

// NewWebIntel creates the web-intelligence provider.
func NewWebIntel(client perplexity.Client, calc *cost.Calculator) *WebIntel {
	retry := resilience.DefaultRetryConfig()
	retry.ShouldRetry = retryableWebIntelError
	return &WebIntel{client: client, calc: calc, retry: retry}
}

func (w *WebIntel) ID() string { return WebIntelligenceID }

func (w *WebIntel) Kind() Kind { return KindWebIntelligence }

// EstimateCost is flat per query regardless of depth.
func (w *WebIntel) EstimateCost(model.Depth) float64 {
	return w.calc.WebIntelQuery()
}

// Invoke runs one search-augmented query. Transient upstream statuses
// are retried with backoff before the breaker sees a failure.
func (w *WebIntel) Invoke(ctx context.Context, req model.AnalysisRequest, wardCtx model.WardContext) (*model.ProviderResponse, error) {
	prompt := buildIntelPrompt(req, wardCtx)

	resp, err := resilience.Retry(ctx, w.retry, WebIntelligenceID,
		func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
			return w.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
				Messages: []perplexity.Message{
					{Role: "system", Content: "You are a real-time local political intelligence researcher. Summarize current developments, then list key findings as '- ' bullets. Cite sources."},
					{Role: "user", Content: prompt},
				},
			})
		})
	if err != nil {
		if isTransientWebIntelError(err) {
			err = resilience.NewTransientError(err, statusOf(err))
		}
		return nil, eris.Wrap(err, "webintel: invoke")
	}

	if len(resp.Choices) == 0 {
		return nil, eris.New("webintel: no completion choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, eris.New("webintel: empty completion")
	}

	citations := collectCitations(resp)
	confidence := 0.6
	if len(citations) > 0 {
		// Cited answers are materially more trustworthy.
		confidence = 0.8
	}

	return &model.ProviderResponse{
		Provider:   WebIntelligenceID,
		Summary:    text,
		Findings:   extractFindings(text),
		Citations:  citations,
		Confidence: confidence,
		CostUSD:    w.calc.WebIntelQuery(),
		Succeeded:  true,
	}, nil
}

func buildIntelPrompt(req model.AnalysisRequest, wardCtx model.WardContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "What is currently happening in ward %q that matters politically?", req.Ward)
	if req.Query != "" {
		fmt.Fprintf(&sb, " Focus: %s.", req.Query)
	}
	if len(wardCtx.RecentIssues) > 0 {
		fmt.Fprintf(&sb, " Known local issues: %s.", strings.Join(wardCtx.RecentIssues, "; "))
	}
	return sb.String()
}

// collectCitations merges structured search results with bare citation
// URLs, preferring the structured entries.
func collectCitations(resp *perplexity.ChatCompletionResponse) []model.Citation {
	seen := make(map[string]bool)
	var out []model.Citation
	for _, sr := range resp.SearchResults {
		if sr.URL == "" || seen[sr.URL] {
			continue
		}
		seen[sr.URL] = true
		out = append(out, model.Citation{Title: sr.Title, URL: sr.URL, Source: "web", Date: sr.Date})
	}
	for _, url := range resp.Citations {
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		out = append(out, model.Citation{URL: url, Source: "web"})
	}
	return out
}

func retryableWebIntelError(err error) bool {
	return isTransientWebIntelError(err)
}

func isTransientWebIntelError(err error) bool {
	var se *perplexity.StatusError
	if errors.As(err, &se) {
		return resilience.TransientStatus(se.StatusCode)
	}
	return resilience.IsTransient(err)
}

func statusOf(err error) int {
	var se *perplexity.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
