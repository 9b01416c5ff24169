package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civitas-labs/strategist/internal/cost"
	"github.com/civitas-labs/strategist/internal/model"
	"github.com/civitas-labs/strategist/pkg/perplexity"
)

const intelBody = `{
	"id": "cmpl-9",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "Tensions over the depot closure.\n- depot closure announced\n- protest planned saturday"}}],
	"citations": ["https://localnews.example/depot"],
	"search_results": [{"title": "Depot to close", "url": "https://localnews.example/depot", "date": "2026-08-20"}],
	"usage": {"prompt_tokens": 40, "completion_tokens": 30}
}`

func TestWebIntel_Invoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(intelBody))
	}))
	defer srv.Close()

	w := NewWebIntel(perplexity.NewClient("k", perplexity.WithBaseURL(srv.URL)), cost.NewCalculator(cost.DefaultRates()))
	resp, err := w.Invoke(context.Background(), testRequest(), model.WardContext{RecentIssues: []string{"depot closure"}})
	require.NoError(t, err)

	assert.True(t, resp.Succeeded)
	assert.Equal(t, WebIntelligenceID, resp.Provider)
	assert.Equal(t, []string{"depot closure announced", "protest planned saturday"}, resp.Findings)
	// Structured search result and bare citation share a URL — deduped.
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "Depot to close", resp.Citations[0].Title)
	assert.InDelta(t, 0.8, resp.Confidence, 0.001)
	assert.InDelta(t, 0.005, resp.CostUSD, 1e-9)
}

func TestWebIntel_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(intelBody))
	}))
	defer srv.Close()

	w := NewWebIntel(perplexity.NewClient("k", perplexity.WithBaseURL(srv.URL)), cost.NewCalculator(cost.DefaultRates()))
	w.retry.InitialBackoff = 1 // effectively immediate for the test

	resp, err := w.Invoke(context.Background(), testRequest(), model.WardContext{})
	require.NoError(t, err)
	assert.True(t, resp.Succeeded)
	assert.EqualValues(t, 2, hits.Load())
}

func TestWebIntel_NonTransientFailsImmediately(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	w := NewWebIntel(perplexity.NewClient("k", perplexity.WithBaseURL(srv.URL)), cost.NewCalculator(cost.DefaultRates()))
	_, err := w.Invoke(context.Background(), testRequest(), model.WardContext{})
	require.Error(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestWebIntel_UncitedAnswerLowerConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"c","choices":[{"index":0,"message":{"role":"assistant","content":"Nothing notable."}}],"usage":{}}`))
	}))
	defer srv.Close()

	w := NewWebIntel(perplexity.NewClient("k", perplexity.WithBaseURL(srv.URL)), cost.NewCalculator(cost.DefaultRates()))
	resp, err := w.Invoke(context.Background(), testRequest(), model.WardContext{})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, resp.Confidence, 0.001)
	assert.Empty(t, resp.Citations)
}
