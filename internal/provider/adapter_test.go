package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civitas-labs/strategist/internal/model"
	"github.com/civitas-labs/strategist/internal/resilience"
)

type recordingObserver struct {
	mu    sync.Mutex
	calls []struct {
		provider  string
		succeeded bool
	}
}

func (r *recordingObserver) ObserveCall(providerID string, _ time.Duration, succeeded bool, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, struct {
		provider  string
		succeeded bool
	}{providerID, succeeded})
}

func testRequest() model.AnalysisRequest {
	return model.AnalysisRequest{Ward: "Test Ward", Query: "housing", Depth: model.DepthQuick, ContextMode: model.ModeNeutral}
}

func TestAdapter_SuccessPassesThrough(t *testing.T) {
	t.Parallel()

	mock := NewMock("deep-reasoning", KindReasoning, "All quiet.", 0.9)
	obs := &recordingObserver{}
	a := NewAdapter(mock, resilience.NewBreaker("deep-reasoning", resilience.DefaultBreakerConfig()), AdapterConfig{}, obs)

	resp := a.Invoke(context.Background(), testRequest(), model.WardContext{})
	require.True(t, resp.Succeeded)
	assert.Equal(t, "All quiet.", resp.Summary)
	assert.InDelta(t, 0.9, resp.Confidence, 0.001)
	assert.GreaterOrEqual(t, resp.LatencyMS, int64(0))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.calls, 1)
	assert.True(t, obs.calls[0].succeeded)
}

func TestAdapter_FailureDegradesToPlaceholder(t *testing.T) {
	t.Parallel()

	mock := NewMock("web-intelligence", KindWebIntelligence, "", 0)
	mock.Err = errors.New("upstream exploded")
	a := NewAdapter(mock, resilience.NewBreaker("web-intelligence", resilience.DefaultBreakerConfig()), AdapterConfig{})

	resp := a.Invoke(context.Background(), testRequest(), model.WardContext{})
	assert.False(t, resp.Succeeded)
	assert.LessOrEqual(t, resp.Confidence, 0.3)
	assert.Contains(t, resp.Error, "upstream exploded")
	assert.Equal(t, "web-intelligence", resp.Provider)
}

func TestAdapter_OpenCircuitSkipsProvider(t *testing.T) {
	t.Parallel()

	mock := NewMock("web-intelligence", KindWebIntelligence, "", 0)
	mock.Err = errors.New("down")
	breaker := resilience.NewBreaker("web-intelligence", resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	a := NewAdapter(mock, breaker, AdapterConfig{})

	// Trip the breaker.
	for i := 0; i < 2; i++ {
		_ = a.Invoke(context.Background(), testRequest(), model.WardContext{})
	}
	require.Equal(t, resilience.StateOpen, a.Breaker().State)

	before := mock.Calls()
	resp := a.Invoke(context.Background(), testRequest(), model.WardContext{})
	assert.Equal(t, before, mock.Calls(), "provider must not be invoked while circuit is open")
	assert.False(t, resp.Succeeded)
	assert.LessOrEqual(t, resp.Confidence, 0.3)
}

func TestAdapter_TimeoutProducesPlaceholder(t *testing.T) {
	t.Parallel()

	mock := NewMock("deep-reasoning", KindReasoning, "slow answer", 0.9)
	mock.Delay = 500 * time.Millisecond
	a := NewAdapter(mock, resilience.NewBreaker("deep-reasoning", resilience.DefaultBreakerConfig()), AdapterConfig{Timeout: 20 * time.Millisecond})

	resp := a.Invoke(context.Background(), testRequest(), model.WardContext{})
	assert.False(t, resp.Succeeded)
	assert.LessOrEqual(t, resp.Confidence, 0.3)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(NewAdapter(NewMock("deep-reasoning", KindReasoning, "a", 0.9), resilience.NewBreaker("deep-reasoning", resilience.DefaultBreakerConfig()), AdapterConfig{}))
	reg.Register(NewAdapter(NewMock("web-intelligence", KindWebIntelligence, "b", 0.8), resilience.NewBreaker("web-intelligence", resilience.DefaultBreakerConfig()), AdapterConfig{}))

	assert.Equal(t, []string{"deep-reasoning", "web-intelligence"}, reg.IDs())
	assert.NotNil(t, reg.Get("deep-reasoning"))
	assert.Nil(t, reg.Get("unknown"))
}

func TestExtractFindings(t *testing.T) {
	t.Parallel()

	text := "Summary paragraph.\n- first finding\n* second finding\n\nnot a bullet\n-   \n- third finding"
	got := extractFindings(text)
	assert.Equal(t, []string{"first finding", "second finding", "third finding"}, got)
}
