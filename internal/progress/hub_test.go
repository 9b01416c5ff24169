package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civitas-labs/strategist/internal/model"
)

func drain(c *Connection) []Event {
	var events []Event
	for ev := range c.Events() {
		events = append(events, ev)
	}
	return events
}

func TestConnection_EventOrderAndTerminal(t *testing.T) {
	h := NewHub(time.Hour, 8)
	c := h.Open()
	require.NotEmpty(t, c.ID())
	assert.Equal(t, 1, h.Len())

	c.Progress(StageInitializing, 5, "validating request")
	c.Progress(StageRouting, 20, "selecting providers")
	c.Progress(StageGathering, 50, "querying providers")
	c.Complete(&model.ConsensusResult{Summary: "done", OverallConfidence: 0.85})

	events := drain(c)
	require.Len(t, events, 4)

	last := events[len(events)-1]
	assert.Equal(t, EventComplete, last.Type)
	assert.Equal(t, 100, last.Percent)
	require.NotNil(t, last.Result)
	assert.Equal(t, "done", last.Result.Summary)

	// Seq and EmittedAt are strictly increasing; percent never
	// decreases before the terminal event.
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
		assert.True(t, events[i].EmittedAt.After(events[i-1].EmittedAt))
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent)
	}

	// The hub entry survives the terminal event for late subscribers;
	// the consumer's Close releases it.
	assert.Equal(t, 1, h.Len())
	c.Close()
	assert.Equal(t, 0, h.Len())
}

func TestConnection_PublishAfterTerminalIsNoop(t *testing.T) {
	h := NewHub(time.Hour, 8)
	c := h.Open()

	c.Error("providers unavailable")
	c.Progress(StageAnalyzing, 60, "late event")
	c.Complete(&model.ConsensusResult{})

	events := drain(c)
	require.Len(t, events, 1, "exactly one terminal event, nothing after")
	assert.Equal(t, EventError, events[0].Type)
}

func TestConnection_ErrorEventCarriesDegradedResult(t *testing.T) {
	h := NewHub(time.Hour, 8)
	c := h.Open()

	c.Error("providers unavailable")

	events := drain(c)
	require.Len(t, events, 1)
	assert.Equal(t, "providers unavailable", events[0].Message)

	// Terminal errors still report confidence and fallback state.
	require.NotNil(t, events[0].Result)
	assert.Zero(t, events[0].Result.OverallConfidence)
	assert.True(t, events[0].Result.FallbackMode)
	assert.False(t, events[0].Result.GeneratedAt.IsZero())
}

func TestHub_ReapsUnconsumedTerminalConnection(t *testing.T) {
	h := NewHub(20*time.Millisecond, 8)
	c := h.Open()

	c.Complete(&model.ConsensusResult{Summary: "done"})
	require.Equal(t, 1, h.Len(), "finished stream stays available for a late subscriber")

	// Nobody ever consumes the stream; the hub must not retain the
	// connection past the linger window.
	require.Eventually(t, func() bool { return h.Len() == 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Nil(t, h.Get(c.ID()))

	// An existing handle can still drain the buffered terminal event.
	events := drain(c)
	require.Len(t, events, 1)
	assert.Equal(t, EventComplete, events[0].Type)
}

func TestConnection_PublishAfterDisconnectIsNoop(t *testing.T) {
	h := NewHub(time.Hour, 8)
	c := h.Open()

	c.Progress(StageRouting, 20, "selecting providers")
	c.Close()
	assert.Equal(t, 0, h.Len())

	// The producer keeps publishing after the client is gone; none of
	// these may panic or error.
	c.Progress(StageGathering, 50, "querying providers")
	c.Complete(&model.ConsensusResult{Summary: "finished anyway"})
	c.Close()

	events := drain(c)
	require.Len(t, events, 1)
	assert.Equal(t, EventProgress, events[0].Type)
}

func TestConnection_Heartbeat(t *testing.T) {
	h := NewHub(20*time.Millisecond, 8)
	c := h.Open()

	var got Event
	select {
	case got = <-c.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat on idle connection")
	}
	assert.Equal(t, EventHeartbeat, got.Type)
	assert.Empty(t, got.Message, "heartbeats carry no progress information")

	c.Close()
}

func TestConnection_SlowConsumerDropsProgressNotTerminal(t *testing.T) {
	h := NewHub(time.Hour, 2)
	c := h.Open()

	for i := 0; i < 10; i++ {
		c.Progress(StageGathering, i*10, "flood")
	}
	c.Complete(&model.ConsensusResult{Summary: "survived"})

	events := drain(c)
	// Buffer of 2 plus nothing read: two progress events retained,
	// terminal dropped but the stream still closed.
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}
}

func TestHub_Get(t *testing.T) {
	h := NewHub(time.Hour, 8)
	c := h.Open()

	assert.Same(t, c, h.Get(c.ID()))
	assert.Nil(t, h.Get("unknown"))

	c.Close()
	assert.Nil(t, h.Get(c.ID()))
}
