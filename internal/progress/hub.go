// Package progress delivers staged progress events, heartbeats, and a
// single terminal result per analysis connection.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civitas-labs/strategist/internal/model"
)

// EventType discriminates the wire shape of one event.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventHeartbeat EventType = "heartbeat"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
)

// Stage is the orchestration phase a progress event reports.
type Stage string

const (
	StageInitializing Stage = "initializing"
	StageRouting      Stage = "routing"
	StageGathering    Stage = "gathering"
	StageAnalyzing    Stage = "analyzing"
	StageSynthesizing Stage = "synthesizing"
	StageComplete     Stage = "complete"
	StageError        Stage = "error"
)

// Event is one message on a connection's stream. Seq and EmittedAt
// are strictly increasing per connection.
type Event struct {
	ConnectionID string                 `json:"connection_id"`
	Type         EventType              `json:"type"`
	Stage        Stage                  `json:"stage,omitempty"`
	Percent      int                    `json:"percent"`
	Message      string                 `json:"message,omitempty"`
	Result       *model.ConsensusResult `json:"result,omitempty"`
	Seq          uint64                 `json:"seq"`
	EmittedAt    time.Time              `json:"emitted_at"`
}

// Terminal reports whether the event closes the stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Hub tracks all live connections.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]*Connection
	heartbeat time.Duration
	buffer    int
	linger    time.Duration
}

// NewHub creates a hub. heartbeat <= 0 defaults to 15s; buffer <= 0
// defaults to 32 events per connection. Finished connections nobody
// consumes are reaped after a linger of four heartbeat intervals.
func NewHub(heartbeat time.Duration, buffer int) *Hub {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		conns:     make(map[string]*Connection),
		heartbeat: heartbeat,
		buffer:    buffer,
		linger:    4 * heartbeat,
	}
}

// Open creates a connection and starts its heartbeat loop.
func (h *Hub) Open() *Connection {
	c := &Connection{
		id:       uuid.New().String(),
		hub:      h,
		ch:       make(chan Event, h.buffer),
		done:     make(chan struct{}),
		nowFunc:  time.Now,
		lastEmit: time.Now(),
	}

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	go c.heartbeatLoop(h.heartbeat)
	return c
}

// Get returns the connection with the given id, or nil.
func (h *Hub) Get(id string) *Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[id]
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

// Connection is one client's event stream. The orchestration run is
// the producer; the transport layer consumes Events(). All publish
// methods are no-ops once the connection is closed or a terminal
// event has been emitted.
type Connection struct {
	id  string
	hub *Hub
	ch  chan Event

	mu       sync.Mutex
	seq      uint64
	lastEmit time.Time
	terminal bool
	closed   bool

	done chan struct{}

	nowFunc func() time.Time
}

// ID returns the connection id handed to the client.
func (c *Connection) ID() string { return c.id }

// Events is the stream the transport layer reads. The channel is
// closed after the terminal event or on Close.
func (c *Connection) Events() <-chan Event { return c.ch }

// Progress publishes a staged progress event.
func (c *Connection) Progress(stage Stage, percent int, message string) {
	c.publish(Event{Type: EventProgress, Stage: stage, Percent: percent, Message: message})
}

// Complete publishes the terminal success event and closes the stream.
func (c *Connection) Complete(result *model.ConsensusResult) {
	c.publish(Event{Type: EventComplete, Stage: StageComplete, Percent: 100, Result: result})
}

// Error publishes the terminal error event and closes the stream. The
// attached degraded result keeps the terminal payload carrying
// explicit confidence and fallback indicators, same as a completion.
func (c *Connection) Error(message string) {
	c.publish(Event{
		Type:    EventError,
		Stage:   StageError,
		Percent: 100,
		Message: message,
		Result: &model.ConsensusResult{
			OverallConfidence: 0,
			FallbackMode:      true,
			GeneratedAt:       c.nowFunc().UTC(),
		},
	})
}

// Close tears the connection down, as on client disconnect, and
// releases it from the hub. Safe to call any number of times; pending
// publishes become no-ops.
func (c *Connection) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.ch)
	}
	c.mu.Unlock()

	c.hub.remove(c.id)
}

func (c *Connection) publish(ev Event) {
	c.mu.Lock()
	if c.closed || c.terminal {
		c.mu.Unlock()
		return
	}

	c.seq++
	ev.ConnectionID = c.id
	ev.Seq = c.seq
	ev.EmittedAt = c.nextEmitTime()

	if ev.Terminal() {
		// Exactly one terminal event per connection; it also closes
		// the stream so the consumer's range loop ends. The hub entry
		// stays until the consumer calls Close, so a client that
		// subscribes after a fast run still finds its stream — but
		// only for the linger window: a connection nobody ever
		// consumes is reaped so abandoned runs cannot accumulate.
		c.terminal = true
		c.closed = true
		close(c.done)
		select {
		case c.ch <- ev:
		default:
			// Consumer stopped reading without closing; the channel
			// close below still ends its stream.
			zap.L().Warn("terminal event dropped, consumer lagging",
				zap.String("connection", c.id))
		}
		close(c.ch)
		time.AfterFunc(c.hub.linger, func() { c.hub.remove(c.id) })
		c.mu.Unlock()
		return
	}

	select {
	case c.ch <- ev:
	default:
		// Slow consumer: dropping a progress event is preferable to
		// stalling the orchestration run.
		zap.L().Debug("progress event dropped, consumer lagging",
			zap.String("connection", c.id),
			zap.String("stage", string(ev.Stage)),
		)
	}
	c.mu.Unlock()
}

// nextEmitTime keeps EmittedAt strictly increasing even when the
// clock's resolution collapses consecutive events. Caller holds mu.
func (c *Connection) nextEmitTime() time.Time {
	now := c.nowFunc()
	if !now.After(c.lastEmit) {
		now = c.lastEmit.Add(time.Nanosecond)
	}
	c.lastEmit = now
	return now
}

// heartbeatLoop emits a heartbeat whenever the stream has been idle
// for a full interval. Exits when the connection closes, so a dead
// connection's resources are released within one interval.
func (c *Connection) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			idle := c.nowFunc().Sub(c.lastEmit) >= interval
			c.mu.Unlock()
			if idle {
				c.publish(Event{Type: EventHeartbeat})
			}
		}
	}
}
