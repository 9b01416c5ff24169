// Package resilience provides the failure-isolation machinery for
// external provider calls: per-provider circuit breakers, retry with
// backoff, and transient error classification.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed is the normal operating state — calls flow through.
	StateClosed State = iota
	// StateOpen means too many consecutive failures — calls take the
	// fallback path without touching the provider.
	StateOpen
	// StateHalfOpen allows a single trial call to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrNoFallback is returned when a call is short-circuited and no
// fallback was supplied.
var ErrNoFallback = eris.New("circuit open and no fallback provided")

// BreakerConfig controls a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before
	// the circuit opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a single
	// half-open trial is permitted. Default: 30s.
	ResetTimeout time.Duration

	// ShouldTrip optionally narrows which errors count toward the
	// failure threshold. If nil, every non-nil error counts.
	ShouldTrip func(err error) bool

	// OnStateChange is called outside the breaker lock when the
	// circuit transitions between states.
	OnStateChange func(provider string, from, to State)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// BreakerState is a read-only snapshot of one breaker, shared with the
// router and the reliability monitor.
type BreakerState struct {
	Provider            string    `json:"provider"`
	State               State     `json:"-"`
	StateName           string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitzero"`
	LastStateChangeAt   time.Time `json:"last_state_change_at,omitzero"`
}

// Breaker is the circuit breaker for a single provider. Each provider
// owns an independent instance; state is never shared across providers.
type Breaker struct {
	provider string
	cfg      BreakerConfig

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	lastStateChangeAt   time.Time
	trialInFlight       bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewBreaker creates a circuit breaker for the named provider.
func NewBreaker(provider string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		provider: provider,
		cfg:      cfg,
		state:    StateClosed,
		nowFunc:  time.Now,
	}
}

// Provider returns the provider id this breaker guards.
func (b *Breaker) Provider() string { return b.provider }

// Call runs op through the breaker. While the circuit is open (and not
// yet eligible for a trial) fallback is invoked instead, and the
// outcome counts as neither success nor failure. When the reset
// timeout has elapsed exactly one trial call is admitted; concurrent
// callers during the trial also take the fallback.
func (b *Breaker) Call(ctx context.Context, op, fallback func(ctx context.Context) error) error {
	allowed, notify := b.acquire()
	if notify != nil {
		notify()
	}
	if !allowed {
		if fallback == nil {
			return ErrNoFallback
		}
		return fallback(ctx)
	}

	err := op(ctx)
	if notify := b.record(err); notify != nil {
		notify()
	}
	return err
}

// Do is like (*Breaker).Call but preserves a typed result.
func Do[T any](ctx context.Context, b *Breaker, op, fallback func(ctx context.Context) (T, error)) (T, error) {
	allowed, notify := b.acquire()
	if notify != nil {
		notify()
	}
	if !allowed {
		if fallback == nil {
			var zero T
			return zero, ErrNoFallback
		}
		return fallback(ctx)
	}

	val, err := op(ctx)
	if notify := b.record(err); notify != nil {
		notify()
	}
	return val, err
}

// Snapshot returns the current breaker state. An open circuit whose
// reset timeout has elapsed reports half-open, since the next call
// would be admitted as a trial.
func (b *Breaker) Snapshot() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.state
	if state == StateOpen && b.nowFunc().Sub(b.lastStateChangeAt) >= b.cfg.ResetTimeout {
		state = StateHalfOpen
	}
	return BreakerState{
		Provider:            b.provider,
		State:               state,
		StateName:           state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureAt:       b.lastFailureAt,
		LastStateChangeAt:   b.lastStateChangeAt,
	}
}

// Reset forces the circuit back to closed. Useful for tests and manual
// recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	notify := b.transition(StateClosed)
	b.consecutiveFailures = 0
	b.trialInFlight = false
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// acquire decides whether the caller may invoke the real operation.
// The returned notify func (possibly nil) fires OnStateChange outside
// the lock.
func (b *Breaker) acquire() (allowed bool, notify func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, nil
	case StateOpen:
		if b.nowFunc().Sub(b.lastStateChangeAt) >= b.cfg.ResetTimeout {
			notify = b.transition(StateHalfOpen)
			b.trialInFlight = true
			return true, notify
		}
		return false, nil
	case StateHalfOpen:
		if b.trialInFlight {
			return false, nil
		}
		b.trialInFlight = true
		return true, nil
	default:
		return true, nil
	}
}

// record applies the outcome of an admitted call.
func (b *Breaker) record(err error) (notify func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	shouldTrip := b.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = func(e error) bool { return e != nil }
	}

	if err == nil || !shouldTrip(err) {
		b.consecutiveFailures = 0
		if b.state == StateHalfOpen {
			notify = b.transition(StateClosed)
		}
		b.trialInFlight = false
		return notify
	}

	b.consecutiveFailures++
	b.lastFailureAt = b.nowFunc()

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			notify = b.transition(StateOpen)
		}
	case StateHalfOpen:
		// A failed trial reopens the circuit and restarts the timer.
		notify = b.transition(StateOpen)
	}
	b.trialInFlight = false
	return notify
}

// transition must be called with the lock held. Returns a func that
// fires OnStateChange, to be invoked after the lock is released.
func (b *Breaker) transition(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.lastStateChangeAt = b.nowFunc()
	if b.cfg.OnStateChange == nil {
		return nil
	}
	provider := b.provider
	cb := b.cfg.OnStateChange
	return func() { cb(provider, from, to) }
}

// Registry holds one breaker per provider. Injected into components
// rather than accessed as an ambient global, so tests can construct a
// fresh registry per case.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewRegistry creates a registry of per-provider circuit breakers.
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for the named provider, creating one if needed.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[provider]; ok {
		return b
	}
	b = NewBreaker(provider, r.cfg)
	r.breakers[provider] = b
	return b
}

// Snapshots returns the state of every registered breaker.
func (r *Registry) Snapshots() map[string]BreakerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]BreakerState, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
