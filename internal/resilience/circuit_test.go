package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failOp(_ context.Context) error { return errBoom }
func okOp(_ context.Context) error   { return nil }

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b := NewBreaker("deep-reasoning", DefaultBreakerConfig())

	var opCalls, fbCalls int
	err := b.Call(context.Background(), func(_ context.Context) error {
		opCalls++
		return nil
	}, func(_ context.Context) error {
		fbCalls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opCalls != 1 || fbCalls != 0 {
		t.Errorf("expected op=1 fallback=0, got op=%d fallback=%d", opCalls, fbCalls)
	}
	if s := b.Snapshot(); s.State != StateClosed {
		t.Errorf("expected closed, got %s", s.State)
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("web-intel", BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		_ = b.Call(context.Background(), failOp, nil)
	}
	if s := b.Snapshot(); s.State != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", s.State)
	}

	// Subsequent calls take the fallback without touching the operation.
	var fbCalls int
	err := b.Call(context.Background(), func(_ context.Context) error {
		t.Error("operation must not run while open")
		return nil
	}, func(_ context.Context) error {
		fbCalls++
		return nil
	})
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	if fbCalls != 1 {
		t.Errorf("expected fallback called once, got %d", fbCalls)
	}

	// Fallback invocations count as neither success nor failure.
	if s := b.Snapshot(); s.ConsecutiveFailures != 3 {
		t.Errorf("expected failures unchanged at 3, got %d", s.ConsecutiveFailures)
	}
}

func TestBreaker_OpenWithoutFallback(t *testing.T) {
	b := NewBreaker("web-intel", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	_ = b.Call(context.Background(), failOp, nil)

	err := b.Call(context.Background(), okOp, nil)
	if !errors.Is(err, ErrNoFallback) {
		t.Errorf("expected ErrNoFallback, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker("deep-reasoning", BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		_ = b.Call(context.Background(), failOp, nil)
	}
	if s := b.Snapshot(); s.ConsecutiveFailures != 2 {
		t.Fatalf("expected 2 failures, got %d", s.ConsecutiveFailures)
	}

	_ = b.Call(context.Background(), okOp, nil)
	if s := b.Snapshot(); s.ConsecutiveFailures != 0 {
		t.Errorf("expected failures reset to 0, got %d", s.ConsecutiveFailures)
	}
}

func TestBreaker_TrialAfterResetTimeout(t *testing.T) {
	now := time.Now()
	b := NewBreaker("web-intel", BreakerConfig{FailureThreshold: 2, ResetTimeout: 100 * time.Millisecond})
	b.nowFunc = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = b.Call(context.Background(), failOp, nil)
	}
	if s := b.Snapshot(); s.State != StateOpen {
		t.Fatalf("expected open, got %s", s.State)
	}

	// Past the reset timeout the snapshot reports half-open.
	b.nowFunc = func() time.Time { return now.Add(200 * time.Millisecond) }
	if s := b.Snapshot(); s.State != StateHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", s.State)
	}

	// Successful trial closes the circuit and zeroes the counter.
	var opCalls int
	err := b.Call(context.Background(), func(_ context.Context) error {
		opCalls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opCalls != 1 {
		t.Errorf("expected 1 trial call, got %d", opCalls)
	}
	s := b.Snapshot()
	if s.State != StateClosed {
		t.Errorf("expected closed after successful trial, got %s", s.State)
	}
	if s.ConsecutiveFailures != 0 {
		t.Errorf("expected 0 failures after trial success, got %d", s.ConsecutiveFailures)
	}
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("web-intel", BreakerConfig{FailureThreshold: 2, ResetTimeout: 100 * time.Millisecond})
	b.nowFunc = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = b.Call(context.Background(), failOp, nil)
	}

	// Trial fails → circuit reopens and the recovery timer restarts.
	now = now.Add(200 * time.Millisecond)
	_ = b.Call(context.Background(), failOp, nil)

	if s := b.Snapshot(); s.State != StateOpen {
		t.Errorf("expected open after failed trial, got %s", s.State)
	}

	// Still open just before the restarted timer elapses.
	now = now.Add(99 * time.Millisecond)
	var fbCalls int
	_ = b.Call(context.Background(), func(_ context.Context) error {
		t.Error("operation must not run before timer elapses")
		return nil
	}, func(_ context.Context) error {
		fbCalls++
		return nil
	})
	if fbCalls != 1 {
		t.Errorf("expected fallback during restarted timer, got %d calls", fbCalls)
	}
}

func TestBreaker_SingleTrialAdmitted(t *testing.T) {
	now := time.Now()
	b := NewBreaker("web-intel", BreakerConfig{FailureThreshold: 1, ResetTimeout: 50 * time.Millisecond})
	b.nowFunc = func() time.Time { return now }

	_ = b.Call(context.Background(), failOp, nil)
	now = now.Add(100 * time.Millisecond)

	// First caller occupies the single trial slot; hold it open by
	// blocking inside the operation while a second caller arrives.
	trialStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Call(context.Background(), func(_ context.Context) error {
			close(trialStarted)
			<-release
			return nil
		}, nil)
	}()

	<-trialStarted
	var fbCalls int
	_ = b.Call(context.Background(), func(_ context.Context) error {
		t.Error("second caller must not run during the trial")
		return nil
	}, func(_ context.Context) error {
		fbCalls++
		return nil
	})
	if fbCalls != 1 {
		t.Errorf("expected concurrent caller to take fallback, got %d", fbCalls)
	}

	close(release)
	<-done
	if s := b.Snapshot(); s.State != StateClosed {
		t.Errorf("expected closed after trial success, got %s", s.State)
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	type change struct {
		provider string
		from, to State
	}
	var mu sync.Mutex
	var changes []change

	b := NewBreaker("deep-reasoning", BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange: func(provider string, from, to State) {
			mu.Lock()
			changes = append(changes, change{provider, from, to})
			mu.Unlock()
		},
	})

	for i := 0; i < 2; i++ {
		_ = b.Call(context.Background(), failOp, nil)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(changes))
	}
	if changes[0].provider != "deep-reasoning" || changes[0].from != StateClosed || changes[0].to != StateOpen {
		t.Errorf("unexpected transition %+v", changes[0])
	}
}

func TestBreaker_ShouldTrip(t *testing.T) {
	b := NewBreaker("web-intel", BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		ShouldTrip:       IsTransient,
	})

	// Non-transient errors do not count toward the threshold.
	for i := 0; i < 5; i++ {
		_ = b.Call(context.Background(), func(_ context.Context) error {
			return errors.New("malformed payload")
		}, nil)
	}
	if s := b.Snapshot(); s.State != StateClosed {
		t.Fatalf("expected closed, got %s", s.State)
	}

	for i := 0; i < 2; i++ {
		_ = b.Call(context.Background(), func(_ context.Context) error {
			return NewTransientError(errors.New("upstream 503"), 503)
		}, nil)
	}
	if s := b.Snapshot(); s.State != StateOpen {
		t.Errorf("expected open after transient failures, got %s", s.State)
	}
}

func TestBreaker_Do(t *testing.T) {
	b := NewBreaker("deep-reasoning", DefaultBreakerConfig())

	val, err := Do(context.Background(), b,
		func(_ context.Context) (int, error) { return 42, nil },
		nil,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 {
		t.Errorf("expected 42, got %d", val)
	}
}

func TestBreaker_DoFallbackWhileOpen(t *testing.T) {
	b := NewBreaker("web-intel", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	_ = b.Call(context.Background(), failOp, nil)

	val, err := Do(context.Background(), b,
		func(_ context.Context) (string, error) { return "live", nil },
		func(_ context.Context) (string, error) { return "placeholder", nil },
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "placeholder" {
		t.Errorf("expected fallback value, got %q", val)
	}
}

func TestBreaker_ConcurrentRecording(t *testing.T) {
	t.Parallel()
	b := NewBreaker("web-intel", BreakerConfig{FailureThreshold: 100, ResetTimeout: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.Call(context.Background(), func(_ context.Context) error {
				if i%2 == 0 {
					return errBoom
				}
				return nil
			}, nil)
		}(i)
	}
	wg.Wait()
	// Just verifying no race/panic; counters depend on interleaving.
}

func TestRegistry_IndependentBreakers(t *testing.T) {
	r := NewRegistry(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	b1 := r.Get("deep-reasoning")
	b2 := r.Get("deep-reasoning")
	b3 := r.Get("web-intel")
	if b1 != b2 {
		t.Error("expected same breaker for same provider")
	}
	if b1 == b3 {
		t.Error("expected distinct breakers per provider")
	}

	_ = b3.Call(context.Background(), failOp, nil)

	snaps := r.Snapshots()
	if snaps["web-intel"].State != StateOpen {
		t.Errorf("expected web-intel open, got %s", snaps["web-intel"].State)
	}
	if snaps["deep-reasoning"].State != StateClosed {
		t.Errorf("expected deep-reasoning closed, got %s", snaps["deep-reasoning"].State)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
