package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// manualClock lets tests drive time instead of sleeping.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testPolicy() Policy {
	return Policy{
		RequestsPerMinute: 60,
		RequestsPerHour:   1000,
		RequestsPerDay:    10000,
		BurstLimit:        10,
	}
}

// advanceSleep replaces real sleeping with clock advancement, keeping
// WaitForToken loops deterministic. It records every requested wait.
func advanceSleep(clk *manualClock, waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		*waits = append(*waits, d)
		clk.Advance(d)
		return nil
	}
}

func TestBurstThenRefillWait(t *testing.T) {
	clk := newManualClock()
	l := NewWithClock(testPolicy(), clk)

	var waits []time.Duration
	l.sleep = advanceSleep(clk, &waits)

	// The full burst is admitted without waiting.
	for i := 0; i < 10; i++ {
		if err := l.WaitForToken(context.Background()); err != nil {
			t.Fatalf("admission %d: %v", i+1, err)
		}
	}
	if len(waits) != 0 {
		t.Fatalf("expected no waits during burst, got %v", waits)
	}

	// The 11th call must wait for a refill: 60 rpm means 1 token/second.
	if err := l.WaitForToken(context.Background()); err != nil {
		t.Fatalf("11th admission: %v", err)
	}
	if len(waits) == 0 {
		t.Fatal("11th admission did not wait")
	}
	var total time.Duration
	for _, w := range waits {
		total += w
	}
	if total < time.Second {
		t.Errorf("11th admission waited %v, want >= 1s", total)
	}
}

func TestCanMakeRequestAfterExhaustion(t *testing.T) {
	clk := newManualClock()
	l := NewWithClock(testPolicy(), clk)

	var waits []time.Duration
	l.sleep = advanceSleep(clk, &waits)

	for i := 0; i < 10; i++ {
		if err := l.WaitForToken(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if l.CanMakeRequest() {
		t.Error("expected CanMakeRequest to be false after burst exhaustion")
	}

	clk.Advance(500 * time.Millisecond)
	if l.CanMakeRequest() {
		t.Error("half a refill interval should not admit")
	}

	clk.Advance(500 * time.Millisecond)
	if !l.CanMakeRequest() {
		t.Error("expected one refilled token after 1s")
	}
}

func TestMinuteWindowCeiling(t *testing.T) {
	clk := newManualClock()
	l := NewWithClock(Policy{
		RequestsPerMinute: 2,
		RequestsPerHour:   100,
		RequestsPerDay:    1000,
		BurstLimit:        5,
	}, clk)

	var waits []time.Duration
	l.sleep = advanceSleep(clk, &waits)

	for i := 0; i < 2; i++ {
		if err := l.WaitForToken(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	// Tokens remain, but the minute window is full.
	if st := l.Status(); st.AvailableTokens < 1 {
		t.Fatalf("tokens exhausted unexpectedly: %+v", st)
	}
	if l.CanMakeRequest() {
		t.Error("minute ceiling reached, request should be denied")
	}

	// The third admission must be deferred to the window-slot expiry.
	if err := l.WaitForToken(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := l.Status(); st.RequestsLastMinute > 2 {
		t.Errorf("minute window exceeded: %+v", st)
	}
}

func TestWindowCountsNeverExceedPolicy(t *testing.T) {
	clk := newManualClock()
	p := Policy{
		RequestsPerMinute: 3,
		RequestsPerHour:   8,
		RequestsPerDay:    1000,
		BurstLimit:        50,
	}
	l := NewWithClock(p, clk)

	var waits []time.Duration
	l.sleep = advanceSleep(clk, &waits)

	for i := 0; i < 20; i++ {
		if err := l.WaitForToken(context.Background()); err != nil {
			t.Fatal(err)
		}
		st := l.Status()
		if st.RequestsLastMinute > p.RequestsPerMinute {
			t.Fatalf("admission %d: minute count %d > %d", i+1, st.RequestsLastMinute, p.RequestsPerMinute)
		}
		if st.RequestsLastHour > p.RequestsPerHour {
			t.Fatalf("admission %d: hour count %d > %d", i+1, st.RequestsLastHour, p.RequestsPerHour)
		}
		if st.AvailableTokens < 0 || st.AvailableTokens > float64(p.BurstLimit) {
			t.Fatalf("admission %d: tokens %f out of range", i+1, st.AvailableTokens)
		}
	}
}

func TestStatusReadOnly(t *testing.T) {
	clk := newManualClock()
	l := NewWithClock(testPolicy(), clk)

	if err := l.WaitForToken(context.Background()); err != nil {
		t.Fatal(err)
	}

	before := l.Status()
	after := l.Status()
	if before.AvailableTokens != after.AvailableTokens {
		t.Errorf("Status consumed tokens: %f -> %f", before.AvailableTokens, after.AvailableTokens)
	}
	if before.RequestsLastMinute != 1 || before.RequestsLastHour != 1 || before.RequestsLastDay != 1 {
		t.Errorf("unexpected window counts: %+v", before)
	}
	if before.NextTokenAvailable != 0 {
		t.Errorf("tokens available, NextTokenAvailable should be 0, got %v", before.NextTokenAvailable)
	}
}

func TestUpdatePolicyRescalesTokens(t *testing.T) {
	clk := newManualClock()
	l := NewWithClock(testPolicy(), clk)

	for i := 0; i < 5; i++ {
		if err := l.WaitForToken(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	p := testPolicy()
	p.BurstLimit = 20
	l.UpdatePolicy(p)

	st := l.Status()
	// 5 of 10 tokens remained; proportional rescale gives 10 of 20.
	if st.AvailableTokens != 10 {
		t.Errorf("rescaled tokens = %f, want 10", st.AvailableTokens)
	}
	// Historical admissions survive the policy change.
	if st.RequestsLastMinute != 5 {
		t.Errorf("window log reset by UpdatePolicy: %+v", st)
	}
}

func TestReset(t *testing.T) {
	clk := newManualClock()
	l := NewWithClock(testPolicy(), clk)

	for i := 0; i < 7; i++ {
		if err := l.WaitForToken(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	l.Reset()

	st := l.Status()
	if st.AvailableTokens != 10 {
		t.Errorf("tokens after reset = %f, want 10", st.AvailableTokens)
	}
	if st.RequestsLastMinute != 0 || st.RequestsLastHour != 0 || st.RequestsLastDay != 0 {
		t.Errorf("window logs not cleared: %+v", st)
	}
}

func TestWaitCancellation(t *testing.T) {
	clk := newManualClock()
	l := NewWithClock(testPolicy(), clk)

	var waits []time.Duration
	l.sleep = advanceSleep(clk, &waits)

	for i := 0; i < 10; i++ {
		if err := l.WaitForToken(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	before := l.Status()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.WaitForToken(ctx); err == nil {
		t.Fatal("expected cancellation error")
	}

	// An abandoned wait must not consume a token or log an admission.
	after := l.Status()
	if after.RequestsLastDay != before.RequestsLastDay {
		t.Errorf("cancelled wait logged an admission: %+v", after)
	}
}

func TestConcurrentAdmissions(t *testing.T) {
	l := New(Policy{
		RequestsPerMinute: 600,
		RequestsPerHour:   10000,
		RequestsPerDay:    100000,
		BurstLimit:        20,
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.WaitForToken(ctx); err != nil {
				t.Errorf("concurrent admission: %v", err)
			}
		}()
	}
	wg.Wait()

	st := l.Status()
	if st.RequestsLastMinute != 20 {
		t.Errorf("admissions = %d, want 20", st.RequestsLastMinute)
	}
	if st.AvailableTokens < 0 {
		t.Errorf("tokens went negative: %f", st.AvailableTokens)
	}
}
