// Package ratelimit implements per-source admission control: a token
// bucket for burst smoothing combined with three sliding-window logs that
// enforce hard minute/hour/day ceilings.
//
// The two mechanisms are different guarantees. A source may tolerate short
// bursts yet forbid exceeding a daily quota even while tokens are
// available, so window logs are kept independently of the bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Policy configures the limiter for one source.
type Policy struct {
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int
	BurstLimit        int
}

// Status is a read-only view of the limiter state.
type Status struct {
	AvailableTokens    float64       `json:"available_tokens"`
	RequestsLastMinute int           `json:"requests_last_minute"`
	RequestsLastHour   int           `json:"requests_last_hour"`
	RequestsLastDay    int           `json:"requests_last_day"`
	NextTokenAvailable time.Duration `json:"next_token_available"`
}

// Limiter is the admission controller for a single source. All state is
// owned by the limiter and serialized under one mutex so token counts and
// window logs stay consistent under concurrent WaitForToken calls.
type Limiter struct {
	mu         sync.Mutex
	policy     Policy
	tokens     float64
	lastRefill time.Time

	minuteLog []time.Time
	hourLog   []time.Time
	dayLog    []time.Time

	clock Clock
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter with a full bucket, using the system clock.
func New(p Policy) *Limiter {
	return NewWithClock(p, systemClock{})
}

// NewWithClock creates a limiter with an injected clock for deterministic
// tests.
func NewWithClock(p Policy, clk Clock) *Limiter {
	l := &Limiter{
		policy:     p,
		tokens:     float64(p.BurstLimit),
		lastRefill: clk.Now(),
		clock:      clk,
	}
	l.sleep = l.timerSleep
	return l
}

// CanMakeRequest reports whether a request would be admitted right now.
// Non-blocking, consumes nothing.
func (l *Limiter) CanMakeRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.refillLocked(now)
	l.pruneLocked(now)
	return l.tokens >= 1 && l.windowsOpenLocked()
}

// WaitForToken blocks until a request is admitted or ctx is done. One
// token is consumed and the admission timestamp is appended to all three
// window logs. Waits are re-evaluated in a loop rather than a single
// sleep, so clock drift only delays admission, never breaks the ceilings.
// A cancelled wait consumes nothing.
func (l *Limiter) WaitForToken(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.clock.Now()
		l.refillLocked(now)
		l.pruneLocked(now)

		if l.tokens >= 1 && l.windowsOpenLocked() {
			l.tokens--
			l.minuteLog = append(l.minuteLog, now)
			l.hourLog = append(l.hourLog, now)
			l.dayLog = append(l.dayLog, now)
			l.mu.Unlock()
			return nil
		}

		wait := l.nextAdmissionWaitLocked(now)
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Status returns the current limiter state after lazy refill and pruning.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.refillLocked(now)
	l.pruneLocked(now)

	var next time.Duration
	if l.tokens < 1 {
		next = l.tokenWaitLocked()
	}

	return Status{
		AvailableTokens:    l.tokens,
		RequestsLastMinute: len(l.minuteLog),
		RequestsLastHour:   len(l.hourLog),
		RequestsLastDay:    len(l.dayLog),
		NextTokenAvailable: next,
	}
}

// UpdatePolicy replaces the policy at runtime. Available tokens are
// rescaled proportionally so in-flight callers are neither starved nor
// granted a windfall. Window logs are kept: they record real admissions,
// and the new ceilings apply prospectively.
func (l *Limiter) UpdatePolicy(p Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.refillLocked(now)

	if l.policy.BurstLimit > 0 {
		l.tokens = float64(p.BurstLimit) * l.tokens / float64(l.policy.BurstLimit)
	} else {
		l.tokens = float64(p.BurstLimit)
	}
	if l.tokens > float64(p.BurstLimit) {
		l.tokens = float64(p.BurstLimit)
	}
	l.policy = p
}

// Reset clears the window logs and refills the bucket. Operator-triggered
// recovery only; normal request flow never calls this.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = float64(l.policy.BurstLimit)
	l.lastRefill = l.clock.Now()
	l.minuteLog = nil
	l.hourLog = nil
	l.dayLog = nil
}

func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed.Seconds() * float64(l.policy.RequestsPerMinute) / 60
	if l.tokens > float64(l.policy.BurstLimit) {
		l.tokens = float64(l.policy.BurstLimit)
	}
	l.lastRefill = now
}

func (l *Limiter) pruneLocked(now time.Time) {
	l.minuteLog = pruneLog(l.minuteLog, now.Add(-time.Minute))
	l.hourLog = pruneLog(l.hourLog, now.Add(-time.Hour))
	l.dayLog = pruneLog(l.dayLog, now.Add(-24*time.Hour))
}

func (l *Limiter) windowsOpenLocked() bool {
	return len(l.minuteLog) < l.policy.RequestsPerMinute &&
		len(l.hourLog) < l.policy.RequestsPerHour &&
		len(l.dayLog) < l.policy.RequestsPerDay
}

// tokenWaitLocked returns the time until one whole token is available.
func (l *Limiter) tokenWaitLocked() time.Duration {
	missing := 1 - l.tokens
	secsPerToken := 60 / float64(l.policy.RequestsPerMinute)
	return time.Duration(missing * secsPerToken * float64(time.Second))
}

// nextAdmissionWaitLocked computes how long until every currently binding
// constraint (token refill, window-slot expiry) could have cleared. The
// caller re-evaluates after sleeping, so this is an estimate, not a grant.
func (l *Limiter) nextAdmissionWaitLocked(now time.Time) time.Duration {
	wait := time.Duration(0)

	if l.tokens < 1 {
		wait = l.tokenWaitLocked()
	}

	windowWait := func(log []time.Time, limit int, window time.Duration) time.Duration {
		if len(log) < limit || len(log) == 0 {
			return 0
		}
		return log[0].Add(window).Sub(now)
	}

	for _, w := range []time.Duration{
		windowWait(l.minuteLog, l.policy.RequestsPerMinute, time.Minute),
		windowWait(l.hourLog, l.policy.RequestsPerHour, time.Hour),
		windowWait(l.dayLog, l.policy.RequestsPerDay, 24*time.Hour),
	} {
		if w > wait {
			wait = w
		}
	}

	// Floor the wait so a zero or negative estimate cannot spin the loop.
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return wait
}

func (l *Limiter) timerSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pruneLog drops timestamps at or before cutoff. Logs are append-only in
// admission order, so a single forward scan finds the first retained entry.
func pruneLog(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return log
	}
	return append(log[:0], log[i:]...)
}
