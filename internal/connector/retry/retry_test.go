package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/intelgate/intelgate/internal/audit"
	"github.com/intelgate/intelgate/internal/connector/credentials"
	"github.com/intelgate/intelgate/internal/connector/health"
	"github.com/intelgate/intelgate/internal/connector/ratelimit"
	"github.com/intelgate/intelgate/internal/core/domain"
)

type staticStore struct {
	creds *credentials.Credentials
	err   error
}

func (s *staticStore) Fetch(ctx context.Context, credentialID string) (*credentials.Credentials, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.creds, nil
}

func openPolicy() ratelimit.Policy {
	return ratelimit.Policy{
		RequestsPerMinute: 10000,
		RequestsPerHour:   100000,
		RequestsPerDay:    1000000,
		BurstLimit:        1000,
	}
}

// testExecutor builds an executor whose limiter never blocks and whose
// backoff sleeps only advance a counter.
func testExecutor(t *testing.T, policy Policy, store credentials.SecretStore) (*Executor, *health.Monitor, *[]time.Duration) {
	t.Helper()
	mon := health.NewMonitor("leakdb", time.Minute)
	e := NewExecutor(
		"leakdb",
		policy,
		ratelimit.New(openPolicy()),
		credentials.NewManager(store, "cred-1"),
		mon,
		audit.NewMemoryRecorder(),
		nil,
	)
	var sleeps []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sleeps = append(sleeps, d)
		return nil
	}
	return e, mon, &sleeps
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect action
	}{
		{"http 429", &domain.APIError{Status: 429}, actionRateLimited},
		{"http 500", &domain.APIError{Status: 500}, actionRetry},
		{"http 503", &domain.APIError{Status: 503}, actionRetry},
		{"http 400", &domain.APIError{Status: 400}, actionFatal},
		{"http 401", &domain.APIError{Status: 401}, actionFatal},
		{"http 404", &domain.APIError{Status: 404}, actionFatal},
		{"conn reset", &domain.TransportError{Code: "ECONNRESET"}, actionRetry},
		{"timeout", &domain.TransportError{Code: "ETIMEDOUT"}, actionRetry},
		{"unknown shape", errors.New("something odd"), actionFatal},
	}

	for _, tt := range tests {
		if got := classify(tt.err); got != tt.expect {
			t.Errorf("classify(%s) = %v, want %v", tt.name, got, tt.expect)
		}
	}
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	store := &staticStore{creds: &credentials.Credentials{Values: map[string]string{"apiKey": "k"}}}
	e, mon, sleeps := testExecutor(t, DefaultPolicy, store)

	calls := 0
	result, err := e.Execute(context.Background(), "credential_search",
		func(ctx context.Context, creds *credentials.Credentials) (any, error) {
			calls++
			if calls <= 2 {
				return nil, &domain.TransportError{Code: "ECONNRESET"}
			}
			return "hits", nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if result != "hits" {
		t.Errorf("result = %v, want hits", result)
	}
	if calls != 3 {
		t.Errorf("operation invoked %d times, want 3", calls)
	}
	if len(*sleeps) != 2 {
		t.Errorf("backed off %d times, want 2", len(*sleeps))
	}
	if s := mon.Snapshot(); !s.Healthy || s.ErrorCount != 0 {
		t.Errorf("health after success: %+v", s)
	}
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	store := &staticStore{creds: &credentials.Credentials{}}
	e, mon, sleeps := testExecutor(t, DefaultPolicy, store)

	calls := 0
	_, err := e.Execute(context.Background(), "breach_search",
		func(ctx context.Context, creds *credentials.Credentials) (any, error) {
			calls++
			return nil, &domain.APIError{Status: 400, Body: "bad query"}
		})

	var execErr *Error
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if execErr.Code != "HTTP_400" {
		t.Errorf("Code = %q, want HTTP_400", execErr.Code)
	}
	if execErr.Attempts != 1 || calls != 1 {
		t.Errorf("invoked %d times (attempts %d), want exactly 1", calls, execErr.Attempts)
	}
	if len(*sleeps) != 0 {
		t.Errorf("non-retryable error slept %v, want no backoff", *sleeps)
	}
	if s := mon.Snapshot(); s.ErrorCount != 1 {
		t.Errorf("health after failure: %+v", s)
	}
}

func TestRateLimitDoesNotConsumeRetryBudget(t *testing.T) {
	store := &staticStore{creds: &credentials.Credentials{}}
	policy := DefaultPolicy
	policy.MaxRetries = 1
	e, _, sleeps := testExecutor(t, policy, store)

	calls := 0
	result, err := e.Execute(context.Background(), "marketplace_search",
		func(ctx context.Context, creds *credentials.Credentials) (any, error) {
			calls++
			if calls <= 3 {
				return nil, &domain.APIError{Status: 429, RetryAfter: 250 * time.Millisecond}
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("429 responses exhausted retry budget: %v", err)
	}
	if result != "ok" || calls != 4 {
		t.Errorf("calls = %d, result = %v", calls, result)
	}
	for i, d := range *sleeps {
		if d != 250*time.Millisecond {
			t.Errorf("sleep %d = %v, want Retry-After hint honored", i, d)
		}
	}
}

func TestRetriesExhausted(t *testing.T) {
	store := &staticStore{creds: &credentials.Credentials{}}
	policy := DefaultPolicy
	policy.MaxRetries = 2
	e, mon, _ := testExecutor(t, policy, store)

	calls := 0
	_, err := e.Execute(context.Background(), "keyword_monitor",
		func(ctx context.Context, creds *credentials.Credentials) (any, error) {
			calls++
			return nil, &domain.TransportError{Code: "ETIMEDOUT"}
		})

	var execErr *Error
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if calls != 3 || execErr.Attempts != 3 {
		t.Errorf("invoked %d times (attempts %d), want 3", calls, execErr.Attempts)
	}
	if execErr.Code != "ETIMEDOUT" {
		t.Errorf("Code = %q, want ETIMEDOUT", execErr.Code)
	}
	if s := mon.Snapshot(); s.ErrorCount != 1 {
		t.Errorf("exactly one final failure should reach health, got %+v", s)
	}
}

func TestCredentialFailureIsFatal(t *testing.T) {
	store := &staticStore{err: errors.New("vault sealed")}
	e, mon, _ := testExecutor(t, DefaultPolicy, store)

	calls := 0
	_, err := e.Execute(context.Background(), "credential_search",
		func(ctx context.Context, creds *credentials.Credentials) (any, error) {
			calls++
			return nil, nil
		})

	var execErr *Error
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if execErr.Code != CodeCredential || execErr.Attempts != 0 {
		t.Errorf("got code %q attempts %d", execErr.Code, execErr.Attempts)
	}
	var refreshErr *credentials.RefreshError
	if !errors.As(err, &refreshErr) {
		t.Error("underlying *RefreshError not preserved")
	}
	if calls != 0 {
		t.Errorf("operation invoked %d times despite credential failure", calls)
	}
	// Credential failures happen before execution and never reach health.
	if s := mon.Snapshot(); s.ErrorCount != 0 {
		t.Errorf("health touched by credential failure: %+v", s)
	}
}

func TestExpiredCredentialsRefreshed(t *testing.T) {
	fresh := &credentials.Credentials{Values: map[string]string{"token": "new"}}
	store := &staticStore{creds: fresh}
	e, _, _ := testExecutor(t, DefaultPolicy, store)

	// Seed an expired snapshot directly through the manager.
	store.creds = &credentials.Credentials{
		Values:    map[string]string{"token": "old"},
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := e.creds.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	store.creds = fresh

	var seen string
	_, err := e.Execute(context.Background(), "credential_search",
		func(ctx context.Context, creds *credentials.Credentials) (any, error) {
			seen = creds.Get("token")
			return nil, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if seen != "new" {
		t.Errorf("operation saw token %q, want refreshed snapshot", seen)
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	e := &Executor{policy: Policy{
		MaxRetries:        10,
		BaseDelay:         time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}}

	if d := e.backoffDelay(0); d != time.Second {
		t.Errorf("step 0 = %v, want 1s", d)
	}
	if d := e.backoffDelay(2); d != 4*time.Second {
		t.Errorf("step 2 = %v, want 4s", d)
	}
	if d := e.backoffDelay(8); d != 10*time.Second {
		t.Errorf("step 8 = %v, want capped at 10s", d)
	}

	for i := 0; i < 100; i++ {
		d := withJitter(10 * time.Second)
		if d < 8*time.Second || d > 12*time.Second {
			t.Fatalf("jittered delay %v outside +/-20%%", d)
		}
	}
}
