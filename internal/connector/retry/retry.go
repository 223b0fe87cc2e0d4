// Package retry wraps an arbitrary source operation with admission
// control, classification-driven backoff, credential refresh, and health
// reporting.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/intelgate/intelgate/internal/audit"
	"github.com/intelgate/intelgate/internal/connector/credentials"
	"github.com/intelgate/intelgate/internal/connector/health"
	"github.com/intelgate/intelgate/internal/connector/ratelimit"
	"github.com/intelgate/intelgate/internal/core/domain"
	"github.com/intelgate/intelgate/internal/metrics"
)

// CodeCredential is the stable code reported when credentials cannot be
// obtained or refreshed. These failures are fatal and never retried.
const CodeCredential = "CREDENTIAL_ERROR"

// Policy defines retry behavior. Immutable per connector.
type Policy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	MaxRetries:        3,
	BaseDelay:         1 * time.Second,
	MaxDelay:          30 * time.Second,
	BackoffMultiplier: 2.0,
}

// Operation is one unit of work against a source, parameterized by the
// current credential snapshot. Typically an outbound HTTP call.
type Operation func(ctx context.Context, creds *credentials.Credentials) (any, error)

// Error is the final, annotated failure of an executed request.
type Error struct {
	Source    domain.SourceID
	Operation string
	Attempts  int
	Code      string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s failed after %d attempt(s) [%s]: %v",
		e.Source, e.Operation, e.Attempts, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type action int

const (
	actionRetry action = iota
	actionRateLimited
	actionFatal
)

// classify maps the tagged error union onto retry behavior. Anything
// outside the recognized shapes is treated conservatively as fatal.
func classify(err error) action {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == 429:
			return actionRateLimited
		case apiErr.Status >= 500:
			return actionRetry
		default:
			return actionFatal
		}
	}
	var trErr *domain.TransportError
	if errors.As(err, &trErr) {
		return actionRetry
	}
	return actionFatal
}

// Executor runs operations for one source under its rate-limit, retry,
// credential, and health policies.
type Executor struct {
	source   domain.SourceID
	policy   Policy
	limiter  *ratelimit.Limiter
	creds    *credentials.Manager
	health   *health.Monitor
	recorder audit.Recorder // nil disables auditing
	log      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewExecutor wires an executor for one source.
func NewExecutor(
	source domain.SourceID,
	policy Policy,
	limiter *ratelimit.Limiter,
	creds *credentials.Manager,
	healthMon *health.Monitor,
	recorder audit.Recorder,
	log *slog.Logger,
) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		source:   source,
		policy:   policy,
		limiter:  limiter,
		creds:    creds,
		health:   healthMon,
		recorder: recorder,
		log:      log.With("source", source),
		sleep:    ctxSleep,
		now:      time.Now,
	}
}

// Execute runs op under admission control with classified retries.
//
// Rate-limit responses (429) never consume retry budget; they wait out the
// Retry-After hint, or one backoff step when absent, and re-enter
// admission. Transient failures back off exponentially with ±20% jitter up
// to MaxRetries. Permanent failures surface immediately. The health
// monitor sees every final outcome.
func (e *Executor) Execute(ctx context.Context, operation string, op Operation) (any, error) {
	start := e.now()

	creds, err := e.currentCredentials(ctx)
	if err != nil {
		return nil, &Error{
			Source:    e.source,
			Operation: operation,
			Attempts:  0,
			Code:      CodeCredential,
			Err:       err,
		}
	}

	attempts := 0
	retries := 0

	for {
		waitStart := e.now()
		if err := e.limiter.WaitForToken(ctx); err != nil {
			return nil, err
		}
		metrics.AdmissionWait.WithLabelValues(string(e.source)).
			Observe(e.now().Sub(waitStart).Seconds())

		attempts++
		result, opErr := op(ctx, creds)
		if opErr == nil {
			e.health.RecordSuccess()
			e.observe(ctx, operation, "", attempts, e.now().Sub(start), true)
			return result, nil
		}

		// A cancelled caller is not a source failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch classify(opErr) {
		case actionRateLimited:
			delay := retryAfterHint(opErr)
			if delay <= 0 {
				delay = e.backoffDelay(retries)
			}
			e.log.Warn("source rate limited, deferring",
				"operation", operation, "delay", delay)
			if serr := e.sleep(ctx, delay); serr != nil {
				return nil, serr
			}

		case actionRetry:
			if retries < e.policy.MaxRetries {
				delay := withJitter(e.backoffDelay(retries))
				retries++
				e.log.Warn("transient failure, backing off",
					"operation", operation, "attempt", attempts,
					"delay", delay, "error", opErr)
				if serr := e.sleep(ctx, delay); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, e.fail(ctx, operation, attempts, start, opErr)

		case actionFatal:
			return nil, e.fail(ctx, operation, attempts, start, opErr)
		}
	}
}

// currentCredentials returns a valid snapshot, refreshing when the cache
// is empty or expired. Any failure here is fatal to the request.
func (e *Executor) currentCredentials(ctx context.Context) (*credentials.Credentials, error) {
	creds, err := e.creds.Get()
	switch {
	case errors.Is(err, credentials.ErrNoCredentials):
	case err != nil:
		return nil, err
	case creds.Expired(e.now()):
	default:
		return creds, nil
	}

	if err := e.creds.Refresh(ctx); err != nil {
		return nil, err
	}
	return e.creds.Get()
}

func (e *Executor) fail(ctx context.Context, operation string, attempts int, start time.Time, opErr error) error {
	e.health.RecordFailure()
	code := domain.ErrorCode(opErr)
	e.observe(ctx, operation, code, attempts, e.now().Sub(start), false)
	e.log.Error("request failed",
		"operation", operation, "attempts", attempts, "code", code, "error", opErr)
	return &Error{
		Source:    e.source,
		Operation: operation,
		Attempts:  attempts,
		Code:      code,
		Err:       opErr,
	}
}

func (e *Executor) observe(ctx context.Context, operation, code string, attempts int, took time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
		metrics.RequestErrorsTotal.WithLabelValues(string(e.source), code).Inc()
	}
	metrics.RequestsTotal.WithLabelValues(string(e.source), operation, outcome).Inc()
	metrics.RequestLatency.WithLabelValues(string(e.source), operation).Observe(took.Seconds())
	metrics.RetryAttempts.WithLabelValues(string(e.source)).Observe(float64(attempts))

	if e.recorder == nil {
		return
	}
	rec := &audit.Record{
		ID:        uuid.NewString(),
		Source:    e.source,
		Operation: operation,
		Code:      code,
		Attempts:  attempts,
		Duration:  took,
		Success:   success,
		CreatedAt: e.now(),
	}
	if err := e.recorder.Record(ctx, rec); err != nil {
		e.log.Warn("failed to record audit entry", "error", err)
	}
}

func (e *Executor) backoffDelay(step int) time.Duration {
	delay := float64(e.policy.BaseDelay) * math.Pow(e.policy.BackoffMultiplier, float64(step))
	if delay > float64(e.policy.MaxDelay) {
		delay = float64(e.policy.MaxDelay)
	}
	return time.Duration(delay)
}

// withJitter perturbs a delay by ±20% to avoid synchronized retry storms.
func withJitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
}

func retryAfterHint(err error) time.Duration {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
