// Package connector provides the polymorphic base every external-source
// integration builds on. The base composes the rate limiter, retry
// executor, credential manager, and health monitor; concrete sources add
// the capability request logic.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/intelgate/intelgate/internal/audit"
	"github.com/intelgate/intelgate/internal/connector/credentials"
	"github.com/intelgate/intelgate/internal/connector/health"
	"github.com/intelgate/intelgate/internal/connector/ratelimit"
	"github.com/intelgate/intelgate/internal/connector/retry"
	"github.com/intelgate/intelgate/internal/core/domain"
	"github.com/intelgate/intelgate/internal/metrics"
)

// Config is supplied once at construction and treated as immutable for the
// connector's lifetime. Policy hot-updates go through the rate limiter
// directly, not the connector.
type Config struct {
	SourceID            domain.SourceID
	APIEndpoint         string
	CredentialID        string
	RateLimits          ratelimit.Policy
	Retry               retry.Policy
	HealthCheckInterval time.Duration
}

// Connector is the capability surface of one external source. A source
// that does not support a capability returns
// *UnsupportedCapabilityError for it.
type Connector interface {
	SourceID() domain.SourceID
	Capabilities() []domain.Capability

	SearchCredentials(ctx context.Context, q domain.Query) (*domain.SearchResult, error)
	SearchMarketplaces(ctx context.Context, q domain.Query) (*domain.SearchResult, error)
	SearchBreachDatabases(ctx context.Context, q domain.Query) (*domain.SearchResult, error)
	MonitorKeywords(ctx context.Context, keyword string) (*domain.SearchResult, error)

	CheckHealth(ctx context.Context) bool
	Health() health.SourceHealth
	LimiterStatus() ratelimit.Status
	HealthCheckInterval() time.Duration
}

// UnsupportedCapabilityError marks a capability a source cannot serve.
type UnsupportedCapabilityError struct {
	Source     domain.SourceID
	Capability domain.Capability
}

func (e *UnsupportedCapabilityError) Error() string {
	return fmt.Sprintf("source %s does not support %s", e.Source, e.Capability)
}

// Base composes the framework components for one source. Concrete
// connectors embed it and delegate their capability calls through Execute.
type Base struct {
	cfg     Config
	limiter *ratelimit.Limiter
	creds   *credentials.Manager
	monitor *health.Monitor
	exec    *retry.Executor
	log     *slog.Logger
}

// NewBase wires the four framework components from config.
func NewBase(cfg Config, store credentials.SecretStore, recorder audit.Recorder, log *slog.Logger) *Base {
	if log == nil {
		log = slog.Default()
	}
	limiter := ratelimit.New(cfg.RateLimits)
	creds := credentials.NewManager(store, cfg.CredentialID)
	monitor := health.NewMonitor(cfg.SourceID, cfg.HealthCheckInterval)

	return &Base{
		cfg:     cfg,
		limiter: limiter,
		creds:   creds,
		monitor: monitor,
		exec:    retry.NewExecutor(cfg.SourceID, cfg.Retry, limiter, creds, monitor, recorder, log),
		log:     log.With("source", cfg.SourceID),
	}
}

func (b *Base) SourceID() domain.SourceID { return b.cfg.SourceID }

// Endpoint returns the configured API endpoint.
func (b *Base) Endpoint() string { return b.cfg.APIEndpoint }

// HealthCheckInterval returns the configured probe cadence.
func (b *Base) HealthCheckInterval() time.Duration { return b.cfg.HealthCheckInterval }

// Health returns the current health snapshot.
func (b *Base) Health() health.SourceHealth { return b.monitor.Snapshot() }

// LimiterStatus returns the current admission-control state.
func (b *Base) LimiterStatus() ratelimit.Status { return b.limiter.Status() }

// Limiter exposes the rate limiter for operator-level operations
// (policy hot-updates, reset).
func (b *Base) Limiter() *ratelimit.Limiter { return b.limiter }

// Credentials exposes the credential manager so concrete sources can
// authenticate their health probes.
func (b *Base) Credentials() *credentials.Manager { return b.creds }

// Execute runs one capability operation through the retry executor and
// wraps the findings into a SearchResult.
func (b *Base) Execute(
	ctx context.Context,
	capability domain.Capability,
	op func(ctx context.Context, creds *credentials.Credentials) ([]domain.Finding, error),
) (*domain.SearchResult, error) {
	start := time.Now()
	result, err := b.exec.Execute(ctx, string(capability),
		func(ctx context.Context, creds *credentials.Credentials) (any, error) {
			return op(ctx, creds)
		})
	if err != nil {
		return nil, err
	}

	findings, _ := result.([]domain.Finding)
	return &domain.SearchResult{
		Source:     b.cfg.SourceID,
		Capability: capability,
		Findings:   findings,
		Took:       time.Since(start),
	}, nil
}

// RunHealthCheck performs the probe and publishes the outcome to metrics.
func (b *Base) RunHealthCheck(ctx context.Context, probe health.Probe) bool {
	ok := b.monitor.PerformCheck(ctx, probe)

	outcome := "pass"
	healthy := 1.0
	if !ok {
		outcome = "fail"
	}
	if !b.monitor.Snapshot().Healthy {
		healthy = 0
	}
	metrics.HealthChecksTotal.WithLabelValues(string(b.cfg.SourceID), outcome).Inc()
	metrics.SourceHealthy.WithLabelValues(string(b.cfg.SourceID)).Set(healthy)
	return ok
}

// Unsupported builds the rejection for a capability this source lacks.
func (b *Base) Unsupported(capability domain.Capability) error {
	return &UnsupportedCapabilityError{Source: b.cfg.SourceID, Capability: capability}
}
