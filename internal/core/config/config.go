package config

import (
	"fmt"
	"time"

	"github.com/intelgate/intelgate/internal/audit"
	"github.com/intelgate/intelgate/internal/connector"
	"github.com/intelgate/intelgate/internal/connector/ratelimit"
	"github.com/intelgate/intelgate/internal/connector/retry"
	"github.com/intelgate/intelgate/internal/core/domain"
	"github.com/intelgate/intelgate/internal/infra/secrets"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Secrets  secrets.Config `yaml:"secrets"`
	Database audit.Config   `yaml:"database"`
	Sources  []SourceConfig `yaml:"sources"`
}

// ServerConfig holds ops HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Duration wraps time.Duration so YAML configs can say "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML parses Go duration strings.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// RateLimitConfig mirrors ratelimit.Policy in YAML form.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerHour   int `yaml:"requests_per_hour"`
	RequestsPerDay    int `yaml:"requests_per_day"`
	BurstLimit        int `yaml:"burst_limit"`
}

// RetryConfig mirrors retry.Policy in YAML form. MaxRetries is a pointer
// so an explicit zero (never retry) is distinguishable from unset.
type RetryConfig struct {
	MaxRetries        *int     `yaml:"max_retries"`
	BaseDelay         Duration `yaml:"base_delay"`
	MaxDelay          Duration `yaml:"max_delay"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier"`
}

// SourceConfig holds settings for one external intelligence source.
type SourceConfig struct {
	ID                  string          `yaml:"id"`
	Endpoint            string          `yaml:"endpoint"`
	CredentialID        string          `yaml:"credential_id"`
	Capabilities        []string        `yaml:"capabilities"`
	RateLimits          RateLimitConfig `yaml:"rate_limits"`
	Retry               RetryConfig     `yaml:"retry"`
	HealthCheckInterval Duration        `yaml:"health_check_interval"`
	RequestTimeout      Duration        `yaml:"request_timeout"`
}

// Connector converts the YAML form into the framework's config plus the
// parsed capability set.
func (s SourceConfig) Connector() (connector.Config, []domain.Capability, error) {
	caps := make([]domain.Capability, 0, len(s.Capabilities))
	for _, name := range s.Capabilities {
		c, ok := domain.ParseCapability(name)
		if !ok {
			return connector.Config{}, nil, fmt.Errorf("source %q: unknown capability %q", s.ID, name)
		}
		caps = append(caps, c)
	}

	maxRetries := 3
	if s.Retry.MaxRetries != nil {
		maxRetries = *s.Retry.MaxRetries
	}

	cfg := connector.Config{
		SourceID:     domain.SourceID(s.ID),
		APIEndpoint:  s.Endpoint,
		CredentialID: s.CredentialID,
		RateLimits: ratelimit.Policy{
			RequestsPerMinute: s.RateLimits.RequestsPerMinute,
			RequestsPerHour:   s.RateLimits.RequestsPerHour,
			RequestsPerDay:    s.RateLimits.RequestsPerDay,
			BurstLimit:        s.RateLimits.BurstLimit,
		},
		Retry: retry.Policy{
			MaxRetries:        maxRetries,
			BaseDelay:         time.Duration(s.Retry.BaseDelay),
			MaxDelay:          time.Duration(s.Retry.MaxDelay),
			BackoffMultiplier: s.Retry.BackoffMultiplier,
		},
		HealthCheckInterval: time.Duration(s.HealthCheckInterval),
	}
	return cfg, caps, nil
}
