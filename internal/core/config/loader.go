// Package config loads and validates the service configuration from YAML,
// expanding environment variables in the raw file first.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/intelgate/intelgate/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	for i := range cfg.Sources {
		src := &cfg.Sources[i]

		if src.RateLimits.RequestsPerMinute == 0 {
			src.RateLimits.RequestsPerMinute = 60
		}
		if src.RateLimits.RequestsPerHour == 0 {
			src.RateLimits.RequestsPerHour = 1000
		}
		if src.RateLimits.RequestsPerDay == 0 {
			src.RateLimits.RequestsPerDay = 10000
		}
		if src.RateLimits.BurstLimit == 0 {
			src.RateLimits.BurstLimit = 10
		}

		if src.Retry.BaseDelay == 0 {
			src.Retry.BaseDelay = Duration(time.Second)
		}
		if src.Retry.MaxDelay == 0 {
			src.Retry.MaxDelay = Duration(30 * time.Second)
		}
		if src.Retry.BackoffMultiplier == 0 {
			src.Retry.BackoffMultiplier = 2.0
		}

		if src.HealthCheckInterval == 0 {
			src.HealthCheckInterval = Duration(5 * time.Minute)
		}
		if src.RequestTimeout == 0 {
			src.RequestTimeout = Duration(30 * time.Second)
		}

		// No capability list means everything the contract offers.
		if len(src.Capabilities) == 0 {
			for _, c := range domain.Capabilities {
				src.Capabilities = append(src.Capabilities, string(c))
			}
		}
	}
}

func validate(cfg *AppConfig) error {
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("no sources configured")
	}

	seen := make(map[string]bool)
	for _, src := range cfg.Sources {
		switch {
		case src.ID == "":
			return fmt.Errorf("source with empty id")
		case seen[src.ID]:
			return fmt.Errorf("duplicate source id %q", src.ID)
		case src.Endpoint == "":
			return fmt.Errorf("source %q: endpoint is required", src.ID)
		case src.CredentialID == "":
			return fmt.Errorf("source %q: credential_id is required", src.ID)
		case src.Retry.BackoffMultiplier <= 1:
			return fmt.Errorf("source %q: backoff_multiplier must be > 1", src.ID)
		case src.Retry.MaxRetries != nil && *src.Retry.MaxRetries < 0:
			return fmt.Errorf("source %q: max_retries must be >= 0", src.ID)
		}
		seen[src.ID] = true

		for _, name := range src.Capabilities {
			if _, ok := domain.ParseCapability(name); !ok {
				return fmt.Errorf("source %q: unknown capability %q", src.ID, name)
			}
		}
	}
	return nil
}
