// Package rest implements a Connector for sources exposing the common
// REST search contract. Per-vendor peculiarities stay out of the
// framework; a vendor needing custom request logic gets its own package
// built on the same base.
package rest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/intelgate/intelgate/internal/audit"
	"github.com/intelgate/intelgate/internal/connector"
	"github.com/intelgate/intelgate/internal/connector/credentials"
	"github.com/intelgate/intelgate/internal/core/domain"
	"github.com/intelgate/intelgate/internal/infra/intelapi"
)

var capabilityPaths = map[domain.Capability]string{
	domain.CapabilityCredentialSearch:  "/v1/credentials/search",
	domain.CapabilityMarketplaceSearch: "/v1/marketplaces/search",
	domain.CapabilityBreachSearch:      "/v1/breaches/search",
	domain.CapabilityKeywordMonitor:    "/v1/keywords/monitor",
}

// Source is a REST-backed connector for one external intelligence API.
type Source struct {
	*connector.Base
	client *intelapi.Client
	caps   map[domain.Capability]bool
}

var _ connector.Connector = (*Source)(nil)

// New builds a REST source with the given capability set.
func New(
	cfg connector.Config,
	caps []domain.Capability,
	store credentials.SecretStore,
	recorder audit.Recorder,
	timeout time.Duration,
	log *slog.Logger,
) *Source {
	enabled := make(map[domain.Capability]bool, len(caps))
	for _, c := range caps {
		enabled[c] = true
	}
	return &Source{
		Base:   connector.NewBase(cfg, store, recorder, log),
		client: intelapi.NewClient(cfg.APIEndpoint, timeout),
		caps:   enabled,
	}
}

// Capabilities lists what this source serves, in declaration order.
func (s *Source) Capabilities() []domain.Capability {
	out := make([]domain.Capability, 0, len(s.caps))
	for _, c := range domain.Capabilities {
		if s.caps[c] {
			out = append(out, c)
		}
	}
	return out
}

func (s *Source) SearchCredentials(ctx context.Context, q domain.Query) (*domain.SearchResult, error) {
	return s.search(ctx, domain.CapabilityCredentialSearch, q)
}

func (s *Source) SearchMarketplaces(ctx context.Context, q domain.Query) (*domain.SearchResult, error) {
	return s.search(ctx, domain.CapabilityMarketplaceSearch, q)
}

func (s *Source) SearchBreachDatabases(ctx context.Context, q domain.Query) (*domain.SearchResult, error) {
	return s.search(ctx, domain.CapabilityBreachSearch, q)
}

func (s *Source) MonitorKeywords(ctx context.Context, keyword string) (*domain.SearchResult, error) {
	return s.search(ctx, domain.CapabilityKeywordMonitor, domain.Query{Term: keyword})
}

func (s *Source) search(ctx context.Context, capability domain.Capability, q domain.Query) (*domain.SearchResult, error) {
	if !s.caps[capability] {
		return nil, s.Unsupported(capability)
	}
	path := capabilityPaths[capability]
	return s.Execute(ctx, capability,
		func(ctx context.Context, creds *credentials.Credentials) ([]domain.Finding, error) {
			findings, err := s.client.Search(ctx, path, creds, q)
			if err != nil {
				return nil, err
			}
			for i := range findings {
				findings[i].Source = s.SourceID()
				findings[i].Capability = capability
			}
			return findings, nil
		})
}

// CheckHealth probes the source's ping endpoint with current credentials.
func (s *Source) CheckHealth(ctx context.Context) bool {
	return s.RunHealthCheck(ctx, func(ctx context.Context) error {
		creds, err := s.Credentials().Get()
		if errors.Is(err, credentials.ErrNoCredentials) {
			if err := s.Credentials().Refresh(ctx); err != nil {
				return err
			}
			creds, err = s.Credentials().Get()
		}
		if err != nil {
			return err
		}
		return s.client.Ping(ctx, creds)
	})
}
