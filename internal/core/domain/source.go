// Package domain defines the shared types of the connector framework:
// source identities, capabilities, queries, findings, and the tagged
// error union produced at the transport boundary.
package domain

import "time"

// SourceID identifies an external intelligence source (e.g., "leaklookup").
type SourceID string

func (s SourceID) String() string { return string(s) }

// Capability names an operation a source may support.
type Capability string

const (
	CapabilityCredentialSearch  Capability = "credential_search"
	CapabilityMarketplaceSearch Capability = "marketplace_search"
	CapabilityBreachSearch      Capability = "breach_search"
	CapabilityKeywordMonitor    Capability = "keyword_monitor"
)

// Capabilities lists every capability a connector can expose.
var Capabilities = []Capability{
	CapabilityCredentialSearch,
	CapabilityMarketplaceSearch,
	CapabilityBreachSearch,
	CapabilityKeywordMonitor,
}

// ParseCapability validates a capability name from configuration.
func ParseCapability(s string) (Capability, bool) {
	for _, c := range Capabilities {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Query is a search request against an external source.
type Query struct {
	Term    string            `json:"term"`
	Limit   int               `json:"limit,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
}

// Finding is one hit returned by an external source. The payload is kept
// opaque; interpretation belongs to the calling layer.
type Finding struct {
	ID         string         `json:"id"`
	Source     SourceID       `json:"source"`
	Capability Capability     `json:"capability"`
	Title      string         `json:"title,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
}

// SearchResult is the outcome of a single capability call.
type SearchResult struct {
	Source     SourceID      `json:"source"`
	Capability Capability    `json:"capability"`
	Findings   []Finding     `json:"findings"`
	Took       time.Duration `json:"took"`
}
