// Package credentials caches short-lived API credentials fetched from an
// external secret store. The store is an opaque asynchronous collaborator;
// no contract beyond Fetch is assumed.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoCredentials is returned by Get when nothing is cached. Callers must
// Refresh first; the getter never fetches implicitly, which keeps cache
// staleness explicit and testable.
var ErrNoCredentials = errors.New("no credentials cached")

// RefreshError wraps a secret store failure. It is fatal to the current
// operation; retry policy for this path belongs to the caller.
type RefreshError struct {
	CredentialID string
	Err          error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh credentials %q: %v", e.CredentialID, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Credentials is an opaque key-value snapshot (apiKey, secretKey, token,
// ...) with an optional expiry. Snapshots are never mutated in place; a
// refresh installs a new one, so in-flight holders are unaffected.
type Credentials struct {
	Values    map[string]string
	ExpiresAt time.Time
}

// Get returns the value for a key, or "" when absent.
func (c *Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return c.Values[key]
}

// Expired reports whether the snapshot has passed its expiry. A zero
// ExpiresAt means the credentials never expire.
func (c *Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// SecretStore fetches credentials by ID from an external backend.
type SecretStore interface {
	Fetch(ctx context.Context, credentialID string) (*Credentials, error)
}

// Manager caches one credential snapshot for a connector's lifetime,
// replacing it atomically on refresh.
type Manager struct {
	mu           sync.RWMutex
	store        SecretStore
	credentialID string
	current      *Credentials
}

// NewManager creates a manager with an empty cache.
func NewManager(store SecretStore, credentialID string) *Manager {
	return &Manager{store: store, credentialID: credentialID}
}

// Get returns the cached snapshot, or ErrNoCredentials when none exists.
func (m *Manager) Get() (*Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNoCredentials
	}
	return m.current, nil
}

// Refresh fetches from the secret store and installs the new snapshot.
// Store failures are wrapped as *RefreshError and leave the cache as is.
func (m *Manager) Refresh(ctx context.Context) error {
	creds, err := m.store.Fetch(ctx, m.credentialID)
	if err != nil {
		return &RefreshError{CredentialID: m.credentialID, Err: err}
	}

	m.mu.Lock()
	m.current = creds
	m.mu.Unlock()
	return nil
}
