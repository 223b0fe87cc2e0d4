// Package health tracks per-source availability with hysteresis: a source
// is assumed usable until a few consecutive failures prove otherwise, and a
// single success flips it back. This avoids flapping on isolated transient
// errors.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/intelgate/intelgate/internal/core/domain"
)

// failureThreshold is the number of consecutive failures before a source
// is marked unhealthy.
const failureThreshold = 3

// Probe is a source-specific lightweight check supplied by the concrete
// connector.
type Probe func(ctx context.Context) error

// SourceHealth is a read-only snapshot of a source's health state.
type SourceHealth struct {
	SourceID   domain.SourceID `json:"source_id"`
	Healthy    bool            `json:"healthy"`
	ErrorCount int             `json:"error_count"`
	LastCheck  time.Time       `json:"last_check"`
	NextCheck  time.Time       `json:"next_check"`
}

// Monitor owns the health state of one source. It is the only mutator of
// that state; recordings from the retry layer and explicit probes both
// serialize through its mutex.
type Monitor struct {
	mu         sync.Mutex
	sourceID   domain.SourceID
	interval   time.Duration
	healthy    bool
	errorCount int
	lastCheck  time.Time
	nextCheck  time.Time

	now func() time.Time
}

// NewMonitor creates a monitor that starts healthy, so the first real call
// is never needlessly blocked.
func NewMonitor(sourceID domain.SourceID, interval time.Duration) *Monitor {
	return &Monitor{
		sourceID: sourceID,
		interval: interval,
		healthy:  true,
		now:      time.Now,
	}
}

// RecordSuccess resets the failure streak and marks the source healthy.
func (m *Monitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount = 0
	m.healthy = true
}

// RecordFailure counts a final (post-retry) failure. The healthy flag only
// flips once the streak crosses the threshold.
func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount++
	if m.errorCount >= failureThreshold {
		m.healthy = false
	}
}

// PerformCheck runs the probe and folds its outcome into the health state,
// updating the check timestamps. Returns the probe outcome.
func (m *Monitor) PerformCheck(ctx context.Context, probe Probe) bool {
	err := probe(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.lastCheck = now
	m.nextCheck = now.Add(m.interval)

	if err != nil {
		m.errorCount++
		if m.errorCount >= failureThreshold {
			m.healthy = false
		}
		return false
	}

	m.errorCount = 0
	m.healthy = true
	return true
}

// Snapshot returns a copy of the current health state.
func (m *Monitor) Snapshot() SourceHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SourceHealth{
		SourceID:   m.sourceID,
		Healthy:    m.healthy,
		ErrorCount: m.errorCount,
		LastCheck:  m.lastCheck,
		NextCheck:  m.nextCheck,
	}
}
