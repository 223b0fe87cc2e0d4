package audit

import (
	"context"
	"sync"
)

const defaultMemoryCapacity = 1024

// MemoryRecorder keeps the most recent records in a bounded ring. Used
// when no database is configured.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
	cap     int
}

// NewMemoryRecorder creates an in-memory recorder with the default
// capacity.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{cap: defaultMemoryCapacity}
}

// Record appends the entry, evicting the oldest when full.
func (m *MemoryRecorder) Record(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, *rec)
	if len(m.records) > m.cap {
		m.records = m.records[len(m.records)-m.cap:]
	}
	return nil
}

// Recent returns up to n most recent records, newest last.
func (m *MemoryRecorder) Recent(n int) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > len(m.records) {
		n = len(m.records)
	}
	out := make([]Record, n)
	copy(out, m.records[len(m.records)-n:])
	return out
}
