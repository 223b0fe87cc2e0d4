// Package audit records the final outcome of every executed source
// request for the compliance trail. Only call metadata is stored; query
// results are never persisted.
package audit

import (
	"context"
	"time"

	"github.com/intelgate/intelgate/internal/core/domain"
)

// Record is the audit entry for one executed request.
type Record struct {
	ID        string          `db:"id"`
	Source    domain.SourceID `db:"source"`
	Operation string          `db:"operation"`
	Code      string          `db:"code"` // "" on success
	Attempts  int             `db:"attempts"`
	Duration  time.Duration   `db:"duration_ns"`
	Success   bool            `db:"success"`
	CreatedAt time.Time       `db:"created_at"`
}

// Recorder persists audit records. Implementations must tolerate
// concurrent callers.
type Recorder interface {
	Record(ctx context.Context, rec *Record) error
}
