// Package checkpoint persists per-stage pipeline state so interrupted runs
// can resume from the last completed stage instead of starting over.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// SchemaVersion is stamped into every record. Readers reject records written
// with a different version instead of guessing at their layout.
const SchemaVersion = 1

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Record is one completed stage's cumulative state. Seq is the stage's
// position in its pipeline, so Latest can order records without knowing the
// pipeline definition.
type Record struct {
	RunID         string          `json:"run_id"`
	Stage         string          `json:"stage"`
	Seq           int             `json:"seq"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RunMeta describes one run for listing and retention.
type RunMeta struct {
	RunID     string    `json:"run_id"`
	Pipeline  string    `json:"pipeline"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrCorrupt reports a checkpoint that exists but cannot be trusted
// (unreadable JSON or a schema version mismatch).
var ErrCorrupt = errors.New("checkpoint: corrupt record")

// ErrUnknownRun reports a run id with no stored state.
var ErrUnknownRun = errors.New("checkpoint: unknown run")

// Store is the durability seam. Put is at-most-once per (run, stage): a
// second write for the same pair is silently ignored, which makes resumed
// runs idempotent.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, runID, stage string) (Record, bool, error)
	// Latest returns the highest-Seq record of the run.
	Latest(ctx context.Context, runID string) (Record, bool, error)
	List(ctx context.Context, runID string) ([]Record, error)
	Delete(ctx context.Context, runID string) error

	BeginRun(ctx context.Context, meta RunMeta) error
	SetStatus(ctx context.Context, runID, status string) error
	GetRun(ctx context.Context, runID string) (RunMeta, error)
	ListRuns(ctx context.Context) ([]RunMeta, error)
	// Prune removes completed runs older than the cutoff and returns how
	// many it removed. Failed and cancelled runs are kept for inspection.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}
