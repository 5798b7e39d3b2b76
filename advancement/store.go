/*
store.go - Persistence interfaces for advancement records

PURPOSE:
  Decouples the engine from the database. The engine only needs
  "get all / replace all" for detection runs; operator transitions
  need single-record access plus an audit trail.

KEY INTERFACES:
  Repository:     GetAll / ReplaceAll (batch snapshot)
  RecordStore:    Repository + Get / ApplyTransition / History
  RunRecorder:    Optional, keeps a history of detection runs
  EmployeeSource: Supplies snapshots to scheduled runs

REPLACE-ALL CONTRACT:
  ReplaceAll() swaps the whole record set atomically. It has no merge
  semantics: two concurrent detection passes would clobber each other,
  which is why Engine serialises them. Operator decisions are merged by
  the engine before the write, and ReplaceBatch appends the matching
  audit entries in the same write. The audit trail is never replaced.

IMPLEMENTATIONS:
  - advancement/store/memory.go: In-memory for tests and demos
  - store/sqlite/sqlite.go: SQLite
*/
package advancement

import (
	"context"
	"time"
)

// Repository persists the result of a detection run.
type Repository interface {
	// GetAll returns every record in the order it was written.
	GetAll(ctx context.Context) ([]Record, error)

	// ReplaceAll atomically replaces every record with records.
	ReplaceAll(ctx context.Context, records []Record) error
}

// RecordStore extends Repository with what operator transitions need.
type RecordStore interface {
	Repository

	// ReplaceBatch replaces every record and appends changes to the audit
	// trail in one atomic write. ReplaceAll is ReplaceBatch without changes.
	ReplaceBatch(ctx context.Context, records []Record, changes []StatusChange) error

	// Get returns the record or (nil, nil) if it does not exist.
	Get(ctx context.Context, id string) (*Record, error)

	// ApplyTransition writes the updated record and its audit entry atomically.
	// Returns ErrRecordNotFound if the record is gone.
	ApplyTransition(ctx context.Context, rec Record, change StatusChange) error

	// History returns the status changes of a record, oldest first. It does
	// not require the record to still be in the current batch.
	History(ctx context.Context, recordID string) ([]StatusChange, error)
}

// RunRecorder keeps the history of detection runs.
type RunRecorder interface {
	SaveDetectionRun(ctx context.Context, run DetectionRun) error
	ListDetectionRuns(ctx context.Context, limit int) ([]DetectionRun, error)
}

// EmployeeSource lists employee snapshots for a detection run.
type EmployeeSource interface {
	ListEmployees(ctx context.Context) ([]EmployeeSnapshot, error)
}

// =============================================================================
// DETECTION RUNS
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// DetectionRun is the persisted summary of one detection pass.
type DetectionRun struct {
	ID          string
	Now         time.Time // instant the employees were evaluated at
	Status      RunStatus
	Evaluated   int
	Ignored     int
	Counts      map[Status]int
	Skipped     []SkippedEmployee
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
