package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the agent_runs status column.
type RunStatus string

// Run statuses persisted in agent_runs.status. Terminal values match the
// goal statuses.
const (
	RunRunning        RunStatus = "running"
	RunAchieved       RunStatus = "achieved"
	RunPartialSuccess RunStatus = "partial_success"
	RunFailed         RunStatus = "failed"
)

// Run models the agent_runs table.
type Run struct {
	// ID is the run UUID shared with progress events.
	ID uuid.UUID
	// Target is the domain the run crawled.
	Target string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run reaches a terminal status.
	FinishedAt *time.Time
	Status     RunStatus
	// Reason optionally stores the terminal reason line.
	Reason *string
	// Records counts accepted job records.
	Records int64
	// Output is the generated file name, if any.
	Output *string
}

// RunRepository persists incremental run progress.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the started_at timestamp.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, target string, startedAt time.Time) error
	// AddRecords applies an accepted-record delta.
	AddRecords(ctx context.Context, runID uuid.UUID, delta int64) error
	// SetOutput stores the generated output file name.
	SetOutput(ctx context.Context, runID uuid.UUID, filename string) error
	// CompleteRun marks the run finished with the provided status and reason.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, reason *string) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
