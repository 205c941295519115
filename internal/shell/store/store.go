// Package store persists a journal of deployment runs.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Run Journal Types
// =============================================================================

// RunStatus is the terminal state of a deployment run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is one recorded deployment run. The journal is append-only audit data:
// nothing reads it to influence a later run, registry state is re-queried
// every time.
type Run struct {
	ID            string    `db:"id"`
	SourceImage   string    `db:"source_image"`
	Repository    string    `db:"repository"`
	RepositoryURI string    `db:"repository_uri"`
	Region        string    `db:"region"`
	AccountID     string    `db:"account_id"`
	Digest        string    `db:"digest"`
	Status        RunStatus `db:"status"`
	FailedStep    string    `db:"failed_step"`
	Error         string    `db:"error"`
	StartedAt     time.Time `db:"started_at"`
	FinishedAt    time.Time `db:"finished_at"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Store is the journal interface.
type Store interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Close() error
}
