package db

import (
	"context"
	"time"

	"github.com/bkpaas/apcp/pkg/domain"
)

// Interface persists Build and BuildProcess rows.
type Interface interface {
	// NewBuildProcess opens a build run for the WlApp.
	//
	// The pending guard holds a row lock on the WlApp and refuses with
	// ErrPendingOperation when another non-terminal BuildProcess exists.
	NewBuildProcess(ctx context.Context, wlappName string, builderPodName string) (domain.BuildProcess, error)

	GetBuildProcess(ctx context.Context, id string) (domain.BuildProcess, error)

	// SetStatus moves the run to a new status. Transitions out of a
	// terminal status fail with ErrConflict.
	SetStatus(ctx context.Context, id string, status domain.OperationStatus, message string) error

	// RequestInterrupt stamps interrupt_requested_at. Idempotent; a
	// repeated request keeps the first timestamp. No-op when the run is
	// already terminal.
	RequestInterrupt(ctx context.Context, id string, at time.Time) error

	// Finalize inserts the Build row, points the BuildProcess at it and
	// marks it successful, all in one transaction.
	Finalize(ctx context.Context, id string, build domain.Build) (domain.Build, error)

	GetBuild(ctx context.Context, id string) (domain.Build, error)

	// LatestSuccessful returns the most recent successful build of the
	// WlApp, or ErrMissing.
	LatestSuccessful(ctx context.Context, wlappName string) (domain.Build, error)

	// StalePending returns pending runs whose updated_at is older than
	// age. The loops janitor fails them as lost executors.
	StalePending(ctx context.Context, age time.Duration) ([]domain.BuildProcess, error)
}
