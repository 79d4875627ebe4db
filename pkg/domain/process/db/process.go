package db

import (
	"context"
	"time"

	"github.com/bkpaas/apcp/pkg/domain"
)

// DefaultOperationFloor is the minimum interval between mutations of the
// same (WlApp, process name). See Interface.Mutate.
const DefaultOperationFloor = 3 * time.Second

// Interface persists ProcessSpec rows.
type Interface interface {
	Get(ctx context.Context, wlappName string, procName string) (domain.ProcessSpec, error)

	List(ctx context.Context, wlappName string) ([]domain.ProcessSpec, error)

	// Upsert writes the spec row without the frequency floor. Used when
	// a deploy synchronises specs with a Procfile.
	Upsert(ctx context.Context, spec domain.ProcessSpec) error

	// Mutate applies fn to the current spec row and writes the result.
	//
	// The row is locked for the duration; when its updated_at is within
	// the operation-frequency floor the call fails with ErrTooOften and
	// fn is never invoked. This is a correctness property: it keeps
	// reconciliations from overlapping while the cluster catches up.
	Mutate(ctx context.Context, wlappName string, procName string, fn func(*domain.ProcessSpec) error) (domain.ProcessSpec, error)

	// Delete removes the spec row.
	Delete(ctx context.Context, wlappName string, procName string) error
}
