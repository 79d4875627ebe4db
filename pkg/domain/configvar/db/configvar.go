package db

import (
	"context"

	"github.com/bkpaas/apcp/pkg/domain"
)

// Interface persists user-managed config vars of a module.
type Interface interface {
	List(ctx context.Context, appCode string, moduleName string) ([]domain.ConfigVar, error)

	// Apply upserts the incoming vars: create when absent, overwrite
	// when different, ignore when equivalent. Existing vars not in the
	// list are left alone.
	Apply(ctx context.Context, appCode string, moduleName string, vars []domain.ConfigVar) (domain.ApplyResult, error)

	// BatchSave is Apply plus deletion of persisted vars missing from
	// the incoming list. Atomic per module.
	BatchSave(ctx context.Context, appCode string, moduleName string, vars []domain.ConfigVar) (domain.ApplyResult, error)
}
