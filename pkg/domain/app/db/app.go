package db

import (
	"context"

	"github.com/bkpaas/apcp/pkg/domain"
)

// Interface reads the identity graph (Application / Module / ModuleEnv /
// WlApp). Applications and modules are registered by external
// collaborators; this store only navigates them and owns the WlApp rows.
type Interface interface {
	GetApplication(ctx context.Context, code string) (domain.Application, error)

	// ListApplications returns every registered app, in code order.
	// Batch jobs walk this list.
	ListApplications(ctx context.Context) ([]domain.Application, error)

	GetModule(ctx context.Context, appCode string, moduleName string) (domain.Module, error)

	// DefaultModule returns the module flagged as default for the app.
	DefaultModule(ctx context.Context, appCode string) (domain.Module, error)

	ListModules(ctx context.Context, appCode string) ([]domain.Module, error)

	GetEnv(ctx context.Context, appCode string, moduleName string, env domain.Environment) (domain.ModuleEnv, error)

	// ListEnvs returns every env of every module of the app, in
	// (module, environment) order.
	ListEnvs(ctx context.Context, appCode string) ([]domain.ModuleEnv, error)

	GetWlApp(ctx context.Context, name string) (domain.WlApp, error)

	// CreateWlApp registers the workload twin of an env.
	// Fails with ErrConflict when the env already has one.
	CreateWlApp(ctx context.Context, wlapp domain.WlApp) error

	// SetEnvOffline flips the offline marker of an env.
	SetEnvOffline(ctx context.Context, appCode string, moduleName string, env domain.Environment, offline bool) error

	GetCluster(ctx context.Context, name string) (domain.Cluster, error)

	// ClusterForEnv resolves the cluster binding of an env.
	// Fails with ErrClusterNotBound when the env has no binding.
	ClusterForEnv(ctx context.Context, env domain.ModuleEnv) (domain.Cluster, error)
}
