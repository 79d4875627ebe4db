package db

import (
	"context"

	"github.com/bkpaas/apcp/pkg/domain"
)

// Interface persists Releases and the user-facing Deployment /
// OfflineOperation requests.
type Interface interface {
	// NewRelease creates the next release of the WlApp with
	// version = max + 1. The insert locks the WlApp row, so versions are
	// dense and never reused.
	NewRelease(ctx context.Context, wlappName string, buildId string, procfile map[string]string, envVars map[string]string, operator string) (domain.Release, error)

	// LatestRelease returns the newest release, or ErrMissing when the
	// env has never been deployed.
	LatestRelease(ctx context.Context, wlappName string) (domain.Release, error)

	GetRelease(ctx context.Context, wlappName string, version int) (domain.Release, error)

	// NewDeployment opens a deploy request for the env.
	//
	// The pending guard spans Deployments AND OfflineOperations: at most
	// one non-terminal request per env, else ErrPendingOperation.
	NewDeployment(ctx context.Context, env domain.ModuleEnv, buildId string, operator string) (domain.Deployment, error)

	GetDeployment(ctx context.Context, id string) (domain.Deployment, error)

	SetDeploymentStatus(ctx context.Context, id string, status domain.OperationStatus, message string) error

	// ReopenDeployment moves a failed or interrupted deployment back to
	// pending so its stage set can be rebuilt. The pending guard is
	// re-checked; any other non-terminal operation on the env refuses the
	// reopen with ErrPendingOperation.
	ReopenDeployment(ctx context.Context, id string) error

	// HasSuccessfulDeployment reports whether the env was ever deployed.
	HasSuccessfulDeployment(ctx context.Context, env domain.ModuleEnv) (bool, error)

	// ListPendingDeployments returns every non-terminal deployment, in
	// creation order. The stage poller walks this list.
	ListPendingDeployments(ctx context.Context) ([]domain.Deployment, error)

	// NewOfflineOperation opens an archive request, under the same
	// pending guard as NewDeployment. ErrCannotOffline when the env has
	// no successful deployment at all.
	NewOfflineOperation(ctx context.Context, env domain.ModuleEnv, operator string) (domain.OfflineOperation, error)

	GetOfflineOperation(ctx context.Context, id string) (domain.OfflineOperation, error)

	SetOfflineOperationStatus(ctx context.Context, id string, status domain.OperationStatus, message string) error

	// Stages of the release pipeline attached to one Deployment.
	InitStages(ctx context.Context, deploymentId string, stages []domain.ReleaseStage) error
	GetStages(ctx context.Context, deploymentId string) ([]domain.ReleaseStage, error)
	SetStageStatus(ctx context.Context, stageId string, status domain.StageStatus, message string) error
	SetStageTicket(ctx context.Context, stageId string, ticketSn string) error
}
