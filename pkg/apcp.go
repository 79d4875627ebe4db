// Package apcp assembles the control plane from its parts: stores,
// cluster access, controllers and the release pipeline. Both daemons
// attach the same runtime so their behaviour never drifts apart.
package apcp

import (
	"context"
	"fmt"
	"log"

	"github.com/bkpaas/apcp/pkg/builder"
	"github.com/bkpaas/apcp/pkg/cluster"
	"github.com/bkpaas/apcp/pkg/configs"
	kpool "github.com/bkpaas/apcp/pkg/conn/pool"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	apppg "github.com/bkpaas/apcp/pkg/domain/app/db/postgres"
	builddb "github.com/bkpaas/apcp/pkg/domain/build/db"
	buildpg "github.com/bkpaas/apcp/pkg/domain/build/db/postgres"
	configvardb "github.com/bkpaas/apcp/pkg/domain/configvar/db"
	configvarpg "github.com/bkpaas/apcp/pkg/domain/configvar/db/postgres"
	entrancedb "github.com/bkpaas/apcp/pkg/domain/entrance/db"
	entrancepg "github.com/bkpaas/apcp/pkg/domain/entrance/db/postgres"
	processdb "github.com/bkpaas/apcp/pkg/domain/process/db"
	processpg "github.com/bkpaas/apcp/pkg/domain/process/db/postgres"
	releasedb "github.com/bkpaas/apcp/pkg/domain/release/db"
	releasepg "github.com/bkpaas/apcp/pkg/domain/release/db/postgres"
	"github.com/bkpaas/apcp/pkg/entrance"
	"github.com/bkpaas/apcp/pkg/eventbus"
	"github.com/bkpaas/apcp/pkg/metrics"
	"github.com/bkpaas/apcp/pkg/processes"
	"github.com/bkpaas/apcp/pkg/release"
	"github.com/bkpaas/apcp/pkg/watch"
)

// Runtime is the assembled control plane.
type Runtime struct {
	Apps       appdb.Interface
	Builds     builddb.Interface
	Releases   releasedb.Interface
	Specs      processdb.Interface
	Entrances  entrancedb.Interface
	ConfigVars configvardb.Interface

	Registry *cluster.Registry
	Clients  cluster.Clients

	Bus *eventbus.Bus

	Controller *processes.Controller
	Builder    *builder.Executor
	Machine    *release.Machine

	Entrance *entrance.Service
	Domains  *entrance.CustomDomainManager
	Watcher  *watch.Watcher
	Limiter  *watch.SessionLimiter
	Metrics  *metrics.Service
}

// Attach wires the runtime onto pool per conf.
func Attach(ctx context.Context, conf *configs.Config, pool kpool.Pool, logger *log.Logger) (*Runtime, error) {
	if logger == nil {
		logger = log.Default()
	}

	r := &Runtime{
		Apps:       apppg.New(pool),
		Builds:     buildpg.New(pool),
		Releases:   releasepg.New(pool),
		Specs:      processpg.New(pool),
		Entrances:  entrancepg.New(pool),
		ConfigVars: configvarpg.New(pool),
	}

	r.Registry = cluster.NewRegistry(
		r.Apps,
		cluster.WithTimeouts(conf.Cluster.ConnectTimeout, conf.Cluster.ReadTimeout),
	)
	r.Clients = r.Registry.AsClients()

	r.Bus = eventbus.New(logger)

	r.Entrance = entrance.NewService(r.Apps, r.Releases)
	r.Domains = entrance.NewCustomDomainManager(r.Entrances, r.Apps, r.Releases, r.Clients, entrance.NoMarket{})

	r.Controller = processes.New(
		r.Apps, r.Specs, r.Builds, r.Releases, r.Clients,
		processes.WithSlugRunnerImage(conf.Builder.SlugRunnerImage),
		processes.WithLogger(logger),
	)

	r.Builder = builder.New(
		r.Builds, r.Apps, r.Clients,
		builder.WithBuilderImage(conf.Builder.Image),
		builder.WithPipIndexURL(conf.Builder.PipIndexURL),
		builder.WithSlugPrefix(conf.Builder.SlugPrefix),
		builder.WithTimeouts(conf.Builder.ReadinessWait, conf.Builder.LogsWait),
		builder.WithExtraEnv(func(ctx context.Context, wlapp domain.WlApp) (map[string]string, error) {
			urls, err := r.Entrance.PreallocatedURLs(ctx, wlapp.AppCode)
			if err != nil {
				return nil, err
			}
			return map[string]string{"BKPAAS_DEFAULT_PREALLOCATED_URLS": urls}, nil
		}),
		builder.WithLogger(logger),
	)

	r.Machine = release.New(
		r.Releases, r.stageRegistry(conf),
		release.WithRetryable(conf.Release.Retryable),
		release.WithGrayPlan([]release.StageDef{
			{Name: "build", InvokeMethod: domain.InvokeBuiltin},
			{Name: "canary", InvokeMethod: domain.InvokeCanaryWithITSM},
			{Name: "deploy", InvokeMethod: domain.InvokeBuiltin},
		}),
		release.WithLogger(logger),
	)

	r.Watcher = watch.New(r.Apps, r.Clients, logger)
	r.Limiter = watch.NewSessionLimiter(conf.Watch.SessionLimit, conf.Watch.SessionWindow)

	var backend metrics.Backend
	switch conf.Metrics.Backend {
	case "bkmonitor":
		backend = metrics.NewBKMonitor(conf.Metrics.BKMonitorURL, conf.Metrics.BKMonitorBizId, nil)
	default:
		var err error
		backend, err = metrics.NewPrometheus(conf.Metrics.PrometheusAddress)
		if err != nil {
			return nil, err
		}
	}
	r.Metrics = metrics.NewService(backend)

	return r, nil
}

// stageRegistry binds the invoke methods of the release pipeline.
// Builtin steps are the in-process build check and the deploy itself.
func (r *Runtime) stageRegistry(conf *configs.Config) *release.Registry {
	steps := release.BuiltinSteps{
		"build": func(ctx context.Context, dep domain.Deployment, operator string) error {
			_, err := r.Builds.GetBuild(ctx, dep.BuildId)
			return err
		},
		"deploy": func(ctx context.Context, dep domain.Deployment, operator string) error {
			env, err := r.Apps.GetEnv(ctx, dep.AppCode, dep.ModuleName, dep.Environment)
			if err != nil {
				return err
			}
			build, err := r.Builds.GetBuild(ctx, dep.BuildId)
			if err != nil {
				return err
			}
			rel, err := r.Releases.NewRelease(
				ctx, env.WlAppName, build.Id, build.Procfile, build.EnvVars, operator,
			)
			if err != nil {
				return err
			}
			if err := r.Controller.Deploy(ctx, env, rel); err != nil {
				return err
			}
			if err := entrance.ReconcileEntrances(ctx, r.Apps, r.Clients, env); err != nil {
				return err
			}
			eventbus.Publish(ctx, r.Bus, eventbus.ReleaseAdvanced{
				DeploymentId: dep.Id, StageName: "deploy", Status: domain.StageSuccessful,
			})
			return nil
		},
	}

	itsmExec := release.ITSMExecutor{
		Client: release.NewITSMClient(conf.Release.ITSMURL, nil),
		Ticket: func(dep domain.Deployment, stage domain.ReleaseStage, operator string) release.TicketRequest {
			return release.TicketRequest{
				Title:   fmt.Sprintf("release %s/%s to %s", dep.AppCode, dep.ModuleName, dep.Environment),
				Creator: operator,
				Fields: map[string]string{
					"app_code":      dep.AppCode,
					"module_name":   dep.ModuleName,
					"environment":   string(dep.Environment),
					"deployment_id": dep.Id,
				},
			}
		},
		SaveTicket: r.Releases.SetStageTicket,
	}

	registry := release.NewRegistry()
	registry.Register(domain.InvokeBuiltin, steps)
	registry.Register(domain.InvokeDeployAPI, release.DeployAPIExecutor{BaseURL: conf.Release.DeployAPIURL})
	registry.Register(domain.InvokeITSM, itsmExec)
	registry.Register(domain.InvokeCanaryWithITSM, release.CanaryExecutor{ITSMExecutor: itsmExec})
	return registry
}
