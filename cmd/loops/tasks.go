package main

import (
	"context"
	"log"
	"time"

	apcp "github.com/bkpaas/apcp/pkg"
	"github.com/bkpaas/apcp/pkg/builder"
	"github.com/bkpaas/apcp/pkg/domain"
	"github.com/bkpaas/apcp/pkg/loop"
	"github.com/bkpaas/apcp/pkg/metrics"
)

const (
	stagePollInterval        = 15 * time.Second
	buildJanitorInterval     = 1 * time.Minute
	metricsCollectorInterval = 10 * time.Minute

	// builderLostAfter exceeds the executor's hard cap, so only runs
	// whose executor died are swept.
	builderLostAfter = builder.DefaultWaitForReadinessTimeout +
		builder.DefaultFollowingLogsTimeout + 10*time.Minute

	// idleCPUMillicores marks an env as an idle candidate when every
	// instance averages below it over the sampling window.
	idleCPUMillicores = 50.0
)

// stagePoller drives pending deployments forward: each round asks the
// stage executor of every non-terminal deployment for fresh status.
func stagePoller(rt *apcp.Runtime, logger *log.Logger) loop.Task[int] {
	return func(ctx context.Context, polled int) (int, loop.Next) {
		pending, err := rt.Releases.ListPendingDeployments(ctx)
		if err != nil {
			logger.Printf("stage poller: list: %+v", err)
			return polled, loop.Continue(stagePollInterval)
		}

		for _, dep := range pending {
			if err := rt.Machine.PollCurrentStage(ctx, dep.Id); err != nil {
				logger.Printf("stage poller: deployment %s: %+v", dep.Id, err)
				continue
			}
			polled += 1
		}
		return polled, loop.Continue(stagePollInterval)
	}
}

// buildJanitor fails pending build runs whose executor has been gone
// for longer than the hard cap. At-least-once delivery means a crashed
// executor leaves its row pending forever otherwise.
func buildJanitor(rt *apcp.Runtime, logger *log.Logger) loop.Task[int] {
	return func(ctx context.Context, swept int) (int, loop.Next) {
		stale, err := rt.Builds.StalePending(ctx, builderLostAfter)
		if err != nil {
			logger.Printf("build janitor: scan: %+v", err)
			return swept, loop.Continue(buildJanitorInterval)
		}

		for _, bp := range stale {
			err := rt.Builds.SetStatus(
				ctx, bp.Id, domain.StatusFailed, "builder executor lost",
			)
			if err != nil {
				logger.Printf("build janitor: %s: %+v", bp.Id, err)
				continue
			}
			logger.Printf("build janitor: swept %s (%s)", bp.Id, bp.WlAppName)
			swept += 1
		}
		return swept, loop.Continue(buildJanitorInterval)
	}
}

// metricsCollector samples resource usage of every online env and logs
// idle candidates. The idle-app report tool reads the same data on
// demand; this loop keeps an eye on it continuously.
func metricsCollector(rt *apcp.Runtime, logger *log.Logger) loop.Task[int] {
	return func(ctx context.Context, rounds int) (int, loop.Next) {
		apps, err := rt.Apps.ListApplications(ctx)
		if err != nil {
			logger.Printf("metrics collector: list apps: %+v", err)
			return rounds, loop.Continue(metricsCollectorInterval)
		}

		window := metrics.MetricSmartTimeRange{
			Start: time.Now().Add(-24 * time.Hour),
			End:   time.Now(),
			Step:  5 * time.Minute,
		}
		for _, app := range apps {
			envs, err := rt.Apps.ListEnvs(ctx, app.Code)
			if err != nil {
				logger.Printf("metrics collector: %s: %+v", app.Code, err)
				continue
			}
			for _, env := range envs {
				if env.IsOffline {
					continue
				}
				if idle, err := envIsIdle(ctx, rt, env, window); err != nil {
					logger.Printf("metrics collector: %s: %+v", env.WlAppName, err)
				} else if idle {
					logger.Printf(
						"idle candidate: %s/%s %s",
						env.AppCode, env.ModuleName, env.Environment,
					)
				}
			}
		}
		return rounds + 1, loop.Continue(metricsCollectorInterval)
	}
}

// envIsIdle reports whether every instance of the env stayed below the
// CPU idle threshold over the window. Envs without instances are not
// idle candidates; they are already scaled down.
func envIsIdle(ctx context.Context, rt *apcp.Runtime, env domain.ModuleEnv, window metrics.MetricSmartTimeRange) (bool, error) {
	wlapp, err := rt.Apps.GetWlApp(ctx, env.WlAppName)
	if err != nil {
		return false, err
	}
	snapshot, err := rt.Controller.Snapshot(ctx, env, 0)
	if err != nil {
		return false, err
	}
	if len(snapshot.Instances) == 0 {
		return false, nil
	}

	names := make([]string, 0, len(snapshot.Instances))
	for _, instance := range snapshot.Instances {
		names = append(names, instance.Name)
	}
	usages, err := rt.Metrics.ProcessUsage(ctx, wlapp, names, window)
	if err != nil {
		return false, err
	}

	for _, usage := range usages {
		if usage.Metric != metrics.MetricCPU {
			continue
		}
		if usage.Summary.Avg >= idleCPUMillicores {
			return false, nil
		}
	}
	return true, nil
}
