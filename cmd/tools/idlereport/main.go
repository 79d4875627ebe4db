// Command idlereport prints every online env whose instances all stayed
// below the CPU idle threshold over the sampling window. Operators use
// the report to reclaim capacity from forgotten deployments.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	apcp "github.com/bkpaas/apcp/pkg"
	"github.com/bkpaas/apcp/pkg/configs"
	kpool "github.com/bkpaas/apcp/pkg/conn/pool"
	"github.com/bkpaas/apcp/pkg/domain"
	"github.com/bkpaas/apcp/pkg/metrics"
	"github.com/bkpaas/apcp/pkg/utils/try"
)

const defaultIdleCPUMillicores = 50.0

func main() {
	logger := log.Default()

	pconfig := flag.String("config", os.Getenv("APCP_CONFIG"), "path to config file")
	window := flag.Duration("window", 24*time.Hour, "sampling window")
	step := flag.Duration("step", 5*time.Minute, "sampling step")
	threshold := flag.Float64(
		"cpu_threshold", defaultIdleCPUMillicores,
		"avg CPU millicores below which an instance counts as idle",
	)
	flag.Parse()

	ctx := context.Background()
	conf := try.To(configs.Load(*pconfig)).OrFatal(logger)
	pool := try.To(kpool.New(ctx, conf.DB.URI)).OrFatal(logger)
	defer pool.Close()
	rt := try.To(apcp.Attach(ctx, conf, pool, logger)).OrFatal(logger)

	timeRange := metrics.MetricSmartTimeRange{
		Start: time.Now().Add(-*window),
		End:   time.Now(),
		Step:  *step,
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "APP\tMODULE\tENV\tINSTANCES\tAVG CPU (m)")

	found := 0
	apps := try.To(rt.Apps.ListApplications(ctx)).OrFatal(logger)
	for _, app := range apps {
		envs, err := rt.Apps.ListEnvs(ctx, app.Code)
		if err != nil {
			logger.Printf("%s: %s", app.Code, err)
			continue
		}
		for _, env := range envs {
			report, err := inspect(ctx, rt, env, timeRange, *threshold)
			if err != nil {
				logger.Printf("%s: %s", env.WlAppName, err)
				continue
			}
			if report == nil {
				continue
			}
			fmt.Fprintf(
				w, "%s\t%s\t%s\t%d\t%.1f\n",
				env.AppCode, env.ModuleName, env.Environment,
				report.instances, report.avgCPU,
			)
			found += 1
		}
	}
	if err := w.Flush(); err != nil {
		logger.Fatal(err)
	}
	fmt.Printf("\n%d idle env(s)\n", found)
}

type idleEnv struct {
	instances int
	avgCPU    float64
}

// inspect returns nil when the env is offline, scaled to zero, or busy.
func inspect(ctx context.Context, rt *apcp.Runtime, env domain.ModuleEnv, timeRange metrics.MetricSmartTimeRange, threshold float64) (*idleEnv, error) {
	if env.IsOffline {
		return nil, nil
	}
	wlapp, err := rt.Apps.GetWlApp(ctx, env.WlAppName)
	if err != nil {
		return nil, err
	}
	snapshot, err := rt.Controller.Snapshot(ctx, env, 0)
	if err != nil {
		return nil, err
	}
	if len(snapshot.Instances) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(snapshot.Instances))
	for _, instance := range snapshot.Instances {
		names = append(names, instance.Name)
	}
	usages, err := rt.Metrics.ProcessUsage(ctx, wlapp, names, timeRange)
	if err != nil {
		return nil, err
	}

	total, sampled := 0.0, 0
	for _, usage := range usages {
		if usage.Metric != metrics.MetricCPU {
			continue
		}
		if usage.Summary.Avg >= threshold {
			return nil, nil
		}
		total += usage.Summary.Avg
		sampled += 1
	}
	if sampled == 0 {
		return nil, nil
	}
	return &idleEnv{instances: len(names), avgCPU: total / float64(sampled)}, nil
}
