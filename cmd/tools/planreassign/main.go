// Command planreassign rewrites the resource plan of process specs in
// bulk, e.g. when a plan tier is renamed or an app is moved to a larger
// tier.
//
// The change takes effect on the next deploy or scale of each process;
// this tool does not touch the cluster.
//
// Exit codes: 0 on success, 2 when aborted by the operator or when no
// spec matched.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	apcp "github.com/bkpaas/apcp/pkg"
	"github.com/bkpaas/apcp/pkg/configs"
	kpool "github.com/bkpaas/apcp/pkg/conn/pool"
	"github.com/bkpaas/apcp/pkg/domain"
	"github.com/bkpaas/apcp/pkg/utils/try"
)

func main() {
	logger := log.Default()

	pconfig := flag.String("config", os.Getenv("APCP_CONFIG"), "path to config file")
	appCode := flag.String("app_code", "", "application to rewrite")
	moduleName := flag.String("module", "", "module to rewrite (default: the default module)")
	envName := flag.String("environment", "", "stag | prod (default: both)")
	procName := flag.String("process", "", "process name (default: every process)")

	planName := flag.String("plan", "", "new plan name")
	maxReplicas := flag.Int("max_replicas", 0, "new replica cap (0 = keep)")
	cpuLimit := flag.String("cpu_limit", "", "new CPU limit (empty = keep)")
	memLimit := flag.String("memory_limit", "", "new memory limit (empty = keep)")
	cpuRequest := flag.String("cpu_request", "", "new CPU request (empty = keep)")
	memRequest := flag.String("memory_request", "", "new memory request (empty = keep)")

	dryRun := flag.Bool("dry-run", false, "enumerate affected specs without mutating")
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
	flag.Parse()

	if *appCode == "" || *planName == "" {
		fmt.Fprintln(os.Stderr, "both --app_code and --plan are required")
		os.Exit(2)
	}

	ctx := context.Background()
	conf := try.To(configs.Load(*pconfig)).OrFatal(logger)
	pool := try.To(kpool.New(ctx, conf.DB.URI)).OrFatal(logger)
	defer pool.Close()
	rt := try.To(apcp.Attach(ctx, conf, pool, logger)).OrFatal(logger)

	module := *moduleName
	if module == "" {
		m := try.To(rt.Apps.DefaultModule(ctx, *appCode)).OrFatal(logger)
		module = m.Name
	}

	specs := try.To(collect(ctx, rt, *appCode, module, *envName, *procName)).OrFatal(logger)
	if len(specs) == 0 {
		fmt.Fprintln(os.Stderr, "no process spec matched")
		os.Exit(2)
	}

	fmt.Printf("reassigning %d spec(s) to plan %q:\n", len(specs), *planName)
	for _, spec := range specs {
		fmt.Printf("  - %s %s (plan %s)\n", spec.WlAppName, spec.Name, spec.Plan.Name)
	}
	if *dryRun {
		fmt.Println("dry run, nothing mutated")
		return
	}
	if !*yes && !confirm(fmt.Sprintf("reassign %d spec(s)?", len(specs))) {
		fmt.Println("aborted")
		os.Exit(2)
	}

	for _, spec := range specs {
		spec.Plan.Name = *planName
		if *maxReplicas > 0 {
			spec.Plan.MaxReplicas = *maxReplicas
		}
		if *cpuLimit != "" {
			spec.Plan.CPULimit = *cpuLimit
		}
		if *memLimit != "" {
			spec.Plan.MemoryLimit = *memLimit
		}
		if *cpuRequest != "" {
			spec.Plan.CPURequest = *cpuRequest
		}
		if *memRequest != "" {
			spec.Plan.MemoryRequest = *memRequest
		}
		if err := rt.Specs.Upsert(ctx, spec); err != nil {
			logger.Fatalf("%s %s: %s", spec.WlAppName, spec.Name, err)
		}
	}
	fmt.Printf("reassigned %d spec(s); effective on next deploy or scale\n", len(specs))
}

func collect(ctx context.Context, rt *apcp.Runtime, appCode string, module string, envName string, procName string) ([]domain.ProcessSpec, error) {
	envs, err := rt.Apps.ListEnvs(ctx, appCode)
	if err != nil {
		return nil, err
	}

	collected := []domain.ProcessSpec{}
	for _, env := range envs {
		if env.ModuleName != module {
			continue
		}
		if envName != "" && string(env.Environment) != envName {
			continue
		}
		specs, err := rt.Specs.List(ctx, env.WlAppName)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			if procName != "" && spec.Name != procName {
				continue
			}
			collected = append(collected, spec)
		}
	}
	return collected, nil
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}
