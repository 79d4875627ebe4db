package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	apcp "github.com/bkpaas/apcp/pkg"
	"github.com/bkpaas/apcp/pkg/configs"
	kpool "github.com/bkpaas/apcp/pkg/conn/pool"
	"github.com/bkpaas/apcp/pkg/loop"
	"github.com/bkpaas/apcp/pkg/utils/filewatch"
	"github.com/bkpaas/apcp/pkg/utils/try"
)

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill, syscall.SIGTERM,
	)
	defer cancel()

	pconfig := flag.String("config", os.Getenv("APCP_CONFIG"), "path to config file")
	ptype := flag.String(
		"type", "",
		"loop to run: stage_poller | build_janitor | metrics_collector",
	)
	flag.Parse()

	{
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *pconfig)
		if err != nil {
			logger.Fatal(err)
		}
		defer cancel()
		ctx = wctx
	}

	conf := try.To(configs.Load(*pconfig)).OrFatal(logger)

	pool := try.To(kpool.New(ctx, conf.DB.URI)).OrFatal(logger)
	defer pool.Close()

	rt := try.To(apcp.Attach(ctx, conf, pool, logger)).OrFatal(logger)

	var task loop.Task[int]
	switch *ptype {
	case "stage_poller":
		task = stagePoller(rt, logger)
	case "build_janitor":
		task = buildJanitor(rt, logger)
	case "metrics_collector":
		task = metricsCollector(rt, logger)
	default:
		logger.Fatalf("unknown loop type: %q", *ptype)
	}

	logger.Printf(`start loop "%s"`, *ptype)
	if _, err := loop.Start(ctx, 0, task); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal(err)
	}
	logger.Printf(`loop "%s" stopped: %s`, *ptype, context.Cause(ctx))
}
