package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/bkpaas/apcp/cmd/apcpd/handlers"
	apcp "github.com/bkpaas/apcp/pkg"
	"github.com/bkpaas/apcp/pkg/configs"
	kpool "github.com/bkpaas/apcp/pkg/conn/pool"
	"github.com/bkpaas/apcp/pkg/domain/schema"
	"github.com/bkpaas/apcp/pkg/eventbus"
	"github.com/bkpaas/apcp/pkg/utils/echoutil"
	"github.com/bkpaas/apcp/pkg/utils/filewatch"
	"github.com/bkpaas/apcp/pkg/utils/try"
)

func main() {

	configPath := flag.String("config-path", os.Getenv("APCP_CONFIG"), "config file path")
	loglevel := flag.String("loglevel", "info", "log level. debug|info|warn|error|off")
	pcert := flag.String("cert", "", "certification file for TLS")
	pkey := flag.String("certkey", "", "key of certification file for TLS")
	flag.Parse()

	logger := log.Default()

	e := echo.New()
	e.Pre(middleware.AddTrailingSlash())

	echoutil.SetLevel(e, *loglevel)
	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		e.DefaultHTTPErrorHandler(err, ctx)
		e.Logger.Error(err)
	}
	e.Use(echoutil.LogHandlerFunc)

	conf, err := configs.Load(*configPath)
	if err != nil {
		logger.Fatalf("can not read configuration: %s", err)
	}

	ctx := context.Background()
	{
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *configPath)
		if err != nil {
			logger.Fatalf("can not watch configuration: %s", err)
		}
		defer cancel()
		context.AfterFunc(wctx, func() {
			logger.Println("config file is updated. quit to restart server.")
			graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := e.Shutdown(graceful); err != nil {
				logger.Printf("error on shutdown by config update: %s", err)
			}
		})
	}

	pool := try.To(kpool.New(ctx, conf.DB.URI)).OrFatal(logger)
	defer pool.Close()
	if err := schema.Ensure(ctx, pool); err != nil {
		logger.Fatalf("can not ensure database schema: %s", err)
	}

	rt := try.To(apcp.Attach(ctx, conf, pool, logger)).OrFatal(logger)

	// audit trail of domain events
	eventbus.Subscribe(rt.Bus, func(_ context.Context, ev eventbus.ProcessUpdated) {
		logger.Printf("process %s/%s: %s", ev.WlAppName, ev.ProcessType, ev.Operation)
	})
	eventbus.Subscribe(rt.Bus, func(_ context.Context, ev eventbus.BuildFinished) {
		logger.Printf("build %s of %s: %s", ev.BuildProcessId, ev.WlAppName, ev.Status)
	})
	eventbus.Subscribe(rt.Bus, func(_ context.Context, ev eventbus.ReleaseAdvanced) {
		logger.Printf("deployment %s stage %s: %s", ev.DeploymentId, ev.StageName, ev.Status)
	})
	eventbus.Subscribe(rt.Bus, func(_ context.Context, ev eventbus.DomainChanged) {
		logger.Printf("domain %s of %s: %s", ev.Host, ev.AppCode, ev.Change)
	})

	var checker handlers.CapabilityChecker = handlers.AllowAll{}
	if conf.Auth.PermissionsURL != "" {
		checker = handlers.NewPermissionClient(conf.Auth.PermissionsURL, conf.Auth.JWTSecret, nil)
	}

	app := e.Group(
		"/api/apps/:code",
		handlers.RequireCapability(checker, conf.Auth.JWTSecret, handlers.CapabilityBasicDevelop, "code"),
	)
	{
		app.POST("/envs/:env/processes/", handlers.OperateProcessHandler(rt.Apps, rt.Controller, rt.Bus))
		app.GET("/envs/:env/processes/list/", handlers.ListProcessesHandler(rt.Apps, rt.Controller))
		app.GET("/envs/:env/processes/watch/", handlers.WatchProcessesHandler(rt.Apps, rt.Watcher, rt.Limiter))
		app.POST("/envs/:env/offlines/", handlers.StartOfflineHandler(rt.Apps, rt.Controller))
		app.GET("/envs/:env/metrics/", handlers.ProcessMetricsHandler(rt.Apps, rt.Controller, rt.Metrics))
		app.GET("/envs/:env/exposed_url/", handlers.ExposedURLHandler(rt.Apps, rt.Entrance))
	}
	{
		app.GET("/modules/:module/offline_operations/:id/result/", handlers.OfflineResultHandler(rt.Releases))

		app.POST("/modules/:module/deployments/", handlers.CreateDeploymentHandler(rt.Apps, rt.Releases, rt.Machine))
		app.GET("/modules/:module/deployments/:id/result/", handlers.DeploymentResultHandler(rt.Releases))
		app.POST("/modules/:module/deployments/:id/interruptions/", handlers.InterruptDeploymentHandler(rt.Machine))
		app.POST("/modules/:module/deployments/:id/stages/next/", handlers.MachineOpHandler(rt.Machine.EnterNextStage))
		app.POST("/modules/:module/deployments/:id/stages/rerun/", handlers.MachineOpHandler(rt.Machine.RerunCurrentStage))
		app.POST("/modules/:module/deployments/:id/stages/back/", handlers.MachineOpHandler(rt.Machine.BackToPreviousStage))
		app.POST("/modules/:module/deployments/:id/reset/", handlers.MachineOpHandler(rt.Machine.ResetRelease))

		app.POST("/modules/:module/build_processes/", handlers.CreateBuildProcessHandler(rt.Apps, rt.Builds, rt.Builder, rt.Bus, logger))
		app.GET("/modules/:module/build_processes/:id/result/", handlers.BuildProcessResultHandler(rt.Builds))
		app.POST("/modules/:module/build_processes/:id/interruptions/", handlers.InterruptBuildHandler(rt.Builder))

		app.GET("/modules/:module/config_vars/", handlers.ListConfigVarsHandler(rt.ConfigVars))
		app.POST("/modules/:module/config_vars/", handlers.ApplyConfigVarsHandler(rt.ConfigVars))
	}
	{
		app.GET("/domains/", handlers.ListDomainsHandler(rt.Apps, rt.Domains))
		app.POST("/domains/", handlers.CreateDomainHandler(rt.Apps, rt.Domains, rt.Bus))
		app.PUT("/domains/:id/", handlers.UpdateDomainHandler(rt.Apps, rt.Entrances, rt.Domains, rt.Bus))
		app.DELETE("/domains/:id/", handlers.DeleteDomainHandler(rt.Apps, rt.Entrances, rt.Domains, rt.Bus))
	}

	// the ticket system pushes resolutions here, no end-user capability
	e.POST("/api/itsm/callback/", handlers.ITSMCallbackHandler(rt.Machine))

	listen := fmt.Sprintf(":%d", conf.Server.Port)
	if *pcert != "" && *pkey != "" {
		e.Logger.Fatal(e.StartTLS(listen, *pcert, *pkey))
	} else {
		e.Logger.Fatal(e.Start(listen))
	}
}
