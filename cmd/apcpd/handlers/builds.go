package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apitypes "github.com/bkpaas/apcp/pkg/api/types"
	"github.com/bkpaas/apcp/pkg/builder"
	"github.com/bkpaas/apcp/pkg/cluster/mapper"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	builddb "github.com/bkpaas/apcp/pkg/domain/build/db"
	"github.com/bkpaas/apcp/pkg/eventbus"
)

// buildHardCap bounds a detached build run: readiness wait + log follow
// + success wait, with headroom for launch and cleanup.
const buildHardCap = builder.DefaultWaitForReadinessTimeout +
	builder.DefaultFollowingLogsTimeout + 60*time.Second + 5*time.Minute

// CreateBuildProcessHandler handles POST .../build_processes/ .
//
// The run row is created under the pending guard, then the executor
// works detached from the request. Progress is observable through the
// result endpoint.
func CreateBuildProcessHandler(
	apps appdb.Interface,
	builds builddb.Interface,
	executor *builder.Executor,
	bus *eventbus.Bus,
	logger *log.Logger,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		request := apitypes.BuildRequest{}
		if err := c.Bind(&request); err != nil {
			return respondError(c, domain.NewInvalid("malformed body: %s", err))
		}
		if len(request.Procfile) == 0 {
			return respondError(c, domain.NewInvalid("procfile is required"))
		}
		// refuse a bad image ref before the pending guard opens a row
		if request.ArtifactImage != "" {
			if err := builder.ValidateImageRef(request.ArtifactImage); err != nil {
				return respondError(c, err)
			}
		}

		moduleName := c.Param("module")
		if moduleName == "" {
			moduleName = request.ModuleName
		}
		env, err := resolveEnv(ctx, apps, c.Param("code"), moduleName, request.Environment)
		if err != nil {
			return respondError(c, err)
		}
		wlapp, err := apps.GetWlApp(ctx, env.WlAppName)
		if err != nil {
			return respondError(c, err)
		}

		bp, err := builds.NewBuildProcess(ctx, env.WlAppName, mapper.BuilderPodName(wlapp))
		if err != nil {
			return respondError(c, err)
		}

		meta := builder.Metadata{
			Branch:   request.Branch,
			Revision: request.Revision,
			Procfile: request.Procfile,
			EnvVars:  request.EnvVars,
		}

		if request.ArtifactImage != "" {
			build, err := executor.RegisterImage(ctx, bp.Id, request.ArtifactImage, meta)
			if err != nil {
				if serr := builds.SetStatus(ctx, bp.Id, domain.StatusFailed, err.Error()); serr != nil {
					logger.Printf("build %s: recording failure: %s", bp.Id, serr)
				}
				return respondError(c, err)
			}
			eventbus.Publish(ctx, bus, eventbus.BuildFinished{
				BuildProcessId: bp.Id,
				WlAppName:      bp.WlAppName,
				Status:         domain.StatusSuccessful,
			})
			return c.JSON(http.StatusCreated, apitypes.BuildProcessResponse{
				Id:      bp.Id,
				Status:  string(domain.StatusSuccessful),
				BuildId: &build.Id,
			})
		}

		go func() {
			bctx, cancel := context.WithTimeout(context.Background(), buildHardCap)
			defer cancel()
			if _, err := executor.Execute(bctx, bp.Id, logger.Writer(), meta); err != nil {
				logger.Printf("build %s finished with error: %+v", bp.Id, err)
			}

			rctx, rcancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer rcancel()
			if done, err := builds.GetBuildProcess(rctx, bp.Id); err == nil {
				eventbus.Publish(rctx, bus, eventbus.BuildFinished{
					BuildProcessId: done.Id,
					WlAppName:      done.WlAppName,
					Status:         done.Status,
				})
			}
		}()

		return c.JSON(http.StatusCreated, apitypes.BuildProcessResponse{
			Id:     bp.Id,
			Status: string(bp.Status),
		})
	}
}
