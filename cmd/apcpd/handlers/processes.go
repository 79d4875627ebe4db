package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	apitypes "github.com/bkpaas/apcp/pkg/api/types"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	"github.com/bkpaas/apcp/pkg/eventbus"
	"github.com/bkpaas/apcp/pkg/processes"
)

// OperateProcessHandler handles POST .../envs/:env/processes/ .
//
// start, stop and scale all go through the operation-frequency floor;
// a second call inside the window answers 429 TOO_OFTEN.
func OperateProcessHandler(apps appdb.Interface, ctrl *processes.Controller, bus *eventbus.Bus) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		request := apitypes.OperateProcessRequest{}
		if err := c.Bind(&request); err != nil {
			return respondError(c, domain.NewInvalid("malformed body: %s", err))
		}
		if request.ProcessType == "" {
			return respondError(c, domain.NewInvalid("process_type is required"))
		}

		env, err := resolveEnv(ctx, apps, c.Param("code"), c.QueryParam("module_name"), c.Param("env"))
		if err != nil {
			return respondError(c, err)
		}

		switch request.OperateType {
		case "start":
			err = ctrl.Start(ctx, env, request.ProcessType)
		case "stop":
			err = ctrl.Stop(ctx, env, request.ProcessType)
		case "scale":
			if request.Autoscaling != nil {
				err = ctrl.SetAutoscaling(ctx, env, request.ProcessType, request.Autoscaling)
				break
			}
			if request.TargetReplicas == nil {
				return respondError(c, domain.NewInvalid("scale needs target_replicas or autoscaling"))
			}
			err = ctrl.Scale(ctx, env, request.ProcessType, *request.TargetReplicas)
		default:
			return respondError(c, domain.NewInvalid("unknown operate_type: %s", request.OperateType))
		}
		if err != nil {
			return respondError(c, err)
		}

		eventbus.Publish(ctx, bus, eventbus.ProcessUpdated{
			WlAppName:   env.WlAppName,
			ProcessType: request.ProcessType,
			Operation:   request.OperateType,
		})

		return c.JSON(http.StatusOK, map[string]string{
			"process_type": request.ProcessType,
			"operate_type": request.OperateType,
		})
	}
}

// ListProcessesHandler handles GET .../envs/:env/processes/list/ .
// Optional release_id restricts instances to one release version.
func ListProcessesHandler(apps appdb.Interface, ctrl *processes.Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		env, err := resolveEnv(ctx, apps, c.Param("code"), c.QueryParam("module_name"), c.Param("env"))
		if err != nil {
			return respondError(c, err)
		}

		releaseVersion := 0
		if raw := c.QueryParam("release_id"); raw != "" {
			releaseVersion, err = strconv.Atoi(raw)
			if err != nil || releaseVersion < 1 {
				return respondError(c, domain.NewInvalid("release_id must be a positive integer"))
			}
		}

		snapshot, err := ctrl.Snapshot(ctx, env, releaseVersion)
		if err != nil {
			return respondError(c, err)
		}

		response := apitypes.ProcessListResponse{
			Processes: []apitypes.ProcessDetail{},
		}
		for _, proc := range snapshot.Processes {
			response.Processes = append(
				response.Processes, apitypes.ProcessDetailOf(proc, snapshot.Instances),
			)
		}
		return c.JSON(http.StatusOK, response)
	}
}
