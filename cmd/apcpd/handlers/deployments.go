package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	apitypes "github.com/bkpaas/apcp/pkg/api/types"
	"github.com/bkpaas/apcp/pkg/builder"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	builddb "github.com/bkpaas/apcp/pkg/domain/build/db"
	releasedb "github.com/bkpaas/apcp/pkg/domain/release/db"
	"github.com/bkpaas/apcp/pkg/release"
)

// CreateDeploymentHandler handles POST .../modules/:module/deployments/ .
//
// Opens the request under the env-wide pending guard, then bootstraps
// the stage pipeline. Gray deployments run the canary plan.
func CreateDeploymentHandler(apps appdb.Interface, releases releasedb.Interface, machine *release.Machine) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		request := apitypes.DeployRequest{}
		if err := c.Bind(&request); err != nil {
			return respondError(c, domain.NewInvalid("malformed body: %s", err))
		}
		if request.BuildId == "" {
			return respondError(c, domain.NewInvalid("build_id is required"))
		}

		moduleName := c.Param("module")
		if moduleName == "" {
			moduleName = request.ModuleName
		}
		env, err := resolveEnv(ctx, apps, c.Param("code"), moduleName, request.Environment)
		if err != nil {
			return respondError(c, err)
		}

		dep, err := releases.NewDeployment(ctx, env, request.BuildId, operatorOf(c))
		if err != nil {
			return respondError(c, err)
		}

		bootstrap := machine.Initial
		if request.Gray {
			bootstrap = machine.GrayRelease
		}
		if err := bootstrap(ctx, dep.Id, operatorOf(c)); err != nil {
			// the row stays behind, terminal, for the result endpoint
			return respondError(c, err)
		}

		dep, err = releases.GetDeployment(ctx, dep.Id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, apitypes.DeploymentResponse{
			Id:          dep.Id,
			Status:      string(dep.Status),
			Environment: string(dep.Environment),
			Operator:    dep.Operator,
		})
	}
}

// MachineOpHandler runs one stage-machine operation named by the route:
// advance, rerun, back or reset.
func MachineOpHandler(op func(ctx context.Context, deploymentId string, operator string) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		if err := op(ctx, c.Param("id"), operatorOf(c)); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"deployment_id": c.Param("id")})
	}
}

// DeploymentResultHandler handles
// GET .../modules/:module/deployments/:id/result/ .
func DeploymentResultHandler(releases releasedb.Interface) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		dep, err := releases.GetDeployment(ctx, c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		stages, err := releases.GetStages(ctx, dep.Id)
		if err != nil {
			return respondError(c, err)
		}

		response := apitypes.DeploymentResponse{
			Id:          dep.Id,
			Status:      string(dep.Status),
			Environment: string(dep.Environment),
			Operator:    dep.Operator,
		}
		for _, stage := range stages {
			response.Stages = append(response.Stages, apitypes.StageResponse{
				Name:         stage.Name,
				InvokeMethod: string(stage.InvokeMethod),
				Status:       string(stage.Status),
				TicketSn:     stage.TicketSn,
				Error:        stage.Err,
			})
		}
		return c.JSON(http.StatusOK, response)
	}
}

// InterruptDeploymentHandler handles
// POST .../modules/:module/deployments/:id/interruptions/ .
func InterruptDeploymentHandler(machine *release.Machine) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		if err := machine.CancelRelease(ctx, c.Param("id"), operatorOf(c)); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"deployment_id": c.Param("id")})
	}
}

// ITSMCallbackHandler handles POST /itsm/callback/ .
//
// The ticket system pushes terminal ticket states here; the machine
// maps them onto the waiting stage and reconciles the deployment.
func ITSMCallbackHandler(machine *release.Machine) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		request := struct {
			DeploymentId  string `json:"deployment_id"`
			Sn            string `json:"sn"`
			CurrentStatus string `json:"current_status"`
			ApproveResult bool   `json:"approve_result"`
		}{}
		if err := c.Bind(&request); err != nil {
			return respondError(c, domain.NewInvalid("malformed body: %s", err))
		}
		if request.DeploymentId == "" || request.Sn == "" {
			return respondError(c, domain.NewInvalid("deployment_id and sn are required"))
		}

		err := machine.ResolveTicket(ctx, request.DeploymentId, release.TicketStatus{
			Sn:            request.Sn,
			CurrentStatus: request.CurrentStatus,
			ApproveResult: request.ApproveResult,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"deployment_id": request.DeploymentId})
	}
}

// BuildProcessResultHandler handles
// GET .../modules/:module/build_processes/:id/result/ .
func BuildProcessResultHandler(builds builddb.Interface) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		bp, err := builds.GetBuildProcess(ctx, c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(http.StatusOK, apitypes.BuildProcessResponse{
			Id:      bp.Id,
			Status:  string(bp.Status),
			BuildId: bp.BuildId,
			Error:   bp.Err,
		})
	}
}

// InterruptBuildHandler handles
// POST .../modules/:module/build_processes/:id/interruptions/ .
//
// The flag is persistent; the executor observes it at the next log line
// and turns the run INTERRUPTED.
func InterruptBuildHandler(executor *builder.Executor) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		if err := executor.Interrupt(ctx, c.Param("id")); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"build_process_id": c.Param("id")})
	}
}
