package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apitypes "github.com/bkpaas/apcp/pkg/api/types"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	releasedb "github.com/bkpaas/apcp/pkg/domain/release/db"
	"github.com/bkpaas/apcp/pkg/processes"
)

// StartOfflineHandler handles POST .../envs/:env/offlines/ .
//
// An env without any successful deployment answers 400
// CANNOT_OFFLINE_APP and leaves no operation row behind.
func StartOfflineHandler(apps appdb.Interface, ctrl *processes.Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		env, err := resolveEnv(ctx, apps, c.Param("code"), c.QueryParam("module_name"), c.Param("env"))
		if err != nil {
			return respondError(c, err)
		}

		op, err := ctrl.Archive(ctx, env, operatorOf(c))
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(http.StatusCreated, apitypes.OfflineResponse{
			OfflineOperationId: op.Id,
			Status:             string(op.Status),
		})
	}
}

// OfflineResultHandler handles
// GET .../modules/:module/offline_operations/:id/result/ .
func OfflineResultHandler(releases releasedb.Interface) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		op, err := releases.GetOfflineOperation(ctx, c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(http.StatusOK, apitypes.OfflineResultResponse{
			Status: string(op.Status),
			Error:  op.Err,
		})
	}
}
