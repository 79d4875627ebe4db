// Package handlers exposes the control plane over HTTP.
//
// Handlers bind path params and bodies, delegate to the domain layer
// and translate errors through the fixed envelope mapping. They never
// pick status codes themselves.
package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	apierr "github.com/bkpaas/apcp/pkg/api/types"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
)

// respondError writes the envelope of err. Returned as the handler's
// error so echo's logger still sees it.
func respondError(c echo.Context, err error) error {
	status, envelope := apierr.ErrorOf(err)
	if jsonErr := c.JSON(status, envelope); jsonErr != nil {
		return jsonErr
	}
	return nil
}

// resolveEnv resolves (app code, module name, environment) path params
// into the ModuleEnv row. An empty moduleName means the default module.
func resolveEnv(ctx context.Context, apps appdb.Interface, appCode string, moduleName string, envName string) (domain.ModuleEnv, error) {
	environment, err := domain.AsEnvironment(envName)
	if err != nil {
		return domain.ModuleEnv{}, err
	}
	if moduleName == "" {
		module, err := apps.DefaultModule(ctx, appCode)
		if err != nil {
			return domain.ModuleEnv{}, err
		}
		moduleName = module.Name
	}
	return apps.GetEnv(ctx, appCode, moduleName, environment)
}
