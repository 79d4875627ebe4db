package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	"github.com/bkpaas/apcp/pkg/entrance"
)

// ExposedURLHandler handles GET .../envs/:env/exposed_url/ .
// The url is null until the env's first successful deployment.
func ExposedURLHandler(apps appdb.Interface, svc *entrance.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		env, err := resolveEnv(ctx, apps, c.Param("code"), c.QueryParam("module_name"), c.Param("env"))
		if err != nil {
			return respondError(c, err)
		}

		u, err := svc.GetExposedURL(ctx, env)
		if err != nil {
			return respondError(c, err)
		}

		response := struct {
			URL *string `json:"url"`
		}{}
		if u != nil {
			address := u.AsAddress()
			response.URL = &address
		}
		return c.JSON(http.StatusOK, response)
	}
}
