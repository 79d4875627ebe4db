package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apitypes "github.com/bkpaas/apcp/pkg/api/types"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	entrancedb "github.com/bkpaas/apcp/pkg/domain/entrance/db"
	"github.com/bkpaas/apcp/pkg/entrance"
	"github.com/bkpaas/apcp/pkg/eventbus"
)

func domainResponseOf(d domain.AppDomain) apitypes.DomainResponse {
	return apitypes.DomainResponse{
		Id:           d.Id,
		Host:         d.Host,
		PathPrefix:   d.PathPrefix,
		HTTPSEnabled: d.HTTPSEnabled,
		Environment:  string(d.Environment),
		Type:         "custom",
	}
}

// ListDomainsHandler handles GET .../apps/:code/domains/ . Without a
// module_name / environment filter, domains of every env are returned.
func ListDomainsHandler(apps appdb.Interface, manager *entrance.CustomDomainManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		envs, err := apps.ListEnvs(ctx, c.Param("code"))
		if err != nil {
			return respondError(c, err)
		}

		moduleName := c.QueryParam("module_name")
		envName := c.QueryParam("environment")

		found := []apitypes.DomainResponse{}
		for _, env := range envs {
			if moduleName != "" && env.ModuleName != moduleName {
				continue
			}
			if envName != "" && string(env.Environment) != envName {
				continue
			}
			domains, err := manager.List(ctx, env)
			if err != nil {
				return respondError(c, err)
			}
			for _, d := range domains {
				found = append(found, domainResponseOf(d))
			}
		}
		return c.JSON(http.StatusOK, found)
	}
}

// CreateDomainHandler handles POST .../apps/:code/domains/ .
func CreateDomainHandler(apps appdb.Interface, manager *entrance.CustomDomainManager, bus *eventbus.Bus) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		request := apitypes.DomainRequest{}
		if err := c.Bind(&request); err != nil {
			return respondError(c, domain.NewInvalid("malformed body: %s", err))
		}
		if request.Host == "" {
			return respondError(c, domain.NewInvalid("host is required"))
		}

		env, err := resolveEnv(ctx, apps, c.Param("code"), request.ModuleName, request.Environment)
		if err != nil {
			return respondError(c, err)
		}

		created, err := manager.Create(ctx, env, domain.AppDomain{
			Host:           request.Host,
			PathPrefix:     request.PathPrefix,
			HTTPSEnabled:   request.HTTPSEnabled,
			SharedCertName: request.SharedCertName,
		})
		if err != nil {
			return respondError(c, err)
		}

		eventbus.Publish(ctx, bus, eventbus.DomainChanged{
			AppCode: env.AppCode, Host: created.Host, Change: "created",
		})
		return c.JSON(http.StatusCreated, domainResponseOf(created))
	}
}

// UpdateDomainHandler handles PUT .../apps/:code/domains/:id/ .
func UpdateDomainHandler(apps appdb.Interface, store entrancedb.Interface, manager *entrance.CustomDomainManager, bus *eventbus.Bus) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		current, err := store.GetDomain(ctx, c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		env, err := apps.GetEnv(ctx, current.AppCode, current.ModuleName, current.Environment)
		if err != nil {
			return respondError(c, err)
		}

		request := apitypes.DomainRequest{}
		if err := c.Bind(&request); err != nil {
			return respondError(c, domain.NewInvalid("malformed body: %s", err))
		}

		updated := current
		if request.Host != "" {
			updated.Host = request.Host
		}
		if request.PathPrefix != "" {
			updated.PathPrefix = request.PathPrefix
		}
		updated.HTTPSEnabled = request.HTTPSEnabled
		updated.SharedCertName = request.SharedCertName

		if err := manager.Update(ctx, env, updated); err != nil {
			return respondError(c, err)
		}

		eventbus.Publish(ctx, bus, eventbus.DomainChanged{
			AppCode: env.AppCode, Host: updated.Host, Change: "updated",
		})
		return c.JSON(http.StatusOK, domainResponseOf(updated))
	}
}

// DeleteDomainHandler handles DELETE .../apps/:code/domains/:id/ .
func DeleteDomainHandler(apps appdb.Interface, store entrancedb.Interface, manager *entrance.CustomDomainManager, bus *eventbus.Bus) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		current, err := store.GetDomain(ctx, c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		env, err := apps.GetEnv(ctx, current.AppCode, current.ModuleName, current.Environment)
		if err != nil {
			return respondError(c, err)
		}

		if err := manager.Delete(ctx, env, current.Id); err != nil {
			return respondError(c, err)
		}

		eventbus.Publish(ctx, bus, eventbus.DomainChanged{
			AppCode: env.AppCode, Host: current.Host, Change: "deleted",
		})
		return c.NoContent(http.StatusNoContent)
	}
}
