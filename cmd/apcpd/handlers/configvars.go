package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apitypes "github.com/bkpaas/apcp/pkg/api/types"
	"github.com/bkpaas/apcp/pkg/domain"
	configvardb "github.com/bkpaas/apcp/pkg/domain/configvar/db"
)

// ListConfigVarsHandler handles GET .../modules/:module/config_vars/ .
// The export is order-stable, so it round-trips through the batch save.
func ListConfigVarsHandler(vars configvardb.Interface) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		found, err := vars.List(ctx, c.Param("code"), c.Param("module"))
		if err != nil {
			return respondError(c, err)
		}

		items := []apitypes.ConfigVarItem{}
		for _, v := range found {
			items = append(items, apitypes.ConfigVarItem{
				Key:         v.Key,
				Value:       v.Value,
				Description: v.Description,
				Scope:       string(v.Scope),
			})
		}
		return c.JSON(http.StatusOK, items)
	}
}

// ApplyConfigVarsHandler handles POST .../modules/:module/config_vars/ .
// With ?overwrite_deleted=true the save is total: persisted vars absent
// from the body are deleted.
func ApplyConfigVarsHandler(vars configvardb.Interface) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		request := apitypes.ConfigVarBatchRequest{}
		if err := c.Bind(&request); err != nil {
			return respondError(c, domain.NewInvalid("malformed body: %s", err))
		}

		incoming := make([]domain.ConfigVar, 0, len(request.Vars))
		for _, item := range request.Vars {
			if item.Key == "" {
				return respondError(c, domain.NewInvalid("config var key is required"))
			}
			scope, err := asConfigVarScope(item.Scope)
			if err != nil {
				return respondError(c, err)
			}
			incoming = append(incoming, domain.ConfigVar{
				AppCode:     c.Param("code"),
				ModuleName:  c.Param("module"),
				Key:         item.Key,
				Value:       item.Value,
				Description: item.Description,
				Scope:       scope,
			})
		}

		apply := vars.Apply
		if c.QueryParam("overwrite_deleted") == "true" {
			apply = vars.BatchSave
		}
		result, err := apply(ctx, c.Param("code"), c.Param("module"), incoming)
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(http.StatusOK, apitypes.ConfigVarApplyResponse{
			Created:     result.Created,
			Overwritten: result.Overwritten,
			Ignored:     result.Ignored,
			Deleted:     result.Deleted,
		})
	}
}

func asConfigVarScope(s string) (domain.ConfigVarScope, error) {
	switch domain.ConfigVarScope(s) {
	case domain.ScopeGlobal, domain.ScopeStag, domain.ScopeProd:
		return domain.ConfigVarScope(s), nil
	case "":
		return domain.ScopeGlobal, nil
	}
	return "", domain.NewInvalid("unknown config var scope: %s", s)
}
