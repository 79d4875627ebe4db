package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apitypes "github.com/bkpaas/apcp/pkg/api/types"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	"github.com/bkpaas/apcp/pkg/metrics"
	"github.com/bkpaas/apcp/pkg/processes"
)

const defaultMetricsWindow = 1 * time.Hour

// ProcessMetricsHandler handles GET .../envs/:env/metrics/ .
//
// Query params: process_type (optional filter), instance_name
// (optional, skips the snapshot), start/end (RFC3339, default last
// hour), step (duration, default 1m).
func ProcessMetricsHandler(apps appdb.Interface, ctrl *processes.Controller, svc *metrics.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		env, err := resolveEnv(ctx, apps, c.Param("code"), c.QueryParam("module_name"), c.Param("env"))
		if err != nil {
			return respondError(c, err)
		}
		wlapp, err := apps.GetWlApp(ctx, env.WlAppName)
		if err != nil {
			return respondError(c, err)
		}

		timeRange, err := timeRangeOf(c)
		if err != nil {
			return respondError(c, err)
		}

		var instanceNames []string
		if name := c.QueryParam("instance_name"); name != "" {
			instanceNames = []string{name}
		} else {
			instanceNames, err = instanceNamesOf(c, ctrl, env)
			if err != nil {
				return respondError(c, err)
			}
		}

		usages, err := svc.ProcessUsage(ctx, wlapp, instanceNames, timeRange)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, apitypes.MetricsResponse{Usages: usages})
	}
}

func timeRangeOf(c echo.Context) (metrics.MetricSmartTimeRange, error) {
	end := time.Now()
	start := end.Add(-defaultMetricsWindow)
	step := 1 * time.Minute

	var err error
	if raw := c.QueryParam("start"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			return metrics.MetricSmartTimeRange{}, domain.NewInvalid("start must be RFC3339: %s", err)
		}
	}
	if raw := c.QueryParam("end"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			return metrics.MetricSmartTimeRange{}, domain.NewInvalid("end must be RFC3339: %s", err)
		}
	}
	if raw := c.QueryParam("step"); raw != "" {
		if step, err = time.ParseDuration(raw); err != nil || step <= 0 {
			return metrics.MetricSmartTimeRange{}, domain.NewInvalid("step must be a positive duration")
		}
	}
	if !end.After(start) {
		return metrics.MetricSmartTimeRange{}, domain.NewInvalid("end must be after start")
	}
	return metrics.MetricSmartTimeRange{Start: start, End: end, Step: step}, nil
}

func instanceNamesOf(c echo.Context, ctrl *processes.Controller, env domain.ModuleEnv) ([]string, error) {
	snapshot, err := ctrl.Snapshot(c.Request().Context(), env, 0)
	if err != nil {
		return nil, err
	}

	procType := c.QueryParam("process_type")
	names := []string{}
	for _, instance := range snapshot.Instances {
		if procType != "" && instance.ProcessType != procType {
			continue
		}
		names = append(names, instance.Name)
	}
	return names, nil
}
