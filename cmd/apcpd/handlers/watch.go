package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	"github.com/bkpaas/apcp/pkg/watch"
)

// WatchProcessesHandler handles GET .../envs/:env/processes/watch/ .
//
// The stream is SSE: one ping, then message frames, then EOF. Client
// disconnect cancels the request context and tears the watchers down.
func WatchProcessesHandler(apps appdb.Interface, watcher *watch.Watcher, limiter *watch.SessionLimiter) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		env, err := resolveEnv(ctx, apps, c.Param("code"), c.QueryParam("module_name"), c.Param("env"))
		if err != nil {
			return respondError(c, err)
		}

		if !limiter.Acquire(operatorOf(c)) {
			return respondError(c, kerr.Wrap(kerr.ErrTooOften, "too many watch sessions"))
		}

		opts := watch.Options{
			RVProc: c.QueryParam("rv_proc"),
			RVInst: c.QueryParam("rv_inst"),
		}
		if raw := c.QueryParam("timeout_seconds"); raw != "" {
			seconds, err := strconv.Atoi(raw)
			if err != nil || seconds < 1 {
				return respondError(c, domain.NewInvalid("timeout_seconds must be a positive integer"))
			}
			opts.Timeout = time.Duration(seconds) * time.Second
		}

		events, err := watcher.Watch(ctx, []domain.ModuleEnv{env}, opts)
		if err != nil {
			return respondError(c, err)
		}

		response := c.Response()
		response.Header().Set(echo.HeaderContentType, "text/event-stream")
		response.Header().Set("Cache-Control", "no-cache")
		response.Header().Set("X-Accel-Buffering", "no")
		response.WriteHeader(http.StatusOK)

		if err := watch.WritePing(response); err != nil {
			return err
		}
		response.Flush()

		id := 0
		for event := range events {
			if err := watch.WriteMessage(response, id, event); err != nil {
				return err
			}
			response.Flush()
			id += 1
		}

		if err := watch.WriteEOF(response); err != nil {
			return err
		}
		response.Flush()
		return nil
	}
}
