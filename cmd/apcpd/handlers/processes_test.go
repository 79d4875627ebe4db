package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/bkpaas/apcp/cmd/apcpd/handlers"
	apitypes "github.com/bkpaas/apcp/pkg/api/types"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
)

// fakeApps resolves one app with one default module and env.
type fakeApps struct {
	appdb.Interface
}

func (fakeApps) DefaultModule(_ context.Context, appCode string) (domain.Module, error) {
	return domain.Module{AppCode: appCode, Name: "default", IsDefault: true}, nil
}

func (fakeApps) GetEnv(_ context.Context, appCode string, moduleName string, env domain.Environment) (domain.ModuleEnv, error) {
	if moduleName != "default" {
		return domain.ModuleEnv{}, kerr.Wrap(kerr.ErrMissing, "no module %s", moduleName)
	}
	return domain.ModuleEnv{
		AppCode: appCode, ModuleName: moduleName, Environment: env,
		WlAppName: "bkapp-" + appCode + "-" + string(env),
	}, nil
}

func processContext(e *echo.Echo, envName string, query string, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(
		http.MethodPost, "/api/apps/demo/envs/"+envName+"/processes/"+query,
		strings.NewReader(body),
	)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("code", "env")
	c.SetParamValues("demo", envName)
	return c, rec
}

// validation refusals must answer before any store or cluster access;
// the controller is nil on purpose.
func TestOperateProcessHandler_Validation(t *testing.T) {

	type When struct {
		EnvName string
		Query   string
		Body    string
	}

	type Then struct {
		Code string
	}

	theory := func(when When, then Then) func(t *testing.T) {
		return func(t *testing.T) {
			e := echo.New()
			testee := handlers.OperateProcessHandler(fakeApps{}, nil, nil)

			c, rec := processContext(e, when.EnvName, when.Query, when.Body)
			if err := testee(c); err != nil {
				t.Fatalf("unexpected error: %+v", err)
			}

			envelope := apitypes.ErrorEnvelope{}
			if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("malformed envelope %q: %s", rec.Body, err)
			}
			if envelope.Code != then.Code {
				t.Errorf("unmatch: code: (actual, expected) = (%s, %s)", envelope.Code, then.Code)
			}
		}
	}

	t.Run("process_type is required", theory(
		When{EnvName: "stag", Body: `{"operate_type": "start"}`},
		Then{Code: "INVALID"},
	))

	t.Run("unknown environment", theory(
		When{EnvName: "canary", Body: `{"process_type": "web", "operate_type": "start"}`},
		Then{Code: "INVALID"},
	))

	t.Run("unknown module", theory(
		When{
			EnvName: "stag", Query: "?module_name=ghost",
			Body: `{"process_type": "web", "operate_type": "start"}`,
		},
		Then{Code: "NOT_FOUND"},
	))

	t.Run("unknown operate_type", theory(
		When{EnvName: "stag", Body: `{"process_type": "web", "operate_type": "reboot"}`},
		Then{Code: "INVALID"},
	))

	t.Run("scale needs a target", theory(
		When{EnvName: "stag", Body: `{"process_type": "web", "operate_type": "scale"}`},
		Then{Code: "INVALID"},
	))
}
