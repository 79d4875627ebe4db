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
	"github.com/bkpaas/apcp/pkg/utils/cmp"
)

type fakeConfigVars struct {
	vars []domain.ConfigVar

	applied    []domain.ConfigVar
	batchSaved []domain.ConfigVar
	result     domain.ApplyResult
}

func (f *fakeConfigVars) List(_ context.Context, appCode string, moduleName string) ([]domain.ConfigVar, error) {
	return f.vars, nil
}

func (f *fakeConfigVars) Apply(_ context.Context, appCode string, moduleName string, vars []domain.ConfigVar) (domain.ApplyResult, error) {
	f.applied = vars
	return f.result, nil
}

func (f *fakeConfigVars) BatchSave(_ context.Context, appCode string, moduleName string, vars []domain.ConfigVar) (domain.ApplyResult, error) {
	f.batchSaved = vars
	return f.result, nil
}

func configVarContext(e *echo.Echo, method string, query string, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/api/apps/demo/modules/default/config_vars/"+query, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("code", "module")
	c.SetParamValues("demo", "default")
	return c, rec
}

func TestListConfigVarsHandler(t *testing.T) {
	e := echo.New()
	store := &fakeConfigVars{
		vars: []domain.ConfigVar{
			{Key: "DATABASE_URL", Value: "postgres://db/demo", Scope: domain.ScopeGlobal},
			{Key: "DEBUG", Value: "true", Scope: domain.ScopeStag, Description: "verbose logs"},
		},
	}

	c, rec := configVarContext(e, http.MethodGet, "", "")
	if err := handlers.ListConfigVarsHandler(store)(c); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unmatch: status: (actual, expected) = (%d, 200)", rec.Code)
	}

	items := []apitypes.ConfigVarItem{}
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatal(err)
	}
	want := []apitypes.ConfigVarItem{
		{Key: "DATABASE_URL", Value: "postgres://db/demo", Scope: "global"},
		{Key: "DEBUG", Value: "true", Scope: "stag", Description: "verbose logs"},
	}
	if !cmp.SliceEq(items, want) {
		t.Errorf("unmatch: (actual, expected) = (%v, %v)", items, want)
	}
}

func TestApplyConfigVarsHandler(t *testing.T) {

	t.Run("applies the incoming vars and reports counts", func(t *testing.T) {
		e := echo.New()
		store := &fakeConfigVars{result: domain.ApplyResult{Created: 1, Overwritten: 1}}

		body := `{"env_variables": [
			{"key": "DATABASE_URL", "value": "postgres://db/demo"},
			{"key": "DEBUG", "value": "false", "scope": "prod"}
		]}`
		c, rec := configVarContext(e, http.MethodPost, "", body)
		if err := handlers.ApplyConfigVarsHandler(store)(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("unmatch: status: (actual, expected) = (%d, 200): %s", rec.Code, rec.Body)
		}

		if store.batchSaved != nil {
			t.Error("batch save used without overwrite_deleted")
		}
		if len(store.applied) != 2 {
			t.Fatalf("unmatch: applied vars: (actual, expected) = (%d, 2)", len(store.applied))
		}
		// empty scope defaults to global
		if store.applied[0].Scope != domain.ScopeGlobal {
			t.Errorf("unmatch: scope: (actual, expected) = (%s, global)", store.applied[0].Scope)
		}
		if store.applied[1].Scope != domain.ScopeProd {
			t.Errorf("unmatch: scope: (actual, expected) = (%s, prod)", store.applied[1].Scope)
		}
		if store.applied[0].AppCode != "demo" || store.applied[0].ModuleName != "default" {
			t.Errorf("var not attributed to the module: %+v", store.applied[0])
		}

		response := apitypes.ConfigVarApplyResponse{}
		if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
			t.Fatal(err)
		}
		if response.Created != 1 || response.Overwritten != 1 {
			t.Errorf("unmatch: counts: %+v", response)
		}
	})

	t.Run("overwrite_deleted switches to the total save", func(t *testing.T) {
		e := echo.New()
		store := &fakeConfigVars{}

		body := `{"env_variables": [{"key": "DEBUG", "value": "true"}]}`
		c, rec := configVarContext(e, http.MethodPost, "?overwrite_deleted=true", body)
		if err := handlers.ApplyConfigVarsHandler(store)(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("unmatch: status: (actual, expected) = (%d, 200): %s", rec.Code, rec.Body)
		}
		if store.applied != nil {
			t.Error("plain apply used despite overwrite_deleted")
		}
		if len(store.batchSaved) != 1 {
			t.Errorf("unmatch: batch-saved vars: (actual, expected) = (%d, 1)", len(store.batchSaved))
		}
	})

	t.Run("a var without key is refused", func(t *testing.T) {
		e := echo.New()
		store := &fakeConfigVars{}

		body := `{"env_variables": [{"value": "true"}]}`
		c, rec := configVarContext(e, http.MethodPost, "", body)
		if err := handlers.ApplyConfigVarsHandler(store)(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("unmatch: status: (actual, expected) = (%d, 400)", rec.Code)
		}
		if store.applied != nil || store.batchSaved != nil {
			t.Error("store touched by an invalid request")
		}
	})

	t.Run("an unknown scope is refused", func(t *testing.T) {
		e := echo.New()
		store := &fakeConfigVars{}

		body := `{"env_variables": [{"key": "DEBUG", "scope": "canary"}]}`
		c, rec := configVarContext(e, http.MethodPost, "", body)
		if err := handlers.ApplyConfigVarsHandler(store)(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("unmatch: status: (actual, expected) = (%d, 400)", rec.Code)
		}

		envelope := apitypes.ErrorEnvelope{}
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatal(err)
		}
		if envelope.Code != "INVALID" {
			t.Errorf("unmatch: code: (actual, expected) = (%s, INVALID)", envelope.Code)
		}
	})
}
