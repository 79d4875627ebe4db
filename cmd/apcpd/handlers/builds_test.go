package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/bkpaas/apcp/cmd/apcpd/handlers"
	apitypes "github.com/bkpaas/apcp/pkg/api/types"
	"github.com/bkpaas/apcp/pkg/builder"
	"github.com/bkpaas/apcp/pkg/domain"
	appdb "github.com/bkpaas/apcp/pkg/domain/app/db"
	builddb "github.com/bkpaas/apcp/pkg/domain/build/db"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	"github.com/bkpaas/apcp/pkg/eventbus"
)

// fakeBuildApps resolves demo/default/stag to one WlApp.
type fakeBuildApps struct {
	appdb.Interface
}

func (fakeBuildApps) DefaultModule(_ context.Context, appCode string) (domain.Module, error) {
	return domain.Module{AppCode: appCode, Name: "default", IsDefault: true}, nil
}

func (fakeBuildApps) GetEnv(_ context.Context, appCode string, moduleName string, env domain.Environment) (domain.ModuleEnv, error) {
	return domain.ModuleEnv{
		AppCode: appCode, ModuleName: moduleName, Environment: env,
		WlAppName: "bkapp-" + appCode + "-" + string(env),
	}, nil
}

func (fakeBuildApps) GetWlApp(_ context.Context, name string) (domain.WlApp, error) {
	return domain.WlApp{
		Name: name, AppCode: "demo", ModuleName: "default",
		Environment: domain.EnvStag, Namespace: name,
		MapperVersion: domain.MapperV2,
	}, nil
}

// fakeBuildStore records runs opened and finalized through the handler.
type fakeBuildStore struct {
	builddb.Interface

	opened    int
	bp        domain.BuildProcess
	finalized *domain.Build
}

func (f *fakeBuildStore) NewBuildProcess(_ context.Context, wlappName string, builderPodName string) (domain.BuildProcess, error) {
	f.opened += 1
	f.bp = domain.BuildProcess{
		Id: "bp-1", WlAppName: wlappName, Status: domain.StatusPending,
		BuilderPodName: builderPodName,
	}
	return f.bp, nil
}

func (f *fakeBuildStore) GetBuildProcess(_ context.Context, id string) (domain.BuildProcess, error) {
	if f.bp.Id != id {
		return domain.BuildProcess{}, kerr.Wrap(kerr.ErrMissing, "no build process %s", id)
	}
	return f.bp, nil
}

func (f *fakeBuildStore) Finalize(_ context.Context, id string, build domain.Build) (domain.Build, error) {
	build.Id = "build-1"
	f.finalized = &build
	f.bp.Status = domain.StatusSuccessful
	return build, nil
}

func buildContext(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(
		http.MethodPost, "/api/apps/demo/build_processes/", strings.NewReader(body),
	)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("code")
	c.SetParamValues("demo")
	return c, rec
}

func TestCreateBuildProcessHandler_ImageArtifact(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	t.Run("a pre-built image is registered without a builder pod", func(t *testing.T) {
		e := echo.New()
		store := &fakeBuildStore{}
		executor := builder.New(store, fakeBuildApps{}, nil)
		testee := handlers.CreateBuildProcessHandler(
			fakeBuildApps{}, store, executor, eventbus.New(logger), logger,
		)

		c, rec := buildContext(e, `{
			"environment": "stag",
			"procfile": {"web": "gunicorn app:wsgi"},
			"artifact_image": "registry.example.com/demo/web:1.0"
		}`)
		if err := testee(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}

		if rec.Code != http.StatusCreated {
			t.Errorf("unmatch: status: (actual, expected) = (%d, 201)", rec.Code)
		}
		response := apitypes.BuildProcessResponse{}
		if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
			t.Fatalf("malformed response %q: %s", rec.Body, err)
		}
		if response.Status != string(domain.StatusSuccessful) {
			t.Errorf("unmatch: status: (actual, expected) = (%s, successful)", response.Status)
		}
		if response.BuildId == nil || *response.BuildId != "build-1" {
			t.Errorf("unmatch: build id: (actual, expected) = (%v, build-1)", response.BuildId)
		}
		if store.finalized == nil {
			t.Fatal("no build was persisted")
		}
		if store.finalized.ArtifactType != domain.ArtifactImage {
			t.Errorf(
				"unmatch: artifact type: (actual, expected) = (%s, %s)",
				store.finalized.ArtifactType, domain.ArtifactImage,
			)
		}
		if store.finalized.Image != "registry.example.com/demo/web:1.0" {
			t.Errorf("unexpected image: %s", store.finalized.Image)
		}
	})

	t.Run("a malformed image ref is refused before a run is opened", func(t *testing.T) {
		e := echo.New()
		store := &fakeBuildStore{}
		executor := builder.New(store, fakeBuildApps{}, nil)
		testee := handlers.CreateBuildProcessHandler(
			fakeBuildApps{}, store, executor, eventbus.New(logger), logger,
		)

		c, rec := buildContext(e, `{
			"environment": "stag",
			"procfile": {"web": "gunicorn app:wsgi"},
			"artifact_image": "demo/not an image"
		}`)
		if err := testee(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}

		envelope := apitypes.ErrorEnvelope{}
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("malformed envelope %q: %s", rec.Body, err)
		}
		if envelope.Code != "INVALID" {
			t.Errorf("unmatch: code: (actual, expected) = (%s, INVALID)", envelope.Code)
		}
		if store.opened != 0 {
			t.Errorf("unmatch: runs opened: (actual, expected) = (%d, 0)", store.opened)
		}
	})
}
