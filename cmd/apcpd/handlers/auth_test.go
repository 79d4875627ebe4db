package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/bkpaas/apcp/cmd/apcpd/handlers"
	apitypes "github.com/bkpaas/apcp/pkg/api/types"
	"github.com/bkpaas/apcp/pkg/utils/try"
)

type fakeChecker struct {
	allowed bool
	err     error

	username   string
	appCode    string
	capability string
}

func (f *fakeChecker) Check(_ context.Context, username string, appCode string, capability string) (bool, error) {
	f.username = username
	f.appCode = appCode
	f.capability = capability
	return f.allowed, f.err
}

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	return try.To(
		jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret)),
	).OrFatal(t)
}

func invokeWithCapability(checker handlers.CapabilityChecker, secret string, authorization string) (*httptest.ResponseRecorder, bool) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/apps/demo/envs/stag/processes/list/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("code")
	c.SetParamValues("demo")

	reached := false
	handler := handlers.RequireCapability(
		checker, secret, handlers.CapabilityBasicDevelop, "code",
	)(func(c echo.Context) error {
		reached = true
		return c.NoContent(http.StatusOK)
	})
	_ = handler(c)
	return rec, reached
}

func TestRequireCapability(t *testing.T) {

	t.Run("a valid token passes and the capability is checked on the app", func(t *testing.T) {
		checker := &fakeChecker{allowed: true}
		token := signedToken(t, "sesame", jwt.MapClaims{
			"username": "alice",
			"exp":      time.Now().Add(time.Minute).Unix(),
		})

		rec, reached := invokeWithCapability(checker, "sesame", "Bearer "+token)
		if !reached {
			t.Fatalf("handler not reached: %d %s", rec.Code, rec.Body)
		}
		if checker.username != "alice" || checker.appCode != "demo" {
			t.Errorf("unmatch: checked identity: (%s, %s)", checker.username, checker.appCode)
		}
		if checker.capability != handlers.CapabilityBasicDevelop {
			t.Errorf("unmatch: capability: (actual, expected) = (%s, %s)", checker.capability, handlers.CapabilityBasicDevelop)
		}
	})

	t.Run("without secret every caller is anonymous", func(t *testing.T) {
		checker := &fakeChecker{allowed: true}

		_, reached := invokeWithCapability(checker, "", "")
		if !reached {
			t.Fatal("handler not reached")
		}
		if checker.username != "anonymous" {
			t.Errorf("unmatch: username: (actual, expected) = (%s, anonymous)", checker.username)
		}
	})

	t.Run("a missing token answers 403", func(t *testing.T) {
		rec, reached := invokeWithCapability(&fakeChecker{allowed: true}, "sesame", "")
		if reached {
			t.Error("handler reached without a token")
		}
		if rec.Code != http.StatusForbidden {
			t.Errorf("unmatch: status: (actual, expected) = (%d, 403)", rec.Code)
		}
	})

	t.Run("a token signed with another secret answers 403", func(t *testing.T) {
		token := signedToken(t, "wrong", jwt.MapClaims{
			"username": "alice",
			"exp":      time.Now().Add(time.Minute).Unix(),
		})

		rec, reached := invokeWithCapability(&fakeChecker{allowed: true}, "sesame", "Bearer "+token)
		if reached {
			t.Error("handler reached with a forged token")
		}
		if rec.Code != http.StatusForbidden {
			t.Errorf("unmatch: status: (actual, expected) = (%d, 403)", rec.Code)
		}
	})

	t.Run("a token without username answers 403", func(t *testing.T) {
		token := signedToken(t, "sesame", jwt.MapClaims{
			"exp": time.Now().Add(time.Minute).Unix(),
		})

		_, reached := invokeWithCapability(&fakeChecker{allowed: true}, "sesame", "Bearer "+token)
		if reached {
			t.Error("handler reached without a username claim")
		}
	})

	t.Run("a denied capability answers 403 with the envelope", func(t *testing.T) {
		rec, reached := invokeWithCapability(&fakeChecker{allowed: false}, "", "")
		if reached {
			t.Error("handler reached without the capability")
		}
		if rec.Code != http.StatusForbidden {
			t.Errorf("unmatch: status: (actual, expected) = (%d, 403)", rec.Code)
		}

		envelope := apitypes.ErrorEnvelope{}
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatal(err)
		}
		if envelope.Code != "FORBIDDEN" {
			t.Errorf("unmatch: code: (actual, expected) = (%s, FORBIDDEN)", envelope.Code)
		}
	})
}
