package types_test

import (
	"net/http"
	"testing"

	apitypes "github.com/bkpaas/apcp/pkg/api/types"
	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	"github.com/bkpaas/apcp/pkg/release"
)

func TestErrorOf(t *testing.T) {

	type When struct {
		Err error
	}

	type Then struct {
		Status int
		Code   string
	}

	theory := func(when When, then Then) func(t *testing.T) {
		return func(t *testing.T) {
			status, envelope := apitypes.ErrorOf(when.Err)
			if status != then.Status {
				t.Errorf("unmatch: status: (actual, expected) = (%d, %d)", status, then.Status)
			}
			if envelope.Code != then.Code {
				t.Errorf("unmatch: code: (actual, expected) = (%s, %s)", envelope.Code, then.Code)
			}
		}
	}

	t.Run("too often", theory(
		When{Err: kerr.Wrap(kerr.ErrTooOften, "scale web")},
		Then{Status: http.StatusTooManyRequests, Code: "TOO_OFTEN"},
	))

	t.Run("missing", theory(
		When{Err: kerr.Wrap(kerr.ErrMissing, "no such env")},
		Then{Status: http.StatusNotFound, Code: "NOT_FOUND"},
	))

	t.Run("pending guard", theory(
		When{Err: kerr.Wrap(kerr.ErrPendingOperation, "deploy running")},
		Then{Status: http.StatusConflict, Code: "PENDING_OPERATION"},
	))

	t.Run("invalid input", theory(
		When{Err: kerr.Wrap(kerr.ErrInvalid, "bad body")},
		Then{Status: http.StatusBadRequest, Code: "INVALID"},
	))

	t.Run("cross cluster watch", theory(
		When{Err: kerr.ErrCrossClusterWatch},
		Then{Status: http.StatusBadRequest, Code: "CROSS_CLUSTER_WATCH"},
	))

	t.Run("stage machine refusals", theory(
		When{Err: release.ErrCannotRerun},
		Then{Status: http.StatusBadRequest, Code: "CANNOT_RERUN_ONGOING_STEPS"},
	))

	t.Run("third party failure", theory(
		When{Err: release.ErrThirdPartyAPI},
		Then{Status: http.StatusBadGateway, Code: "THIRD_PARTY_API_ERROR"},
	))

	t.Run("anything else is an opaque 500", func(t *testing.T) {
		status, envelope := apitypes.ErrorOf(http.ErrServerClosed)
		if status != http.StatusInternalServerError {
			t.Errorf("unmatch: status: (actual, expected) = (%d, 500)", status)
		}
		// internals never leak into the detail
		if envelope.Detail != "internal error" {
			t.Errorf("unmatch: detail: (actual, expected) = (%s, internal error)", envelope.Detail)
		}
	})
}
