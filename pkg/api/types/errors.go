// Package types defines the wire shapes of the public API.
package types

import (
	"errors"
	"net/http"

	kerr "github.com/bkpaas/apcp/pkg/domain/errors"
	"github.com/bkpaas/apcp/pkg/release"
)

// ErrorEnvelope is the body of every error response.
type ErrorEnvelope struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
	Data   any    `json:"data,omitempty"`
}

// ErrorOf folds an error into its envelope and HTTP status. The
// mapping is fixed; handlers never pick status codes themselves.
func ErrorOf(err error) (int, ErrorEnvelope) {
	type mapping struct {
		sentinel error
		status   int
		code     string
	}
	// more specific sentinels first
	table := []mapping{
		{kerr.ErrTooOften, http.StatusTooManyRequests, "TOO_OFTEN"},
		{kerr.ErrCannotOffline, http.StatusBadRequest, "CANNOT_OFFLINE_APP"},
		{kerr.ErrCannotOperate, http.StatusBadRequest, "CANNOT_OPERATE_PROCESS"},
		{kerr.ErrPendingOperation, http.StatusConflict, "PENDING_OPERATION"},
		{kerr.ErrUsedByMarket, http.StatusConflict, "USED_BY_MARKET"},
		{kerr.ErrCertInUse, http.StatusConflict, "CERT_IN_USE"},
		{kerr.ErrClusterNotBound, http.StatusBadRequest, "CLUSTER_NOT_BOUND"},
		{kerr.ErrCrossClusterWatch, http.StatusBadRequest, "CROSS_CLUSTER_WATCH"},
		{kerr.ErrNoSeries, http.StatusNotFound, "NO_METRIC_SERIES"},
		{kerr.ErrMissing, http.StatusNotFound, "NOT_FOUND"},
		{kerr.ErrInvalid, http.StatusBadRequest, "INVALID"},
		{kerr.ErrConflict, http.StatusConflict, "CONFLICT"},
		{kerr.ErrDeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},

		{release.ErrExecuteStage, http.StatusBadRequest, "EXECUTE_STAGE_ERROR"},
		{release.ErrCannotRerun, http.StatusBadRequest, "CANNOT_RERUN_ONGOING_STEPS"},
		{release.ErrCannotRollback, http.StatusBadRequest, "CANNOT_ROLLBACK_CURRENT_STEP"},
		{release.ErrCannotReset, http.StatusBadRequest, "CANNOT_RESET_RELEASE"},
		{release.ErrCannotCancel, http.StatusBadRequest, "CANNOT_CANCEL_RELEASE"},
		{release.ErrThirdPartyAPI, http.StatusBadGateway, "THIRD_PARTY_API_ERROR"},
	}
	for _, m := range table {
		if errors.Is(err, m.sentinel) {
			return m.status, ErrorEnvelope{Code: m.code, Detail: err.Error()}
		}
	}
	return http.StatusInternalServerError, ErrorEnvelope{Code: "INTERNAL", Detail: "internal error"}
}

// Forbidden is the envelope of a failed capability check.
func Forbidden(detail string) (int, ErrorEnvelope) {
	return http.StatusForbidden, ErrorEnvelope{Code: "FORBIDDEN", Detail: detail}
}
