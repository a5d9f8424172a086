package errormapper

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/linxGnu/gosmpp/data"
)

var internalToHTTPStatus = map[string]int{
	ErrorCodeNoRoute:           http.StatusPreconditionFailed,
	ErrorCodeValidationFailure: http.StatusBadRequest,
	ErrorCodeNotFound:          http.StatusNotFound,
	ErrorCodeAuthFailure:       http.StatusForbidden,
	ErrorCodeInsufficientFunds: http.StatusPaymentRequired,
	ErrorCodeQuotaExceeded:     http.StatusPaymentRequired,
	ErrorCodeThrottled:         http.StatusTooManyRequests,
	ErrorCodeNotBound:          http.StatusServiceUnavailable,
	ErrorCodeQueueError:        http.StatusServiceUnavailable,
}

// HTTPStatus translates an internal code to the status returned by the admin API.
func HTTPStatus(internalCode string) int {
	if st, ok := internalToHTTPStatus[strings.ToUpper(internalCode)]; ok {
		return st
	}
	slog.Debug("No specific HTTP mapping found for error code, returning 500", slog.String("internal_code", internalCode))
	return http.StatusInternalServerError
}

// FromCommandStatus classifies a submit_sm_resp command status.
// Throttling statuses are kept apart since they feed a dedicated counter
// and trigger a requeue rather than a final failure.
func FromCommandStatus(status data.CommandStatusType) string {
	switch status {
	case data.ESME_ROK:
		return ""
	case data.ESME_RTHROTTLED, data.ESME_RMSGQFUL:
		return ErrorCodeThrottled
	default:
		return ErrorCodeSubmitFail
	}
}

// IsThrottling reports whether a command status asks the ESME to slow down.
func IsThrottling(status data.CommandStatusType) bool {
	return FromCommandStatus(status) == ErrorCodeThrottled
}
