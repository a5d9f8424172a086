package errormapper

const (
	// Routing & Validation Failures
	ErrorCodeNoRoute           = "NO_ROUTE"
	ErrorCodeValidationFailure = "VALIDATION_FAIL"
	ErrorCodeNotFound          = "NOT_FOUND"
	ErrorCodeAuthFailure       = "AUTH_FAIL"

	// Billing Failures
	ErrorCodeInsufficientFunds = "INSUF_FUNDS"
	ErrorCodeQuotaExceeded     = "QUOTA_EXCEEDED"

	// Submission failures against the SMSC
	ErrorCodeThrottled     = "THROTTLED"
	ErrorCodeSubmitFail    = "SUBMIT_FAIL"
	ErrorCodeNotBound      = "NOT_BOUND"
	ErrorCodeSubmitTimeout = "SUBMIT_TIMEOUT"

	// System Errors
	ErrorCodeSystemError = "SYS_ERR"
	ErrorCodeQueueError  = "QUEUE_ERR"
	ErrorCodeStoreError  = "STORE_ERR"
)
