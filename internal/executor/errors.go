package executor

// ErrorCode is one of the canonical error codes surfaced to callers.
type ErrorCode string

const (
	ErrDSLValidationFailed ErrorCode = "DSL_VALIDATION_FAILED"
	ErrDSLRefNotFound ErrorCode = "DSL_REF_NOT_FOUND"
	ErrLLMAutofillFailed ErrorCode = "LLM_AUTOFILL_FAILED"
	ErrToolAuthError ErrorCode = "TOOL_AUTH_ERROR"
	ErrToolRateLimited ErrorCode = "TOOL_RATE_LIMITED"
	ErrToolTimeout ErrorCode = "TOOL_TIMEOUT"
	ErrVerifyCountMismatch ErrorCode = "VERIFY_COUNT_MISMATCH"
	ErrCompensationFailed ErrorCode = "COMPENSATION_FAILED"
	ErrPipelineTimeout ErrorCode = "PIPELINE_TIMEOUT"

	ErrValidationError ErrorCode = "validation_error"
	ErrAuthError ErrorCode = "auth_error"
	ErrTokenMissing ErrorCode = "token_missing"
	ErrServiceNotConnected ErrorCode = "service_not_connected"
	ErrRateLimited ErrorCode = "rate_limited"
	ErrNotFound ErrorCode = "not_found"
	ErrUpstreamError ErrorCode = "upstream_error"
	ErrExecutionError ErrorCode = "execution_error"
	ErrVerificationFailed ErrorCode = "verification_failed"
	ErrClarificationNeeded ErrorCode = "clarification_needed"
	ErrRiskGateBlocked ErrorCode = "risk_gate_blocked"
	ErrToolFailed ErrorCode = "tool_failed"
)

var retryable = map[ErrorCode]bool{
	ErrToolRateLimited: true,
	ErrToolTimeout: true,
}

// IsRetryable implements testable property 10: true exactly for
// {TOOL_RATE_LIMITED, TOOL_TIMEOUT}.
func IsRetryable(code ErrorCode) bool {
	return retryable[code]
}

// RunError is an error value carrying a canonical code plus an opaque
// forensic detail string that is never surfaced verbatim to the user.
type RunError struct {
	Code ErrorCode
	Detail string
}

func (e *RunError) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Detail
}

func NewRunError(code ErrorCode, detail string) *RunError {
	return &RunError{Code: code, Detail: detail}
}
