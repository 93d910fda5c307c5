// Package errors provides the coded error type used across secretsrefresh.
// Codes classify a failure so callers can decide what to do with it (retry,
// report as bad input, invalidate a credential) without matching on
// messages. Errors stay compatible with errors.Is and errors.As.
package errors

// ErrorCode classifies an Error. Codes are strings so they read well in logs.
type ErrorCode string

// Lookup and permission failures.
const (
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// CodeUnauthorized means a backend rejected the credentials presented
	// to it, e.g. a database refusing a rotated password.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeForbidden means the caller's identity lacks permission, e.g. IAM
	// denying secretsmanager:GetSecretValue.
	CodeForbidden ErrorCode = "FORBIDDEN"
)

// Input and configuration failures.
const (
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// CodeMalformedSecret means a secret value is not the JSON document
	// its consumer expects.
	CodeMalformedSecret ErrorCode = "MALFORMED_SECRET"

	CodeCUELoadFailed   ErrorCode = "CUE_LOAD_FAILED"
	CodeCUEDecodeFailed ErrorCode = "CUE_DECODE_FAILED"
)

// Backend failures. The last four are transient; see IsRetryableCode.
const (
	CodeSecretRetrieval ErrorCode = "SECRET_RETRIEVAL_FAILED"
	CodeDatabase        ErrorCode = "DATABASE_ERROR"
	CodeNetwork         ErrorCode = "NETWORK_ERROR"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeRateLimit       ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeUnavailable     ErrorCode = "SERVICE_UNAVAILABLE"
)

const (
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeUnknown is what GetCode reports for errors without a code.
	CodeUnknown ErrorCode = "UNKNOWN"
)

// IsRetryableCode reports whether an operation that failed with code may
// succeed if repeated unchanged.
func IsRetryableCode(code ErrorCode) bool {
	switch code {
	case CodeNetwork, CodeTimeout, CodeRateLimit, CodeUnavailable:
		return true
	}
	return false
}
