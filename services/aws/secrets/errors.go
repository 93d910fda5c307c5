package secrets

import "github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"

// Sentinel errors returned by Client. They are coded errors, so both
// errors.Is against the sentinel and errors.GetCode work on returned values.
var (
	// ErrSecretNotFound is returned when a requested secret (or the requested
	// version stage of it) does not exist.
	ErrSecretNotFound = errors.New(errors.CodeNotFound, "secret not found")

	// ErrSecretEmpty is returned when a secret exists but contains no value.
	ErrSecretEmpty = errors.New(errors.CodeSecretRetrieval, "secret value is empty")

	// ErrAccessDenied is returned when the AWS credentials do not have
	// sufficient permissions for the requested operation.
	ErrAccessDenied = errors.New(errors.CodeForbidden, "access denied to secret")

	// ErrDecryptionFailed is returned when Secrets Manager cannot decrypt the
	// secret with the KMS key it is protected by.
	ErrDecryptionFailed = errors.New(errors.CodeSecretRetrieval, "secret could not be decrypted")

	// ErrSecretExists is returned by CreateSecret when the name is taken.
	ErrSecretExists = errors.New(errors.CodeAlreadyExists, "secret already exists")

	// ErrMalformedSecret is returned when a secret value is not the JSON
	// object a caller asked to decode.
	ErrMalformedSecret = errors.New(errors.CodeMalformedSecret, "secret value is not a JSON object of scalars")
)

// AWS error code constants
const (
	ResourceNotFoundException = "ResourceNotFoundException"
	AccessDeniedException     = "AccessDeniedException"
	DecryptionFailure         = "DecryptionFailure"
	ResourceExistsException   = "ResourceExistsException"
	InternalServiceError      = "InternalServiceError"
)
