// Package secrets provides a testable client for AWS Secrets Manager with
// structured logging, a TTL cache, and configurable retry behavior. It is the
// source of every credential secretsrefresh hands to databases and to the
// signing key provider.
//
// The client wraps the AWS SDK v2 `secretsmanager` service to provide:
//   - Simple methods for core operations: Get, GetVersion, Put, Create, Describe, List
//   - A TTL cache in front of GetSecretValue (`GetSecretCached`, `GetSecretVersionCached`)
//   - Forced refresh and invalidation for rotation (`RefreshSecret`, `InvalidateCache`)
//   - Throttling-aware retries via `RetryPolicy` and `Retryer`
//   - Typed errors that carry an errors.ErrorCode
//
// # Caching semantics
//
// A cached value is returned until its TTL elapses. After that the next call
// fetches from AWS exactly once and replaces the entry. Remote failures are
// surfaced to the caller; expired values are never served. Concurrent misses
// for the same secret may each fetch; the last write wins.
//
// Invalidating a secret drops every version stage cached for it, so a forced
// refresh of AWSCURRENT also forgets a cached AWSPREVIOUS.
//
// # Security considerations
//
//   - The package never logs secret values; only metadata like secret names
//   - Typed errors (`ErrSecretNotFound`, `ErrSecretEmpty`, `ErrAccessDenied`) avoid
//     leaking sensitive details while remaining actionable
//   - IAM permissions should follow least privilege; the refresh path only needs
//     `secretsmanager:GetSecretValue` (plus `kms:Decrypt` for customer-managed keys)
//
// # Thread safety
//
// All exported client methods are safe for concurrent use by multiple goroutines.
package secrets
