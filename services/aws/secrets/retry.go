package secrets

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/smithy-go"
)

// RetryPolicy bounds how the SDK retries transient Secrets Manager failures.
// Zero fields take the values of DefaultRetryPolicy.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy allows ten attempts with exponential backoff from
// 100ms, capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// retryableCodes are the Secrets Manager error codes worth another attempt.
// Everything else, including access and decryption failures, is permanent.
var retryableCodes = map[string]struct{}{
	"ThrottlingException":                    {},
	"TooManyRequestsException":               {},
	"RequestLimitExceeded":                   {},
	"ProvisionedThroughputExceededException": {},
	InternalServiceError:                     {},
}

// Retryer is an aws.Retryer driven by a RetryPolicy. It keeps no state
// between calls and is safe for concurrent use.
type Retryer struct {
	policy RetryPolicy
}

var _ aws.Retryer = (*Retryer)(nil)

// NewRetryer returns a Retryer for p.
func NewRetryer(p RetryPolicy) *Retryer {
	return &Retryer{policy: p.withDefaults()}
}

// Policy returns the effective policy.
func (r *Retryer) Policy() RetryPolicy {
	return r.policy
}

// MaxAttempts implements aws.Retryer.
func (r *Retryer) MaxAttempts() int {
	return r.policy.MaxAttempts
}

// RetryDelay doubles BaseDelay per attempt, adds up to 25% jitter either
// way and never exceeds MaxDelay.
func (r *Retryer) RetryDelay(attempt int, _ error) (time.Duration, error) {
	if attempt < 1 {
		attempt = 1
	}
	delay := r.policy.MaxDelay
	// Past 2^30 the shift overflows; the cap applies long before that.
	if attempt <= 31 {
		if d := r.policy.BaseDelay << (attempt - 1); d > 0 && d < delay {
			delay = d
		}
	}

	if spread := int64(delay / 4); spread > 0 {
		delay += time.Duration(rand.Int64N(2*spread) - spread)
	}
	return min(max(delay, 0), r.policy.MaxDelay), nil
}

// IsErrorRetryable implements aws.Retryer.
func (r *Retryer) IsErrorRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	_, ok := retryableCodes[apiErr.ErrorCode()]
	return ok
}

// GetRetryToken implements aws.Retryer. There is no shared retry budget.
func (r *Retryer) GetRetryToken(context.Context, error) (func(error) error, error) {
	return releaseNoop, nil
}

// GetInitialToken implements aws.Retryer.
func (r *Retryer) GetInitialToken() func(error) error {
	return releaseNoop
}

func releaseNoop(error) error { return nil }
