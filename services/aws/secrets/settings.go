package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
)

// Settings describes how to reach Secrets Manager. Every field is optional;
// unset fields fall back to the AWS default configuration chain.
type Settings struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	EndpointURL     string

	// CacheTTL is how long fetched values are served from memory.
	// Zero selects DefaultCacheTTL; a negative value disables caching.
	CacheTTL time.Duration

	// CacheSize bounds the number of cached entries (0 = unlimited).
	CacheSize int

	// MaxAttempts and MaxBackoff install a Retryer when either is set.
	// Unset fields take DefaultRetryPolicy values.
	MaxAttempts int
	MaxBackoff  time.Duration
}

// retryOption returns nil when s leaves retries to the SDK.
func (s Settings) retryOption() Option {
	if s.MaxAttempts <= 0 && s.MaxBackoff <= 0 {
		return nil
	}
	return WithRetryPolicy(RetryPolicy{MaxAttempts: s.MaxAttempts, MaxDelay: s.MaxBackoff})
}

// LoadAWSConfig resolves an aws.Config from s and verifies that credentials
// can actually be retrieved, so misconfiguration fails at startup rather
// than on the first request.
func LoadAWSConfig(ctx context.Context, s Settings) (aws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if s.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(s.Region))
	}
	if s.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(s.Profile))
	}
	if s.AccessKeyID != "" || s.SecretAccessKey != "" {
		if s.AccessKeyID == "" || s.SecretAccessKey == "" {
			return aws.Config{}, errors.New(errors.CodeInvalidConfig,
				"access key ID and secret access key must be set together")
		}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, s.SessionToken),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "failed to load AWS configuration")
	}
	if cfg.Region == "" {
		return aws.Config{}, errors.New(errors.CodeInvalidConfig, "no AWS region configured")
	}
	if cfg.Credentials == nil {
		return aws.Config{}, errors.New(errors.CodeInvalidConfig, "could not find AWS credentials")
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return aws.Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "could not find AWS credentials")
	}

	return cfg, nil
}

// NewClientFromSettings builds a Client from s, enabling an InMemoryCache
// unless s.CacheTTL is negative. Options in opts take precedence.
func NewClientFromSettings(ctx context.Context, s Settings, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}

	cfg, err := LoadAWSConfig(ctx, s)
	if err != nil {
		return nil, err
	}

	var base []Option
	if s.EndpointURL != "" {
		base = append(base, WithEndpoint(s.EndpointURL))
	}
	if opt := s.retryOption(); opt != nil {
		base = append(base, opt)
	}
	switch {
	case s.CacheTTL == 0:
		base = append(base, WithCache(NewInMemoryCache(DefaultCacheTTL, s.CacheSize)))
	case s.CacheTTL > 0:
		base = append(base, WithCache(NewInMemoryCache(s.CacheTTL, s.CacheSize)))
	}

	return newClientFromConfig(cfg, append(base, opts...)), nil
}
