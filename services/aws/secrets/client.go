package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/internal/metrics"
)

// DefaultCacheTTL is how long a cached secret is served when caching is
// enabled without an explicit TTL.
const DefaultCacheTTL = time.Hour

// Client reads and writes secrets in AWS Secrets Manager, optionally behind
// a TTL cache. It is safe for concurrent use.
type Client struct {
	api     ManagerAPI
	logger  *slog.Logger
	cache   Cache
	metrics *metrics.Metrics
	now     func() time.Time

	// stages records the custom version stages that have been cached, for
	// caches that cannot delete by prefix.
	stages sync.Map
}

// NewClientWithConfig builds a client on a caller-supplied aws.Config,
// which must carry a region.
func NewClientWithConfig(ctx context.Context, cfg *aws.Config, opts ...Option) (*Client, error) {
	switch {
	case ctx == nil:
		return nil, errors.New(errors.CodeInvalidInput, "context cannot be nil")
	case cfg == nil:
		return nil, errors.New(errors.CodeInvalidConfig, "config cannot be nil")
	case cfg.Region == "":
		return nil, errors.New(errors.CodeInvalidConfig, "config region cannot be empty")
	}
	return newClientFromConfig(*cfg, opts), nil
}

// NewClientWithEndpoint builds a client for a local Secrets Manager
// emulator such as LocalStack or moto, with anonymous credentials in
// us-east-1.
func NewClientWithEndpoint(ctx context.Context, endpointURL string, opts ...Option) (*Client, error) {
	switch {
	case ctx == nil:
		return nil, errors.New(errors.CodeInvalidInput, "context cannot be nil")
	case endpointURL == "":
		return nil, errors.New(errors.CodeInvalidConfig, "endpoint URL cannot be empty")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to load AWS config")
	}
	return newClientFromConfig(cfg, append(opts, WithEndpoint(endpointURL))), nil
}

// NewClientWithAPI wraps an existing ManagerAPI, such as a preconfigured
// *secretsmanager.Client or secretstest.API.
func NewClientWithAPI(api ManagerAPI, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New(errors.CodeInvalidInput, "api cannot be nil")
	}
	return newClient(api, resolveOptions(opts)), nil
}

func newClientFromConfig(cfg aws.Config, opts []Option) *Client {
	o := resolveOptions(opts)
	api := secretsmanager.NewFromConfig(cfg, func(sm *secretsmanager.Options) {
		if o.retryer != nil {
			sm.Retryer = o.retryer
		}
		if o.endpoint != "" {
			sm.BaseEndpoint = aws.String(o.endpoint)
		}
	})
	return newClient(api, o)
}

func newClient(api ManagerAPI, o *clientOptions) *Client {
	return &Client{
		api:     api,
		logger:  o.logger,
		cache:   o.cache,
		metrics: o.metrics,
		now:     o.now,
	}
}

func (c *Client) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if c.logger != nil {
		c.logger.Log(ctx, level, msg, args...)
	}
}

// handleError maps an SDK error to the package's sentinels or to a coded
// error that records which operation failed.
func (c *Client) handleError(err error, operation string) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrSecretNotFound, ErrSecretEmpty, ErrAccessDenied, ErrDecryptionFailed, ErrSecretExists} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.Wrap(err, errors.CodeTimeout, operation+" operation timed out")
		}
		return fmt.Errorf("%s operation failed: %w", operation, err)
	}

	code := apiErr.ErrorCode()
	switch code {
	case ResourceNotFoundException:
		return ErrSecretNotFound
	case AccessDeniedException:
		return ErrAccessDenied
	case DecryptionFailure:
		return ErrDecryptionFailed
	case ResourceExistsException:
		return ErrSecretExists
	}

	msg := fmt.Sprintf("%s operation failed: %s: %s", operation, code, apiErr.ErrorMessage())
	switch _, transient := retryableCodes[code]; {
	case code == InternalServiceError:
		return errors.New(errors.CodeUnavailable, msg)
	case transient:
		return errors.New(errors.CodeRateLimit, msg)
	}
	return fmt.Errorf("%s", msg)
}

func validateName(ctx context.Context, secretName string) error {
	if ctx == nil {
		return errors.New(errors.CodeInvalidInput, "context cannot be nil")
	}
	if secretName == "" {
		return errors.New(errors.CodeInvalidInput, "secret name cannot be empty")
	}
	return nil
}

func validateWrite(ctx context.Context, secretName, secretValue string) error {
	if err := validateName(ctx, secretName); err != nil {
		return err
	}
	if secretValue == "" {
		return errors.New(errors.CodeInvalidInput, "secret value cannot be empty")
	}
	return nil
}

// GetSecret returns the AWSCURRENT value of a secret, always calling AWS.
func (c *Client) GetSecret(ctx context.Context, secretName string) (string, error) {
	return c.value(c.GetSecretVersion(ctx, secretName, StageCurrent))
}

// GetPreviousSecret returns the AWSPREVIOUS value of a secret: what a
// rotated credential was before its last rotation.
func (c *Client) GetPreviousSecret(ctx context.Context, secretName string) (string, error) {
	return c.value(c.GetSecretVersion(ctx, secretName, StagePrevious))
}

func (c *Client) value(s *Secret, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return s.Value, nil
}

// GetSecretVersion fetches one version stage of a secret from AWS. An empty
// stage means AWSCURRENT. Binary secrets are returned as their raw bytes.
func (c *Client) GetSecretVersion(ctx context.Context, secretName, stage string) (*Secret, error) {
	if err := validateName(ctx, secretName); err != nil {
		return nil, err
	}
	if stage == "" {
		stage = StageCurrent
	}
	c.log(ctx, slog.LevelInfo, "retrieving secret", "secret_name", secretName, "version_stage", stage)

	out, err := c.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretName),
		VersionStage: aws.String(stage),
	})
	if err == nil && out.SecretString == nil && out.SecretBinary == nil {
		err = ErrSecretEmpty
	}
	c.metrics.SecretFetched(secretName, err)
	if err != nil {
		c.log(ctx, slog.LevelError, "failed to retrieve secret",
			"secret_name", secretName, "version_stage", stage, "error", err)
		return nil, c.handleError(err, "GetSecret")
	}

	value := string(out.SecretBinary)
	if out.SecretString != nil {
		value = *out.SecretString
	}
	c.log(ctx, slog.LevelInfo, "secret retrieved successfully", "secret_name", secretName, "version_stage", stage)

	return &Secret{
		Name:         secretName,
		ARN:          aws.ToString(out.ARN),
		VersionID:    aws.ToString(out.VersionId),
		VersionStage: stage,
		Value:        value,
		FetchedAt:    c.now(),
	}, nil
}

// PutSecret stores a new AWSCURRENT version of an existing secret and drops
// the secret from the cache so the next cached read sees it.
func (c *Client) PutSecret(ctx context.Context, secretName, secretValue string) error {
	if err := validateWrite(ctx, secretName, secretValue); err != nil {
		return err
	}
	c.log(ctx, slog.LevelInfo, "updating secret", "secret_name", secretName)

	_, err := c.api.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:           aws.String(secretName),
		SecretString:       aws.String(secretValue),
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		c.log(ctx, slog.LevelError, "failed to update secret", "secret_name", secretName, "error", err)
		return c.handleError(err, "PutSecret")
	}

	c.InvalidateCache(secretName)
	c.log(ctx, slog.LevelInfo, "secret updated successfully", "secret_name", secretName)
	return nil
}

// CreateSecret creates a secret, encrypted with kmsKeyID when it is set.
// An existing name yields ErrSecretExists.
func (c *Client) CreateSecret(ctx context.Context, secretName, secretValue, kmsKeyID string) error {
	if err := validateWrite(ctx, secretName, secretValue); err != nil {
		return err
	}
	c.log(ctx, slog.LevelInfo, "creating secret", "secret_name", secretName)

	in := &secretsmanager.CreateSecretInput{
		Name:               aws.String(secretName),
		SecretString:       aws.String(secretValue),
		ClientRequestToken: aws.String(uuid.NewString()),
	}
	if kmsKeyID != "" {
		in.KmsKeyId = aws.String(kmsKeyID)
	}
	if _, err := c.api.CreateSecret(ctx, in); err != nil {
		c.log(ctx, slog.LevelError, "failed to create secret", "secret_name", secretName, "error", err)
		return c.handleError(err, "CreateSecret")
	}

	c.log(ctx, slog.LevelInfo, "secret created successfully", "secret_name", secretName)
	return nil
}

// DescribeSecret returns a secret's metadata, never its value.
func (c *Client) DescribeSecret(ctx context.Context, secretName string) (*secretsmanager.DescribeSecretOutput, error) {
	if err := validateName(ctx, secretName); err != nil {
		return nil, err
	}

	out, err := c.api.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{SecretId: aws.String(secretName)})
	if err != nil {
		c.log(ctx, slog.LevelError, "failed to describe secret", "secret_name", secretName, "error", err)
		return nil, c.handleError(err, "DescribeSecret")
	}
	return out, nil
}

// ListSecretNames returns the name of every secret visible to the caller.
func (c *Client) ListSecretNames(ctx context.Context) ([]string, error) {
	if ctx == nil {
		return nil, errors.New(errors.CodeInvalidInput, "context cannot be nil")
	}

	var names []string
	pages := secretsmanager.NewListSecretsPaginator(c.api, &secretsmanager.ListSecretsInput{})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, c.handleError(err, "ListSecrets")
		}
		for _, entry := range page.SecretList {
			names = append(names, aws.ToString(entry.Name))
		}
	}
	return names, nil
}

// prefixDeleter is implemented by caches that can drop every stage of a
// secret in one sweep.
type prefixDeleter interface {
	DeletePrefix(prefix string) int
}

func cacheKey(secretName, stage string) string {
	return secretName + "\x00" + stage
}

// GetSecretCached returns the AWSCURRENT value of a secret, from the cache
// while its TTL lasts and from AWS otherwise.
func (c *Client) GetSecretCached(ctx context.Context, secretName string) (string, error) {
	return c.value(c.GetSecretVersionCached(ctx, secretName, StageCurrent))
}

// GetSecretVersionCached is GetSecretVersion behind the cache. Each version
// stage is cached separately. Without a cache every call goes to AWS.
// Expired entries are never served and a failed fetch is returned as is.
func (c *Client) GetSecretVersionCached(ctx context.Context, secretName, stage string) (*Secret, error) {
	if err := validateName(ctx, secretName); err != nil {
		return nil, err
	}
	if stage == "" {
		stage = StageCurrent
	}
	if c.cache == nil {
		return c.GetSecretVersion(ctx, secretName, stage)
	}

	if cached, ok := c.cache.Get(cacheKey(secretName, stage)); ok {
		if secret, ok := cached.(*Secret); ok {
			c.metrics.CacheHit(secretName)
			c.log(ctx, slog.LevelDebug, "cache hit for secret", "secret_name", secretName, "version_stage", stage)
			return secret, nil
		}
	}
	c.metrics.CacheMiss(secretName)
	return c.fetchAndStore(ctx, secretName, stage)
}

// RefreshSecret forgets every cached stage of secretName, then fetches and
// caches its AWSCURRENT value.
func (c *Client) RefreshSecret(ctx context.Context, secretName string) (*Secret, error) {
	if err := validateName(ctx, secretName); err != nil {
		return nil, err
	}
	c.InvalidateCache(secretName)
	return c.fetchAndStore(ctx, secretName, StageCurrent)
}

func (c *Client) fetchAndStore(ctx context.Context, secretName, stage string) (*Secret, error) {
	secret, err := c.GetSecretVersion(ctx, secretName, stage)
	if err != nil || c.cache == nil {
		return secret, err
	}

	switch stage {
	case StageCurrent, StagePrevious, StagePending:
	default:
		c.stages.Store(stage, struct{}{})
	}
	c.cache.Set(cacheKey(secretName, stage), secret, 0)
	return secret, nil
}

// InvalidateCache drops every cached stage of a secret so the next cached
// read goes to AWS.
func (c *Client) InvalidateCache(secretName string) {
	if c.cache == nil || secretName == "" {
		return
	}

	if pd, ok := c.cache.(prefixDeleter); ok {
		pd.DeletePrefix(cacheKey(secretName, ""))
	} else {
		for _, stage := range []string{StageCurrent, StagePrevious, StagePending} {
			c.cache.Delete(cacheKey(secretName, stage))
		}
		c.stages.Range(func(stage, _ any) bool {
			c.cache.Delete(cacheKey(secretName, stage.(string)))
			return true
		})
	}
	c.metrics.CacheInvalidated(secretName)
	c.log(context.Background(), slog.LevelInfo, "cache invalidated for secret", "secret_name", secretName)
}

// ClearCache drops every cached secret.
func (c *Client) ClearCache() {
	if cleaner, ok := c.cache.(interface{ Clear() }); ok {
		cleaner.Clear()
		c.log(context.Background(), slog.LevelInfo, "entire cache cleared")
	}
}

// CacheSize returns the number of live cache entries, or 0 when the cache
// cannot report its size.
func (c *Client) CacheSize() int {
	if sized, ok := c.cache.(interface{ Size() int }); ok {
		return sized.Size()
	}
	return 0
}
