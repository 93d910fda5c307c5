package dbcreds

import (
	"context"
	"log/slog"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/internal/metrics"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/services/aws/secrets"
)

// SecretSource is the part of secrets.Client a Provider needs.
type SecretSource interface {
	GetSecretVersionCached(ctx context.Context, secretName, stage string) (*secrets.Secret, error)
	RefreshSecret(ctx context.Context, secretName string) (*secrets.Secret, error)
	InvalidateCache(secretName string)
}

var _ SecretSource = (*secrets.Client)(nil)

// Provider resolves database credentials for one engine from one secret.
// It holds no credentials itself; every call reads through the cache of the
// underlying SecretSource, so a rotation is picked up as soon as the cached
// entry expires or is invalidated.
type Provider struct {
	source   SecretSource
	secretID string
	engine   Engine
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProvider creates a Provider reading secretID for engine.
func NewProvider(source SecretSource, secretID string, engine Engine, opts ...Option) (*Provider, error) {
	if source == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "secret source cannot be nil")
	}
	if secretID == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "missing secret ID in database configuration")
	}
	if engine.DefaultPort() == 0 {
		return nil, errors.Newf(errors.CodeInvalidConfig, "unsupported database engine %q", engine)
	}

	o := defaultOptions()
	applyOptions(o, opts)

	return &Provider{
		source:   source,
		secretID: secretID,
		engine:   engine,
		logger:   o.logger,
		metrics:  o.metrics,
	}, nil
}

// SecretID returns the secret the provider reads.
func (p *Provider) SecretID() string {
	return p.secretID
}

// Engine returns the database engine.
func (p *Provider) Engine() Engine {
	return p.engine
}

// Credentials returns the current credentials, served from cache while the
// cached secret is fresh.
func (p *Provider) Credentials(ctx context.Context) (Credentials, error) {
	s, err := p.source.GetSecretVersionCached(ctx, p.secretID, secrets.StageCurrent)
	if err != nil {
		return Credentials{}, p.retrievalError(err)
	}
	return p.parse(s)
}

// Refresh bypasses the cache, fetching and caching the secret again.
func (p *Provider) Refresh(ctx context.Context) (Credentials, error) {
	if p.logger != nil {
		p.logger.InfoContext(ctx, "refreshing database credentials",
			"secret_name", p.secretID,
			"engine", p.engine)
	}

	s, err := p.source.RefreshSecret(ctx, p.secretID)
	if err != nil {
		return Credentials{}, p.retrievalError(err)
	}
	return p.parse(s)
}

// Invalidate drops the cached secret so the next Credentials call fetches it.
func (p *Provider) Invalidate() {
	p.source.InvalidateCache(p.secretID)
}

// Do runs op with the current credentials. If op fails with an
// authentication error the secret is refreshed and op runs exactly once
// more; the second result is returned as is. Other errors are not retried.
func (p *Provider) Do(ctx context.Context, op func(ctx context.Context, creds Credentials) error) error {
	creds, err := p.Credentials(ctx)
	if err != nil {
		return err
	}

	err = op(ctx, creds)
	if !IsAuthError(err) {
		return err
	}

	if p.logger != nil {
		p.logger.WarnContext(ctx, "database rejected cached credentials, retrying with refreshed secret",
			"secret_name", p.secretID,
			"engine", p.engine)
	}

	creds, err = p.Refresh(ctx)
	if err != nil {
		p.metrics.AuthRetried(string(p.engine), err)
		return err
	}

	err = op(ctx, creds)
	p.metrics.AuthRetried(string(p.engine), err)
	if IsAuthError(err) {
		return asAuthError(p.secretID, err)
	}
	return err
}

func (p *Provider) parse(s *secrets.Secret) (Credentials, error) {
	creds, err := fromSecret(p.engine, s)
	if err != nil {
		if p.logger != nil {
			p.logger.Error("database secret is malformed",
				"secret_name", p.secretID,
				"error", err)
		}
		return Credentials{}, err
	}
	return creds, nil
}

func (p *Provider) retrievalError(err error) error {
	return errors.WrapWithContext(err, errors.CodeDatabase,
		"could not retrieve database connection parameters from Secrets Manager",
		map[string]interface{}{"secret_name": p.secretID})
}
