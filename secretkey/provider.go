// Package secretkey keeps an application signing key in sync with AWS
// Secrets Manager.
//
// The key lives in a JSON secret under KeyName. Load fetches it once at
// startup and fails if it is missing. MaybeRefresh, typically called per
// request by middleware.SecretKeyRefresh, refetches it once RefreshInterval
// has elapsed. When the key changed, the previous key becomes the only
// fallback so values signed before the rotation still verify.
package secretkey

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"log/slog"
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/internal/metrics"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/services/aws/secrets"
)

const (
	// DefaultKeyName is the JSON field holding the key.
	DefaultKeyName = "DJANGO_SECRET_KEY"

	// DefaultRefreshInterval is how often MaybeRefresh goes to AWS.
	DefaultRefreshInterval = time.Hour
)

// Source fetches a secret without caching; the refresh interval is the cache.
type Source interface {
	GetSecretVersion(ctx context.Context, secretName, stage string) (*secrets.Secret, error)
}

var _ Source = (*secrets.Client)(nil)

// Config selects the secret and field holding the key.
type Config struct {
	SecretID        string
	KeyName         string
	RefreshInterval time.Duration
}

// Keyring is a snapshot of the current key and its fallbacks.
type Keyring struct {
	Current   string
	Fallbacks []string
}

// Provider holds the signing key. It is safe for concurrent use.
type Provider struct {
	source  Source
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu          sync.RWMutex
	current     string
	fallback    string
	lastRefresh time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithMetrics records rotations and failed refreshes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Provider) {
		p.metrics = m
	}
}

func withClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// New validates cfg and returns a Provider with no key loaded.
func New(source Source, cfg Config, opts ...Option) (*Provider, error) {
	if source == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "secret source cannot be nil")
	}
	if cfg.SecretID == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "secret ID is required to configure the signing key provider")
	}
	if cfg.KeyName == "" {
		cfg.KeyName = DefaultKeyName
	}
	if cfg.RefreshInterval < 0 {
		return nil, errors.New(errors.CodeInvalidConfig, "refresh interval cannot be negative")
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}

	p := &Provider{source: source, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Load fetches the key. It is meant for startup: any failure is returned.
func (p *Provider) Load(ctx context.Context) error {
	key, err := p.fetch(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = key
	p.fallback = ""
	p.lastRefresh = p.now()
	return nil
}

// Current returns the signing key, or "" before Load.
func (p *Provider) Current() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Fallbacks returns the keys still accepted for verification. There is
// never more than one.
func (p *Provider) Fallbacks() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.fallback == "" {
		return nil
	}
	return []string{p.fallback}
}

// Keyring returns the current key and fallbacks as one consistent snapshot.
func (p *Provider) Keyring() Keyring {
	p.mu.RLock()
	defer p.mu.RUnlock()
	k := Keyring{Current: p.current}
	if p.fallback != "" {
		k.Fallbacks = []string{p.fallback}
	}
	return k
}

// MaybeRefresh refetches the key if RefreshInterval has elapsed since the
// last attempt and reports whether it rotated. The attempt time is recorded
// before fetching, so a failing Secrets Manager is asked at most once per
// interval. Failures are logged and leave the keys unchanged.
func (p *Provider) MaybeRefresh(ctx context.Context) bool {
	now := p.now()

	p.mu.Lock()
	if now.Sub(p.lastRefresh) < p.cfg.RefreshInterval {
		p.mu.Unlock()
		return false
	}
	p.lastRefresh = now
	p.mu.Unlock()

	if p.logger != nil {
		p.logger.InfoContext(ctx, "attempting to refresh signing key",
			"secret_name", p.cfg.SecretID)
	}

	key, err := p.fetch(ctx)
	if err != nil {
		p.metrics.KeyRefreshFailed()
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "unable to refresh signing key",
				"secret_name", p.cfg.SecretID,
				"retryable", errors.IsRetryable(err),
				"error", err)
		}
		return false
	}

	p.mu.Lock()
	if key == p.current {
		p.mu.Unlock()
		if p.logger != nil {
			p.logger.InfoContext(ctx, "signing key not changed, no rotation needed",
				"secret_name", p.cfg.SecretID)
		}
		return false
	}
	p.fallback = p.current
	p.current = key
	p.mu.Unlock()

	p.metrics.KeyRotated()
	if p.logger != nil {
		p.logger.InfoContext(ctx, "rotated to new signing key, previous key kept as fallback",
			"secret_name", p.cfg.SecretID)
	}
	return true
}

// Sign returns the HMAC-SHA256 of data under the current key.
func (p *Provider) Sign(data []byte) []byte {
	return mac(p.Current(), data)
}

// Verify reports whether sig is a valid signature of data under the current
// key or the fallback.
func (p *Provider) Verify(data, sig []byte) bool {
	k := p.Keyring()
	if k.Current != "" && hmac.Equal(mac(k.Current, data), sig) {
		return true
	}
	for _, fb := range k.Fallbacks {
		if hmac.Equal(mac(fb, data), sig) {
			return true
		}
	}
	return false
}

func mac(key string, data []byte) []byte {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(data)
	return h.Sum(nil)
}

func (p *Provider) fetch(ctx context.Context) (string, error) {
	s, err := p.source.GetSecretVersion(ctx, p.cfg.SecretID, secrets.StageCurrent)
	if err != nil {
		return "", errors.WrapWithContext(err, errors.CodeSecretRetrieval,
			"unable to retrieve signing key from Secrets Manager",
			map[string]interface{}{"secret_name": p.cfg.SecretID})
	}

	key, err := s.Field(p.cfg.KeyName)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInvalidConfig, "signing key secret is malformed")
	}
	if key == "" {
		return "", errors.WrapWithContext(secrets.ErrMalformedSecret, errors.CodeInvalidConfig,
			"signing key is empty",
			map[string]interface{}{"secret_name": p.cfg.SecretID, "field": p.cfg.KeyName})
	}
	return key, nil
}
