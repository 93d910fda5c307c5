package secrets

import (
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/internal/metrics"
)

// Cache stores fetched secrets. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get returns the live entry for key.
	Get(key string) (any, bool)

	// Set stores value under key. A zero ttl selects the cache's default.
	Set(key string, value any, ttl time.Duration)

	Delete(key string)
}

type clientOptions struct {
	logger   *slog.Logger
	cache    Cache
	retryer  aws.Retryer
	metrics  *metrics.Metrics
	endpoint string
	now      func() time.Time
}

// Option configures a Client.
type Option func(*clientOptions)

// WithLogger sets the client's logger. Nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithCache enables the *Cached methods. Without a cache they call AWS
// every time.
func WithCache(cache Cache) Option {
	return func(o *clientOptions) { o.cache = cache }
}

// WithRetryer replaces the SDK's retryer on clients built from an
// aws.Config. Nil keeps the SDK default.
func WithRetryer(retryer aws.Retryer) Option {
	return func(o *clientOptions) { o.retryer = retryer }
}

// WithRetryPolicy is WithRetryer(NewRetryer(p)).
func WithRetryPolicy(p RetryPolicy) Option {
	return WithRetryer(NewRetryer(p))
}

// WithMetrics records cache and fetch counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithEndpoint points the SDK client at a non-AWS endpoint such as LocalStack
// or a moto server. Ignored by NewClientWithAPI.
func WithEndpoint(url string) Option {
	return func(o *clientOptions) { o.endpoint = url }
}

// withClock overrides the timestamp source for FetchedAt.
func withClock(now func() time.Time) Option {
	return func(o *clientOptions) { o.now = now }
}

func resolveOptions(opts []Option) *clientOptions {
	o := &clientOptions{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}
