package dbcreds

import (
	"database/sql/driver"
	"log/slog"
	"maps"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/internal/metrics"
)

// connectorFactory builds the real driver connector for one set of
// credentials.
type connectorFactory func(creds Credentials, params map[string]string) (driver.Connector, error)

type options struct {
	logger       *slog.Logger
	metrics      *metrics.Metrics
	connectRetry bool
	params       map[string]string
	factory      connectorFactory
}

// Option configures a Provider or a Connector.
type Option func(*options)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records auth retries on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithConnectRetry controls whether Connector.Connect retries once with
// refreshed credentials after an authentication failure. It is on by
// default; turn it off when an outer layer such as the HTTP middleware owns
// the retry.
func WithConnectRetry(enabled bool) Option {
	return func(o *options) {
		o.connectRetry = enabled
	}
}

// WithParams passes extra driver parameters: MySQL DSN params or
// PostgreSQL connection-string keywords such as sslmode.
func WithParams(params map[string]string) Option {
	return func(o *options) {
		o.params = maps.Clone(params)
	}
}

// withConnectorFactory replaces the real driver. Tests only.
func withConnectorFactory(f connectorFactory) Option {
	return func(o *options) {
		o.factory = f
	}
}

func defaultOptions() *options {
	return &options{connectRetry: true}
}

func applyOptions(o *options, opts []Option) {
	for _, opt := range opts {
		opt(o)
	}
}
