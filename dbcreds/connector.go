package dbcreds

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
)

// Connector is a driver.Connector that reads credentials from a Provider
// on every new connection, so database/sql pools pick up rotated
// credentials without a restart.
type Connector struct {
	provider *Provider
	opts     *options
}

var _ driver.Connector = (*Connector)(nil)

// NewConnector creates a Connector for p's engine.
func NewConnector(p *Provider, opts ...Option) (*Connector, error) {
	if p == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "provider cannot be nil")
	}

	o := defaultOptions()
	o.logger = p.logger
	o.metrics = p.metrics
	applyOptions(o, opts)

	if o.factory == nil {
		switch p.engine {
		case EngineMySQL:
			o.factory = mysqlConnector
		case EnginePostgres:
			o.factory = postgresConnector
		}
	}

	return &Connector{provider: p, opts: o}, nil
}

// Open returns a *sql.DB whose connections authenticate with the current
// credentials of p.
func Open(p *Provider, opts ...Option) (*sql.DB, error) {
	c, err := NewConnector(p, opts...)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(c), nil
}

// Connect opens a connection with the current credentials. When the
// database rejects them and connect retry is enabled, the secret is
// refreshed and the connection attempted once more. Authentication
// failures are returned as *AuthError.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	creds, err := c.provider.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := c.connect(ctx, creds)
	if err == nil {
		return conn, nil
	}
	if !IsAuthError(err) {
		return nil, errors.WrapWithContext(err, errors.CodeDatabase, "database connection failed",
			map[string]interface{}{"secret_name": c.provider.secretID, "engine": c.provider.engine})
	}
	if !c.opts.connectRetry {
		return nil, asAuthError(c.provider.secretID, err)
	}

	if c.opts.logger != nil {
		c.opts.logger.WarnContext(ctx, "database rejected credentials on connect, refreshing secret",
			"secret_name", c.provider.secretID,
			"engine", c.provider.engine)
	}

	creds, err = c.provider.Refresh(ctx)
	if err != nil {
		c.opts.metrics.AuthRetried(string(c.provider.engine), err)
		return nil, err
	}

	conn, err = c.connect(ctx, creds)
	c.opts.metrics.AuthRetried(string(c.provider.engine), err)
	if err != nil {
		if IsAuthError(err) {
			return nil, asAuthError(c.provider.secretID, err)
		}
		return nil, errors.WrapWithContext(err, errors.CodeDatabase, "database connection failed",
			map[string]interface{}{"secret_name": c.provider.secretID, "engine": c.provider.engine})
	}
	return conn, nil
}

func (c *Connector) connect(ctx context.Context, creds Credentials) (driver.Conn, error) {
	dc, err := c.opts.factory(creds, c.opts.params)
	if err != nil {
		return nil, err
	}
	return dc.Connect(ctx)
}

// Driver returns the underlying database driver.
func (c *Connector) Driver() driver.Driver {
	if c.provider.engine == EnginePostgres {
		return stdlib.GetDefaultDriver()
	}
	return &mysql.MySQLDriver{}
}

func mysqlConfig(creds Credentials, params map[string]string) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = creds.Username
	cfg.Passwd = creds.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(creds.Host, strconv.Itoa(creds.Port))
	cfg.DBName = creds.DBName
	cfg.ParseTime = true
	cfg.Timeout = 10 * time.Second
	if len(params) > 0 {
		cfg.Params = make(map[string]string, len(params))
		for k, v := range params {
			cfg.Params[k] = v
		}
	}
	return cfg
}

func mysqlConnector(creds Credentials, params map[string]string) (driver.Connector, error) {
	dc, err := mysql.NewConnector(mysqlConfig(creds, params))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid MySQL connection parameters")
	}
	return dc, nil
}

func postgresConfig(creds Credentials, params map[string]string) (*pgx.ConnConfig, error) {
	q := url.Values{}
	q.Set("connect_timeout", "10")
	for k, v := range params {
		q.Set(k, v)
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(creds.Username, creds.Password),
		Host:     net.JoinHostPort(creds.Host, strconv.Itoa(creds.Port)),
		Path:     "/" + creds.DBName,
		RawQuery: q.Encode(),
	}

	cfg, err := pgx.ParseConfig(u.String())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid PostgreSQL connection parameters")
	}
	return cfg, nil
}

func postgresConnector(creds Credentials, params map[string]string) (driver.Connector, error) {
	cfg, err := postgresConfig(creds, params)
	if err != nil {
		return nil, err
	}
	return stdlib.GetConnector(*cfg), nil
}
