package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/dbcreds"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/secretkey"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/services/aws/secrets"
)

// build converts a schema-valid document into a Config, checking what the
// schema cannot express. All problems are reported together.
func build(doc *document) (*Config, error) {
	var result *multierror.Error

	if err := validateVersion(doc.Version); err != nil {
		result = multierror.Append(result, err)
	}

	aws, err := buildAWS(doc.AWS)
	if err != nil {
		result = multierror.Append(result, err)
	}

	var sk *secretkey.Config
	if doc.SecretKey != nil {
		interval, err := parseDuration("secret_key.refresh_interval", doc.SecretKey.RefreshInterval)
		if err != nil {
			result = multierror.Append(result, err)
		} else if interval <= 0 {
			result = multierror.Append(result, fmt.Errorf("secret_key.refresh_interval: must be positive"))
		}
		sk = &secretkey.Config{
			SecretID:        doc.SecretKey.SecretID,
			KeyName:         doc.SecretKey.KeyName,
			RefreshInterval: interval,
		}
	}

	databases := make(map[string]Database, len(doc.Databases))
	for name, d := range doc.Databases {
		engine, err := dbcreds.ParseEngine(d.Engine)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("databases.%s.engine: %w", name, err))
			continue
		}
		databases[name] = Database{
			Name:     name,
			Engine:   engine,
			SecretID: d.SecretID,
			Params:   d.Params,
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid configuration")
	}

	return &Config{
		Version:   doc.Version,
		AWS:       aws,
		SecretKey: sk,
		Databases: databases,
		Server: Server{
			Addr:         doc.Server.Addr,
			MaxBodyBytes: doc.Server.MaxBodyBytes,
		},
	}, nil
}

func validateVersion(version string) error {
	ok, err := IsCompatible(version)
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}
	if !ok {
		return fmt.Errorf("version: %s is not compatible with supported version %s", version, SupportedVersion)
	}
	return nil
}

func buildAWS(doc awsDocument) (secrets.Settings, error) {
	var result *multierror.Error

	s := secrets.Settings{
		Region:          doc.Region,
		Profile:         doc.Profile,
		AccessKeyID:     doc.AccessKeyID,
		SecretAccessKey: doc.SecretAccessKey,
		SessionToken:    doc.SessionToken,
		EndpointURL:     doc.EndpointURL,
		CacheSize:       doc.CacheSize,
		MaxAttempts:     doc.MaxAttempts,
	}

	if (doc.AccessKeyID == "") != (doc.SecretAccessKey == "") {
		result = multierror.Append(result, fmt.Errorf("aws: access_key_id and secret_access_key must be set together"))
	}

	if doc.EndpointURL != "" {
		u, err := url.Parse(doc.EndpointURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("aws.endpoint_url: %q is not an absolute URL", doc.EndpointURL))
		}
	}

	ttl, err := parseDuration("aws.cache_ttl", doc.CacheTTL)
	switch {
	case err != nil:
		result = multierror.Append(result, err)
	case ttl <= 0:
		result = multierror.Append(result, fmt.Errorf("aws.cache_ttl: must be positive, use cache_enabled: false to disable caching"))
	}
	s.CacheTTL = ttl
	if !doc.CacheEnabled {
		s.CacheTTL = -1
	}

	if doc.MaxBackoff != "" {
		backoff, err := parseDuration("aws.max_backoff", doc.MaxBackoff)
		switch {
		case err != nil:
			result = multierror.Append(result, err)
		case backoff <= 0:
			result = multierror.Append(result, fmt.Errorf("aws.max_backoff: must be positive"))
		}
		s.MaxBackoff = backoff
	}

	return s, result.ErrorOrNil()
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
