// Package config loads the secretsrefresh configuration from a CUE file.
//
// The file is unified with an embedded schema that supplies defaults and
// rejects unknown fields, then checked for values CUE cannot judge
// (durations, engines, version compatibility). The result carries
// ready-to-use settings for the secrets client, the signing key provider
// and the database connectors.
//
//	version: "0.1.0"
//	aws: {
//	    region:    "eu-west-1"
//	    cache_ttl: "10m"
//	}
//	secret_key: secret_id: "app-secret-key"
//	databases: {
//	    mysql:      {engine: "mysql", secret_id: "mysql-creds"}
//	    postgresql: {engine: "postgres", secret_id: "postgresql-creds", params: sslmode: "disable"}
//	}
package config

import (
	"sort"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/dbcreds"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/secretkey"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/services/aws/secrets"
)

// DefaultPath is where the CLI looks for the configuration file.
const DefaultPath = "secretsrefresh.cue"

// Config is a loaded and validated configuration.
type Config struct {
	Version string

	// AWS holds the Secrets Manager connection and cache settings.
	AWS secrets.Settings

	// SecretKey is nil when no signing key is configured.
	SecretKey *secretkey.Config

	// Databases is keyed by the name used in the configuration file.
	Databases map[string]Database

	Server Server
}

// Database selects the secret holding one database's credentials.
type Database struct {
	Name     string
	Engine   dbcreds.Engine
	SecretID string
	Params   map[string]string
}

// Server configures the demo HTTP server.
type Server struct {
	Addr         string
	MaxBodyBytes int64
}

// DatabaseNames returns the configured database names in sorted order.
func (c *Config) DatabaseNames() []string {
	names := make([]string, 0, len(c.Databases))
	for name := range c.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DatabaseSecretIDs returns the secret IDs of all databases, sorted and
// without duplicates.
func (c *Config) DatabaseSecretIDs() []string {
	seen := make(map[string]bool, len(c.Databases))
	var ids []string
	for _, db := range c.Databases {
		if !seen[db.SecretID] {
			seen[db.SecretID] = true
			ids = append(ids, db.SecretID)
		}
	}
	sort.Strings(ids)
	return ids
}
