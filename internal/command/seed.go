package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/dbcreds"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
)

// Names of the database secrets seeded when no file is given.
const (
	MySQLSecretName    = "mysql-creds"
	PostgresSecretName = "postgresql-creds"
)

// SeedCommand creates the demo secrets on an empty Secrets Manager, usually
// a local mock endpoint.
type SeedCommand struct {
	*BaseCommand

	flagFile     string
	flagKMSKeyID string
}

func (c *SeedCommand) Synopsis() string {
	return "Seed database secrets into an empty Secrets Manager"
}

func (c *SeedCommand) Help() string {
	return strings.TrimSpace(`
Usage: secretsrefresh seed [options]

  Creates the secrets the demo databases read their credentials from, but
  only when Secrets Manager holds no secrets at all, so running it twice is
  harmless.

  Without --file, two secrets are created from the environment:

    mysql-creds       MYSQL_USERNAME, MYSQL_PASSWORD (required),
                      MYSQL_HOST, MYSQL_PORT, MYSQL_DATABASE
    postgresql-creds  POSTGRESQL_USERNAME, POSTGRESQL_PASSWORD (required),
                      POSTGRESQL_HOST, POSTGRESQL_PORT, POSTGRESQL_DATABASE

  With --file, the file must hold a JSON object mapping secret names to
  values. Object values are stored as JSON, string values as is.

Options:

` + c.Flags().FlagUsages())
}

// Flags returns the seed flag set.
func (c *SeedCommand) Flags() *pflag.FlagSet {
	fs := c.flagSet("seed")
	fs.StringVarP(&c.flagFile, "file", "f", "", "JSON file of secrets to create.")
	fs.StringVar(&c.flagKMSKeyID, "kms-key-id", "", "KMS key to encrypt the secrets with.")
	return fs
}

func (c *SeedCommand) Run(args []string) int {
	if !c.parseFlags(c.Flags(), args) {
		return 1
	}

	ctx := context.Background()
	if err := c.seed(ctx); err != nil {
		c.UI.Error(fmt.Sprintf("Error seeding secrets: %s", err))
		return 1
	}
	return 0
}

func (c *SeedCommand) seed(ctx context.Context) error {
	values, err := c.values()
	if err != nil {
		return err
	}

	cfg, err := c.loadConfig(ctx)
	if err != nil {
		return err
	}
	client, err := c.secretsClient(ctx, cfg)
	if err != nil {
		return err
	}

	existing, err := client.ListSecretNames(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		c.UI.Output(fmt.Sprintf("Secrets Manager already holds %d secret(s), nothing to seed", len(existing)))
		return nil
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			return client.CreateSecret(gctx, name, values[name], c.flagKMSKeyID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, name := range names {
		c.UI.Output(fmt.Sprintf("Created secret %s", name))
	}
	return nil
}

func (c *SeedCommand) values() (map[string]string, error) {
	if c.flagFile != "" {
		return readSeedFile(c.flagFile)
	}

	values := make(map[string]string, 2)
	for _, s := range []struct {
		name   string
		prefix string
		engine dbcreds.Engine
		dbname string
	}{
		{MySQLSecretName, "MYSQL", dbcreds.EngineMySQL, "mysql_secretsmanager_test"},
		{PostgresSecretName, "POSTGRESQL", dbcreds.EnginePostgres, "postgresql_secretsmanager_test"},
	} {
		v, err := credentialsFromEnv(s.prefix, s.engine, s.dbname)
		if err != nil {
			return nil, err
		}
		values[s.name] = v
	}
	return values, nil
}

func credentialsFromEnv(prefix string, engine dbcreds.Engine, dbname string) (string, error) {
	get := func(key, fallback string) string {
		if v, ok := os.LookupEnv(prefix + "_" + key); ok && v != "" {
			return v
		}
		return fallback
	}

	username, password := get("USERNAME", ""), get("PASSWORD", "")
	if username == "" || password == "" {
		return "", errors.Newf(errors.CodeInvalidInput,
			"%s_USERNAME and %s_PASSWORD must be set", prefix, prefix)
	}

	data, err := json.Marshal(map[string]string{
		"engine":   string(engine),
		"host":     get("HOST", "localhost"),
		"username": username,
		"password": password,
		"dbname":   get("DATABASE", dbname),
		"port":     get("PORT", fmt.Sprint(engine.DefaultPort())),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readSeedFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeNotFound, "failed to read seed file",
			map[string]interface{}{"path": path})
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeInvalidInput, "seed file is not a JSON object",
			map[string]interface{}{"path": path})
	}

	values := make(map[string]string, len(raw))
	for name, msg := range raw {
		if bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
			return nil, errors.Newf(errors.CodeInvalidInput,
				"seed value for %q in %s cannot be null", name, path)
		}
		var s string
		if err := json.Unmarshal(msg, &s); err == nil {
			if s == "" {
				return nil, errors.Newf(errors.CodeInvalidInput,
					"seed value for %q in %s cannot be empty", name, path)
			}
			values[name] = s
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(msg, &obj); err != nil || obj == nil {
			return nil, errors.Newf(errors.CodeInvalidInput,
				"seed value for %q in %s must be a string or an object", name, path)
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, msg); err != nil {
			return nil, err
		}
		values[name] = buf.String()
	}
	return values, nil
}
