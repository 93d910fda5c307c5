package dbcreds

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/services/aws/secrets"
)

// Engine names a supported database engine.
type Engine string

const (
	EngineMySQL    Engine = "mysql"
	EnginePostgres Engine = "postgres"
)

// ParseEngine accepts "mysql", "postgres" and "postgresql" in any case.
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mysql":
		return EngineMySQL, nil
	case "postgres", "postgresql":
		return EnginePostgres, nil
	}
	return "", errors.Newf(errors.CodeInvalidConfig, "unsupported database engine %q", s)
}

// DefaultPort is the port used when a secret carries no "port" field.
func (e Engine) DefaultPort() int {
	switch e {
	case EngineMySQL:
		return 3306
	case EnginePostgres:
		return 5432
	}
	return 0
}

// Credentials are the connection parameters stored in a database secret.
type Credentials struct {
	Engine   Engine
	Username string
	Password string
	Host     string
	Port     int
	DBName   string
}

// String identifies the endpoint without the password.
func (c Credentials) String() string {
	return fmt.Sprintf("%s://%s@%s:%d/%s", c.Engine, c.Username, c.Host, c.Port, c.DBName)
}

// LogValue keeps the password out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("engine", string(c.Engine)),
		slog.String("username", c.Username),
		slog.String("host", c.Host),
		slog.Int("port", c.Port),
		slog.String("dbname", c.DBName),
	)
}

var requiredFields = []string{"username", "password", "host"}

// ParseCredentials decodes a secret string of the form
//
//	{"username": "...", "password": "...", "host": "...", "port": 3306, "dbname": "..."}
//
// username, password and host are required. A missing port selects the
// engine's default; dbname is optional.
func ParseCredentials(engine Engine, raw string) (Credentials, error) {
	return fromSecret(engine, &secrets.Secret{Value: raw})
}

func fromSecret(engine Engine, s *secrets.Secret) (Credentials, error) {
	if engine.DefaultPort() == 0 {
		return Credentials{}, errors.Newf(errors.CodeInvalidConfig, "unsupported database engine %q", engine)
	}

	fields, err := s.Fields()
	if err != nil {
		return Credentials{}, errors.Wrap(err, errors.CodeInvalidConfig, "database secret is not a JSON object")
	}

	for _, key := range requiredFields {
		if fields[key] == "" {
			return Credentials{}, errors.WrapWithContext(secrets.ErrMalformedSecret, errors.CodeInvalidConfig,
				"database secret is missing a required field",
				map[string]interface{}{"secret_name": s.Name, "field": key})
		}
	}

	port := engine.DefaultPort()
	if p, ok := fields["port"]; ok && p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Credentials{}, errors.WrapWithContext(secrets.ErrMalformedSecret, errors.CodeInvalidConfig,
				"database secret has an invalid port",
				map[string]interface{}{"secret_name": s.Name, "field": "port"})
		}
	}

	return Credentials{
		Engine:   engine,
		Username: fields["username"],
		Password: fields["password"],
		Host:     fields["host"],
		Port:     port,
		DBName:   fields["dbname"],
	}, nil
}
