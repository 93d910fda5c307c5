package secrets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
)

// Version stage labels understood by Secrets Manager.
const (
	StageCurrent  = "AWSCURRENT"
	StagePrevious = "AWSPREVIOUS"
	StagePending  = "AWSPENDING"
)

// Secret is one version of a secret as returned by GetSecretValue.
// Value is either a JSON document of key/value pairs or a raw string.
type Secret struct {
	Name         string
	ARN          string
	VersionID    string
	VersionStage string
	Value        string
	FetchedAt    time.Time
}

// Fields decodes Value as a flat JSON object. Numbers and booleans are
// rendered as strings so `"port": 5432` and `"port": "5432"` decode alike.
func (s *Secret) Fields() (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s.Value)))
	dec.UseNumber()

	var raw map[string]any
	err := dec.Decode(&raw)
	if err == nil {
		// Trailing data after the object makes the document malformed.
		if _, tokErr := dec.Token(); tokErr != io.EOF {
			err = ErrMalformedSecret
		}
	}
	if err != nil || raw == nil {
		return nil, errors.WrapWithContext(ErrMalformedSecret, errors.CodeMalformedSecret,
			"failed to decode secret", map[string]interface{}{"secret_name": s.Name})
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case bool:
			fields[k] = strconv.FormatBool(val)
		case nil:
			fields[k] = ""
		default:
			return nil, errors.WrapWithContext(ErrMalformedSecret, errors.CodeMalformedSecret,
				"secret field is not a scalar", map[string]interface{}{"secret_name": s.Name, "field": k})
		}
	}

	return fields, nil
}

// Field returns a single field of the JSON document held in Value.
func (s *Secret) Field(key string) (string, error) {
	fields, err := s.Fields()
	if err != nil {
		return "", err
	}
	v, ok := fields[key]
	if !ok {
		return "", errors.WrapWithContext(ErrMalformedSecret, errors.CodeMalformedSecret,
			"secret field missing", map[string]interface{}{"secret_name": s.Name, "field": key})
	}
	return v, nil
}

// String identifies the secret without its value.
func (s *Secret) String() string {
	return fmt.Sprintf("Secret(%s@%s)", s.Name, s.VersionStage)
}

// LogValue keeps the value out of structured logs.
func (s *Secret) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", s.Name),
		slog.String("version_id", s.VersionID),
		slog.String("version_stage", s.VersionStage),
		slog.Time("fetched_at", s.FetchedAt),
	)
}
