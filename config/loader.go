package config

import (
	"context"
	_ "embed"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
)

//go:embed schema.cue
var schemaSource string

// document mirrors #Config in schema.cue.
type document struct {
	Version   string                      `json:"version"`
	AWS       awsDocument                 `json:"aws"`
	SecretKey *secretKeyDocument          `json:"secret_key,omitempty"`
	Databases map[string]databaseDocument `json:"databases"`
	Server    serverDocument              `json:"server"`
}

type awsDocument struct {
	Region          string `json:"region,omitempty"`
	Profile         string `json:"profile,omitempty"`
	EndpointURL     string `json:"endpoint_url,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty"`
	CacheTTL        string `json:"cache_ttl"`
	CacheEnabled    bool   `json:"cache_enabled"`
	CacheSize       int    `json:"cache_size"`
	MaxAttempts     int    `json:"max_attempts"`
	MaxBackoff      string `json:"max_backoff,omitempty"`
}

type secretKeyDocument struct {
	SecretID        string `json:"secret_id"`
	KeyName         string `json:"key_name"`
	RefreshInterval string `json:"refresh_interval"`
}

type databaseDocument struct {
	Engine   string            `json:"engine"`
	SecretID string            `json:"secret_id"`
	Params   map[string]string `json:"params,omitempty"`
}

type serverDocument struct {
	Addr         string `json:"addr"`
	MaxBodyBytes int64  `json:"max_body_bytes"`
}

// Load reads and validates the configuration at path on filesystem.
func Load(ctx context.Context, filesystem billy.Basic, path string) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := util.ReadFile(filesystem, path)
	if err != nil {
		return nil, errors.WrapWithContext(
			err,
			errors.CodeNotFound,
			"failed to read configuration",
			map[string]interface{}{
				"path": path,
			},
		)
	}

	return Parse(data, path)
}

// LoadFile reads the configuration from a path on the local filesystem.
func LoadFile(ctx context.Context, path string) (*Config, error) {
	return Load(ctx, osfs.New(filepath.Dir(path)), filepath.Base(path))
}

// Parse validates CUE source against the schema and builds a Config.
// filename is only used in error messages.
func Parse(data []byte, filename string) (*Config, error) {
	cctx := cuecontext.New()

	schema := cctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "embedded configuration schema is invalid")
	}

	value := cctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, errors.WrapWithContext(
			err,
			errors.CodeCUELoadFailed,
			"failed to compile configuration",
			map[string]interface{}{
				"path": filename,
			},
		)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, errors.WrapWithContext(
			err,
			errors.CodeCUEDecodeFailed,
			"configuration does not match schema",
			map[string]interface{}{
				"path": filename,
			},
		)
	}

	var doc document
	if err := unified.Decode(&doc); err != nil {
		return nil, errors.WrapWithContext(
			err,
			errors.CodeCUEDecodeFailed,
			"failed to decode configuration",
			map[string]interface{}{
				"path": filename,
			},
		)
	}

	return build(&doc)
}
