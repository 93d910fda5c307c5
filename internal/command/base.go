// Package command implements the secretsrefresh CLI subcommands.
package command

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mitchellh/cli"
	"github.com/spf13/pflag"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/config"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/internal/metrics"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/services/aws/secrets"
)

const (
	flagNameConfig   = "config"
	flagNameEndpoint = "endpoint"
	flagNameLogLevel = "log-level"
)

// defaultConfigSource is used when no configuration file exists and
// --config was not given.
const defaultConfigSource = `version: "` + config.SupportedVersion + `"`

// ClientFactory builds the Secrets Manager client used by a command.
type ClientFactory func(ctx context.Context, s secrets.Settings, opts ...secrets.Option) (*secrets.Client, error)

// BaseCommand holds what every subcommand shares.
type BaseCommand struct {
	UI        cli.Ui
	LogOutput io.Writer

	// NewClient defaults to secrets.NewClientFromSettings.
	NewClient ClientFactory

	flagConfig   string
	flagEndpoint string
	flagLogLevel string

	flags   *pflag.FlagSet
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func (c *BaseCommand) flagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&c.flagConfig, flagNameConfig, "c", config.DefaultPath, "Path to the configuration file.")
	fs.StringVar(&c.flagEndpoint, flagNameEndpoint, "", "Secrets Manager endpoint URL, overriding aws.endpoint_url.")
	fs.StringVar(&c.flagLogLevel, flagNameLogLevel, "info", "Log level: debug, info, warn or error.")
	c.flags = fs
	return fs
}

func (c *BaseCommand) parseFlags(fs *pflag.FlagSet, args []string) bool {
	if err := fs.Parse(args); err != nil {
		c.UI.Error(err.Error())
		c.UI.Error(fs.FlagUsages())
		return false
	}
	return true
}

// Logger returns the command logger, writing JSON to LogOutput.
func (c *BaseCommand) Logger() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.flagLogLevel))); err != nil {
		level = slog.LevelInfo
	}
	out := c.LogOutput
	if out == nil {
		out = os.Stderr
	}
	c.logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	return c.logger
}

// Metrics returns the collectors shared by the command's components.
func (c *BaseCommand) Metrics() *metrics.Metrics {
	if c.metrics == nil {
		c.metrics = metrics.New(nil)
	}
	return c.metrics
}

func (c *BaseCommand) loadConfig(ctx context.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	_, statErr := os.Stat(c.flagConfig)
	switch {
	case statErr == nil || c.flags.Changed(flagNameConfig):
		cfg, err = config.LoadFile(ctx, c.flagConfig)
	default:
		cfg, err = config.Parse([]byte(defaultConfigSource), "defaults")
	}
	if err != nil {
		return nil, err
	}

	if c.flagEndpoint != "" {
		cfg.AWS.EndpointURL = c.flagEndpoint
	}
	return cfg, nil
}

func (c *BaseCommand) secretsClient(ctx context.Context, cfg *config.Config) (*secrets.Client, error) {
	factory := c.NewClient
	if factory == nil {
		factory = secrets.NewClientFromSettings
	}

	client, err := factory(ctx, cfg.AWS,
		secrets.WithLogger(c.Logger()),
		secrets.WithMetrics(c.Metrics()),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to create Secrets Manager client")
	}
	return client, nil
}
