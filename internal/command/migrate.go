package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
)

// MigrateCommand creates the demo table in every configured database.
type MigrateCommand struct {
	*BaseCommand
}

func (c *MigrateCommand) Synopsis() string {
	return "Create the demo table in every configured database"
}

func (c *MigrateCommand) Help() string {
	return strings.TrimSpace(`
Usage: secretsrefresh migrate [options]

  Connects to each database listed in the configuration, using credentials
  read from Secrets Manager, and creates the demo table if it is missing.

Options:

` + c.Flags().FlagUsages())
}

// Flags returns the migrate flag set.
func (c *MigrateCommand) Flags() *pflag.FlagSet {
	return c.flagSet("migrate")
}

func (c *MigrateCommand) Run(args []string) int {
	if !c.parseFlags(c.Flags(), args) {
		return 1
	}

	if err := c.migrate(context.Background()); err != nil {
		c.UI.Error(fmt.Sprintf("Error migrating databases: %s", err))
		return 1
	}
	return 0
}

func (c *MigrateCommand) migrate(ctx context.Context) error {
	cfg, err := c.loadConfig(ctx)
	if err != nil {
		return err
	}
	if len(cfg.Databases) == 0 {
		c.UI.Output("No databases configured")
		return nil
	}

	client, err := c.secretsClient(ctx, cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range cfg.DatabaseNames() {
		db := cfg.Databases[name]
		g.Go(func() error {
			pool, err := c.openDatabase(client, db)
			if err != nil {
				return err
			}
			defer pool.Close()

			if _, err := pool.ExecContext(gctx, createTableSQL(db.Engine)); err != nil {
				return errors.WrapWithContext(err, errors.CodeDatabase, "failed to create demo table",
					map[string]interface{}{"database": name})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, name := range cfg.DatabaseNames() {
		c.UI.Output(fmt.Sprintf("Migrated %s", name))
	}
	return nil
}
