package command

import (
	"context"
	"database/sql"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/config"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/dbcreds"
	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/services/aws/secrets"
)

const demoTable = "test_model"

func createTableSQL(engine dbcreds.Engine) string {
	if engine == dbcreds.EnginePostgres {
		return "CREATE TABLE IF NOT EXISTS " + demoTable + " (id BIGSERIAL PRIMARY KEY, name VARCHAR(100) NOT NULL)"
	}
	return "CREATE TABLE IF NOT EXISTS " + demoTable + " (id BIGINT AUTO_INCREMENT PRIMARY KEY, name VARCHAR(100) NOT NULL)"
}

const selectDemoSQL = "SELECT id, name FROM " + demoTable

// dbProbe runs the demo query against one database.
type dbProbe func(ctx context.Context) error

func sqlProbe(db *sql.DB) dbProbe {
	return func(ctx context.Context) error {
		rows, err := db.QueryContext(ctx, selectDemoSQL)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id   int64
				name string
			)
			if err := rows.Scan(&id, &name); err != nil {
				return err
			}
		}
		return rows.Err()
	}
}

// openDatabase opens a pool for db whose credentials come from client.
func (c *BaseCommand) openDatabase(client *secrets.Client, db config.Database, opts ...dbcreds.Option) (*sql.DB, error) {
	base := []dbcreds.Option{
		dbcreds.WithLogger(c.Logger()),
		dbcreds.WithMetrics(c.Metrics()),
		dbcreds.WithParams(db.Params),
	}
	opts = append(base, opts...)

	provider, err := dbcreds.NewProvider(client, db.SecretID, db.Engine, opts...)
	if err != nil {
		return nil, err
	}
	return dbcreds.Open(provider, opts...)
}
