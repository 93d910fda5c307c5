// Package dbcreds supplies MySQL and PostgreSQL credentials stored in AWS
// Secrets Manager to database/sql.
//
// A database secret is a JSON document:
//
//	{"username": "app", "password": "...", "host": "db.internal", "port": 3306, "dbname": "app"}
//
// Provider reads it through the secrets cache. Connector resolves it again
// for every new pooled connection, and when the server rejects the
// credentials it forces one refresh of the secret and reconnects. A second
// rejection is returned to the caller as an *AuthError naming the secret.
package dbcreds
