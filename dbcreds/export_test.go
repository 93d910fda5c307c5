package dbcreds

import "database/sql/driver"

// WithConnectorFactory lets external tests replace the real driver.
func WithConnectorFactory(f func(creds Credentials, params map[string]string) (driver.Connector, error)) Option {
	return withConnectorFactory(f)
}
