package dbcreds

import (
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/errors"
)

// MySQL server error numbers that mean the presented credentials were refused.
const (
	mysqlAccessDenied   = 1045 // ER_ACCESS_DENIED_ERROR
	mysqlDBAccessDenied = 1044 // ER_DBACCESS_DENIED_ERROR
)

// PostgreSQL SQLSTATE codes of class 28, invalid authorization.
const (
	pgInvalidPassword      = "28P01"
	pgInvalidAuthorization = "28000"
)

// AuthError reports that a database refused the credentials read from
// SecretID. Callers that own retries use SecretID to pick the secret to
// invalidate.
type AuthError struct {
	SecretID string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("database rejected credentials from secret %q: %v", e.SecretID, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err means the database rejected the
// credentials: an *AuthError, a MySQL access-denied error, a PostgreSQL
// class 28 error, or any error coded errors.CodeUnauthorized.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlAccessDenied || myErr.Number == mysqlDBAccessDenied
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgInvalidPassword || pgErr.Code == pgInvalidAuthorization
	}

	return errors.HasCode(err, errors.CodeUnauthorized)
}

// SecretIDOf returns the secret named by the first *AuthError in err's chain.
func SecretIDOf(err error) (string, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.SecretID != "" {
		return authErr.SecretID, true
	}
	return "", false
}

func asAuthError(secretID string, err error) error {
	if err == nil {
		return nil
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return err
	}
	return &AuthError{SecretID: secretID, Err: err}
}
