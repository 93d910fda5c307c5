package dbcreds

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/go-sql-driver/mysql"

	"github.com/input-output-hk/catalyst-forge-libs/secretsrefresh/services/aws/secrets"
)

// fakeSource is an in-memory SecretSource. remote holds what Secrets Manager
// would return; cached holds what the cache currently serves.
type fakeSource struct {
	mu          sync.Mutex
	remote      map[string]string
	cached      map[string]string
	fetches     int
	invalidated []string
	fetchErr    error
}

func newFakeSource(values map[string]string) *fakeSource {
	return &fakeSource{remote: values, cached: make(map[string]string)}
}

func (f *fakeSource) GetSecretVersionCached(_ context.Context, name, stage string) (*secrets.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.cached[name]; ok {
		return &secrets.Secret{Name: name, VersionStage: stage, Value: v}, nil
	}
	return f.fetchLocked(name)
}

func (f *fakeSource) RefreshSecret(_ context.Context, name string) (*secrets.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cached, name)
	return f.fetchLocked(name)
}

func (f *fakeSource) InvalidateCache(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, name)
	delete(f.cached, name)
}

func (f *fakeSource) rotate(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote[name] = value
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeSource) fetchLocked(name string) (*secrets.Secret, error) {
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	v, ok := f.remote[name]
	if !ok {
		return nil, secrets.ErrSecretNotFound
	}
	f.cached[name] = v
	return &secrets.Secret{Name: name, VersionStage: secrets.StageCurrent, Value: v}, nil
}

func credsJSON(password string) string {
	return fmt.Sprintf(`{"username":"app","password":%q,"host":"db.internal","port":3306,"dbname":"app"}`, password)
}

// fakeServer accepts only the password it currently holds.
type fakeServer struct {
	mu       sync.Mutex
	password string
	attempts []string
	failWith error
}

func (s *fakeServer) setPassword(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.password = p
}

func (s *fakeServer) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func (s *fakeServer) factory(creds Credentials, _ map[string]string) (driver.Connector, error) {
	return &fakeDriverConnector{server: s, creds: creds}, nil
}

type fakeDriverConnector struct {
	server *fakeServer
	creds  Credentials
}

func (c *fakeDriverConnector) Connect(context.Context) (driver.Conn, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, c.creds.Password)
	if s.failWith != nil {
		return nil, s.failWith
	}
	if c.creds.Password != s.password {
		return nil, &mysql.MySQLError{Number: mysqlAccessDenied, Message: "Access denied for user 'app'"}
	}
	return fakeConn{}, nil
}

func (c *fakeDriverConnector) Driver() driver.Driver { return nil }

type fakeConn struct{}

func (fakeConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not supported") }
func (fakeConn) Close() error                        { return nil }
func (fakeConn) Begin() (driver.Tx, error)           { return nil, fmt.Errorf("not supported") }
