// Package testutil starts the containers used by the integration tests:
// LocalStack for Secrets Manager and throwaway MySQL and PostgreSQL servers.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Container is a running test container reachable at Host:Port.
type Container struct {
	container testcontainers.Container
	Host      string
	Port      int
}

// Terminate stops and removes the container.
func (c *Container) Terminate(ctx context.Context) error {
	if c.container != nil {
		if err := c.container.Terminate(ctx); err != nil {
			return fmt.Errorf("failed to terminate container: %w", err)
		}
	}
	return nil
}

// LocalStack wraps a LocalStack container with Secrets Manager enabled.
type LocalStack struct {
	Container
	Endpoint string
}

// StartLocalStack starts LocalStack and waits until its health endpoint
// answers.
func StartLocalStack(ctx context.Context) (*LocalStack, error) {
	container, err := localstack.Run(ctx,
		"localstack/localstack:latest",
		testcontainers.WithEnv(map[string]string{"SERVICES": "secretsmanager"}),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/_localstack/health").
				WithPort("4566/tcp").
				WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start LocalStack container: %w", err)
	}

	port, _ := nat.NewPort("tcp", "4566")
	uri, err := container.PortEndpoint(ctx, port, "")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get LocalStack endpoint: %w", err)
	}
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		uri = "http://" + uri
	}

	return &LocalStack{
		Container: Container{container: container},
		Endpoint:  uri,
	}, nil
}

// DatabaseUser and DatabasePassword are the credentials the database
// containers are started with.
const (
	DatabaseUser     = "app"
	DatabasePassword = "app-password"
	DatabaseName     = "app"
)

// StartMySQL starts a MySQL 8 server with DatabaseUser owning DatabaseName.
func StartMySQL(ctx context.Context) (*Container, error) {
	return startDatabase(ctx, testcontainers.ContainerRequest{
		Image:        "mysql:8.4",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "root-password",
			"MYSQL_DATABASE":      DatabaseName,
			"MYSQL_USER":          DatabaseUser,
			"MYSQL_PASSWORD":      DatabasePassword,
		},
		WaitingFor: wait.ForLog("port: 3306  MySQL Community Server").
			WithStartupTimeout(3 * time.Minute),
	}, "3306")
}

// StartPostgres starts a PostgreSQL 16 server with DatabaseUser owning
// DatabaseName.
func StartPostgres(ctx context.Context) (*Container, error) {
	return startDatabase(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       DatabaseName,
			"POSTGRES_USER":     DatabaseUser,
			"POSTGRES_PASSWORD": DatabasePassword,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(2 * time.Minute),
	}, "5432")
}

func startDatabase(ctx context.Context, req testcontainers.ContainerRequest, containerPort string) (*Container, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s container: %w", req.Image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, nat.Port(containerPort+"/tcp"))
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	return &Container{container: container, Host: host, Port: port.Int()}, nil
}

// SkipIfShort skips integration tests under -short.
func SkipIfShort(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}
