// Package emulator starts throwaway queue backends in Docker for
// integration tests and local development.
package emulator

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Container is a running emulator.
type Container struct {
	container testcontainers.Container
	host      string
	port      string
}

// Host returns the host the emulator is reachable on.
func (c *Container) Host() string { return c.host }

// Port returns the mapped service port.
func (c *Container) Port() string { return c.port }

// Addr returns host:port.
func (c *Container) Addr() string { return c.host + ":" + c.port }

// Stop terminates the container.
func (c *Container) Stop(ctx context.Context) error {
	if c == nil || c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("terminate container: %w", err)
	}
	return nil
}

func start(ctx context.Context, req testcontainers.ContainerRequest, port string) (*Container, error) {
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", req.Image, err)
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("get container host: %w", err)
	}

	mapped, err := ctr.MappedPort(ctx, nat.Port(port))
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("get container port: %w", err)
	}

	return &Container{container: ctr, host: host, port: mapped.Port()}, nil
}

// Postgres is a PostgreSQL container.
type Postgres struct {
	*Container
}

// StartPostgres starts postgres:15-alpine with user, password and
// database all set to "test".
func StartPostgres(ctx context.Context) (*Postgres, error) {
	c, err := start(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")
	if err != nil {
		return nil, err
	}
	return &Postgres{Container: c}, nil
}

// DSN returns a connection URL for the test database.
func (p *Postgres) DSN() string {
	return fmt.Sprintf("postgres://test:test@%s/test?sslmode=disable", p.Addr())
}

// Redis is a Redis container.
type Redis struct {
	*Container
}

// StartRedis starts redis:7-alpine.
func StartRedis(ctx context.Context) (*Redis, error) {
	c, err := start(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}, "6379/tcp")
	if err != nil {
		return nil, err
	}
	return &Redis{Container: c}, nil
}

// Azurite account credentials are the well-known development storage
// values shipped with the emulator.
const (
	AzuriteAccountName = "devstoreaccount1"
	AzuriteAccountKey  = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
)

// Azurite is an Azure Storage queue emulator container.
type Azurite struct {
	*Container
}

// StartAzurite starts the queue service of Azurite in memory.
func StartAzurite(ctx context.Context) (*Azurite, error) {
	c, err := start(ctx, testcontainers.ContainerRequest{
		Image:        "mcr.microsoft.com/azure-storage/azurite:latest",
		ExposedPorts: []string{"10001/tcp"},
		Cmd: []string{
			"azurite-queue",
			"--queueHost", "0.0.0.0",
			"--queuePort", "10001",
			"--inMemoryPersistence",
			"--loose",
		},
		WaitingFor: wait.ForLog("Azurite Queue service is successfully listening").
			WithStartupTimeout(60 * time.Second),
	}, "10001/tcp")
	if err != nil {
		return nil, err
	}
	return &Azurite{Container: c}, nil
}

// QueueEndpoint returns the account-scoped queue service URL.
func (a *Azurite) QueueEndpoint() string {
	return fmt.Sprintf("http://%s/%s", a.Addr(), AzuriteAccountName)
}

// ConnectionString returns a storage connection string for the emulator.
func (a *Azurite) ConnectionString() string {
	return fmt.Sprintf(
		"DefaultEndpointsProtocol=http;AccountName=%s;AccountKey=%s;QueueEndpoint=%s;",
		AzuriteAccountName, AzuriteAccountKey, a.QueueEndpoint(),
	)
}
