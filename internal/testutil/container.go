package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresName  = "shelfsync"
)

// PostgresContainer is a disposable PostgreSQL server for the postgres
// storage driver.
type PostgresContainer struct {
	*postgres.PostgresContainer
	ConnectionString string
}

// NewPostgresContainer starts a container and waits until it accepts
// connections. Callers terminate it with Terminate.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	// The server logs readiness twice: once for the init run, once for the real start.
	ready := wait.ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(30 * time.Second)

	c, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase(postgresName),
		postgres.WithUsername(postgresName),
		postgres.WithPassword(postgresName),
		testcontainers.WithWaitStrategy(ready),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("postgres connection string: %w", err)
	}

	return &PostgresContainer{PostgresContainer: c, ConnectionString: dsn}, nil
}
