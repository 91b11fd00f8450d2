// Package integration exercises the memory repositories and service against
// real PostgreSQL started through testcontainers. One container is shared by
// the whole package; every test gets a clean database via TRUNCATE on teardown.
package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/finnetrolle/nergal-sub000/pkg/config"
	"github.com/finnetrolle/nergal-sub000/pkg/database"
	"github.com/finnetrolle/nergal-sub000/pkg/memory"
)

var (
	containerOnce sync.Once
	containerCfg  config.DatabaseConfig
	containerErr  error
)

// databaseConfig starts the shared PostgreSQL container on first use and
// returns a connection config pointing at it.
func databaseConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()

	containerOnce.Do(func() {
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("nergal_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("failed to start postgres container: %w", err)
			return
		}

		host, err := pgContainer.Host(ctx)
		if err != nil {
			containerErr = fmt.Errorf("failed to resolve container host: %w", err)
			return
		}
		port, err := pgContainer.MappedPort(ctx, "5432/tcp")
		if err != nil {
			containerErr = fmt.Errorf("failed to resolve container port: %w", err)
			return
		}

		containerCfg = config.DatabaseConfig{
			Host:                     host,
			Port:                     port.Int(),
			User:                     "test",
			Password:                 "test",
			Name:                     "nergal_test",
			SSLMode:                  "disable",
			MinPoolSize:              1,
			MaxPoolSize:              4,
			ConnectionTimeoutSeconds: 10,
		}
	})

	require.NoError(t, containerErr, "failed to set up the shared test container")
	return containerCfg
}

// setupClient connects to the shared container (applying migrations) and
// registers a teardown that wipes all rows so tests stay independent.
func setupClient(t *testing.T) *database.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test, skipped in -short mode")
	}

	client, err := database.NewClient(context.Background(), databaseConfig(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		// users is the FK root; the cascade empties every other table.
		_, err := client.Pool().Exec(context.Background(), "TRUNCATE users CASCADE")
		if err != nil {
			t.Logf("failed to truncate tables: %v", err)
		}
		client.Close()
	})
	return client
}

func testMemoryConfig() config.MemoryConfig {
	return config.MemoryConfig{
		ShortTermMaxMessages:           20,
		ShortTermSessionTimeoutSeconds: 1800,
		LongTermEnabled:                true,
		ExtractionEnabled:              true,
		ConfidenceThreshold:            0.7,
		CleanupDays:                    90,
	}
}

func setupService(t *testing.T) (*memory.Service, *database.Client) {
	t.Helper()
	client := setupClient(t)
	return memory.NewService(testMemoryConfig(), client), client
}
