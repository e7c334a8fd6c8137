// Package dbtest provides a migrated, throwaway Postgres for integration tests.
package dbtest

import (
	"context"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"travel-chat/internal/db"
)

var shared struct {
	once      sync.Once
	container *postgres.PostgresContainer
	database  *db.Database
	err       error
}

// Database returns a migrated database with empty tables. The container is
// started on first use and reused by every test in the binary; call
// Terminate from TestMain. Tests are skipped under -short or without Docker.
func Database(t *testing.T) *db.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	shared.once.Do(func() {
		shared.container, shared.database, shared.err = start(context.Background())
	})
	if shared.err != nil {
		t.Skipf("postgres unavailable: %v", shared.err)
	}

	_, err := shared.database.Conn.ExecContext(context.Background(),
		`TRUNCATE messages, conversations, users CASCADE`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
	return shared.database
}

func Terminate() {
	if shared.database != nil {
		_ = shared.database.Close()
	}
	if shared.container != nil {
		_ = shared.container.Terminate(context.Background())
	}
}

func start(ctx context.Context) (*postgres.PostgresContainer, *db.Database, error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("travel_chat"),
		postgres.WithUsername("travel"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, nil, err
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable", "application_name=test")
	if err != nil {
		return container, nil, err
	}
	if err := db.Migrate(dsn, false); err != nil {
		return container, nil, err
	}

	database, err := db.NewDatabase(dsn, 10)
	if err != nil {
		return container, nil, err
	}
	return container, database, nil
}
