package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const image = "postgres:17-alpine"

// StartPostgres runs a throwaway Postgres with one database owned by a user of
// the same name and returns it with a plaintext DSN.
func StartPostgres(ctx context.Context, database string) (*postgres.PostgresContainer, string, error) {
	container, err := postgres.Run(ctx, image,
		postgres.WithDatabase(database),
		postgres.WithUsername(database),
		postgres.WithPassword(database),
		testcontainers.WithWaitStrategy(
			// The server restarts once after init, so the line shows up twice.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start Postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return container, "", fmt.Errorf("failed to get Postgres DSN: %w", err)
	}
	return container, dsn, nil
}
