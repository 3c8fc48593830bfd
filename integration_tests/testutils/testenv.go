package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/okazune/warstats/db"
	"github.com/okazune/warstats/integration_tests/containers"
)

// TestEnvironment bundles the containerized database shared by an integration
// test package.
type TestEnvironment struct {
	Ctx           context.Context
	CancelContext context.CancelFunc
	PgContainer   *postgres.PostgresContainer
	DB            *sql.DB
}

// NewTestEnvironment starts a Postgres container with the schema applied and
// opens the application's database handle against it.
func NewTestEnvironment() (*TestEnvironment, error) {
	ctx, cancel := context.WithCancel(context.Background())

	pgContainer, connStr, err := containers.SetupPostgresContainer(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to set up postgres container: %w", err)
	}

	dbConn, err := db.Connect(connStr, 10*time.Second)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		cancel()
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	return &TestEnvironment{
		Ctx:           ctx,
		CancelContext: cancel,
		PgContainer:   pgContainer,
		DB:            dbConn,
	}, nil
}

// Cleanup closes the database handle and terminates the container.
func (env *TestEnvironment) Cleanup() {
	if env.DB != nil {
		if err := env.DB.Close(); err != nil {
			log.Printf("failed to close test database: %v", err)
		}
	}
	if env.PgContainer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := env.PgContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	}
	if env.CancelContext != nil {
		env.CancelContext()
	}
}

// TruncateTables empties the given tables and restarts their id sequences so
// each test starts from a blank, deterministic database.
func TruncateTables(ctx context.Context, dbConn *sql.DB, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	query := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", "))
	if _, err := dbConn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to truncate tables %v: %w", tables, err)
	}
	return nil
}

// CleanStatsTables resets the tables the war statistics flows touch.
func CleanStatsTables(ctx context.Context, dbConn *sql.DB) error {
	return TruncateTables(ctx, dbConn, "players", "wars", "player_war_performances")
}
