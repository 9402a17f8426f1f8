// Package storetest provides PostgreSQL helpers for integration tests.
package storetest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizmatters/solar-fleet/control-service/internal/models"
	"github.com/bizmatters/solar-fleet/control-service/internal/store"
)

// GetTestDatabasePool creates a database connection pool for testing
func GetTestDatabasePool(ctx context.Context) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(buildDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// buildDatabaseURL constructs the database URL from environment variables
func buildDatabaseURL() string {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=prefer",
		envOr("POSTGRES_USER", "postgres"),
		envOr("POSTGRES_PASSWORD", "postgres"),
		envOr("POSTGRES_HOST", "localhost"),
		envOr("POSTGRES_PORT", "5432"),
		envOr("POSTGRES_DB", "solar_control"))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// TestDatabase provides database utilities for testing
type TestDatabase struct {
	Pool *pgxpool.Pool
	ctx  context.Context
	ids  []string
}

// NewTestDatabase connects and migrates, skipping the test when no database is configured
func NewTestDatabase(t *testing.T) *TestDatabase {
	t.Helper()
	if os.Getenv("TEST_DATABASE_URL") == "" && os.Getenv("POSTGRES_HOST") == "" {
		t.Skip("TEST_DATABASE_URL or POSTGRES_HOST not set")
	}
	ctx := context.Background()

	pool, err := GetTestDatabasePool(ctx)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if err := store.Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	db := &TestDatabase{Pool: pool, ctx: ctx}
	t.Cleanup(db.Close)
	return db
}

// SessionID returns a unique session id whose rows are removed on Close
func (db *TestDatabase) SessionID() string {
	id := "test-" + uuid.New().String()
	db.ids = append(db.ids, id)
	return id
}

// Close removes the rows created through SessionID and closes the pool
func (db *TestDatabase) Close() {
	if db.Pool == nil {
		return
	}
	for _, id := range db.ids {
		db.Pool.Exec(db.ctx, `DELETE FROM telemetry_readings WHERE session_id = $1`, id)
		db.Pool.Exec(db.ctx, `DELETE FROM sessions WHERE id = $1`, id)
	}
	db.Pool.Close()
	db.Pool = nil
}

// Frame builds a telemetry frame for sessionID at base+offset
func Frame(sessionID string, base time.Time, offset time.Duration, dust float64) models.TelemetryReading {
	return models.TelemetryReading{
		SessionID: sessionID,
		PanelID:   "panel-1",
		Timestamp: base.Add(offset).UTC(),
		DustLevel: &dust,
		State:     &models.RobotState{Mode: "AUTO"},
	}
}
