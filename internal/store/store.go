package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizmatters/solar-fleet/control-service/internal/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

//go:embed schema.sql
var schema string

// TelemetryRepository persists telemetry frames
type TelemetryRepository interface {
	Save(ctx context.Context, r models.TelemetryReading) (models.TelemetryReading, error)
	// LastN returns up to n frames of a session, newest first.
	LastN(ctx context.Context, sessionID string, n int) ([]models.TelemetryReading, error)
}

// SessionRepository persists control sessions
type SessionRepository interface {
	Start(ctx context.Context, s models.Session) (models.Session, error)
	Stop(ctx context.Context, id string) (models.Session, error)
	Active(ctx context.Context) ([]models.Session, error)
}

// Migrate creates the tables when they do not exist yet
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
