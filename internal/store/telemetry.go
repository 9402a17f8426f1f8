package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizmatters/solar-fleet/control-service/internal/models"
)

// PgTelemetryRepository stores frames as JSONB documents keyed by session and time
type PgTelemetryRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewTelemetryRepository creates a telemetry repository
func NewTelemetryRepository(pool *pgxpool.Pool) *PgTelemetryRepository {
	return &PgTelemetryRepository{pool: pool, now: time.Now}
}

// Save assigns an id and a timestamp when missing and stores the frame
func (r *PgTelemetryRepository) Save(ctx context.Context, reading models.TelemetryReading) (models.TelemetryReading, error) {
	if reading.ID == "" {
		reading.ID = uuid.New().String()
	}
	id, err := uuid.Parse(reading.ID)
	if err != nil {
		return reading, fmt.Errorf("invalid telemetry id %q: %w", reading.ID, err)
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = r.now().UTC()
	}

	payload, err := json.Marshal(reading)
	if err != nil {
		return reading, fmt.Errorf("failed to encode telemetry: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO telemetry_readings (id, session_id, panel_id, ts, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, id, reading.SessionID, reading.PanelID, reading.Timestamp, payload)
	if err != nil {
		return reading, fmt.Errorf("failed to save telemetry: %w", err)
	}
	return reading, nil
}

// LastN returns the newest n frames of a session
func (r *PgTelemetryRepository) LastN(ctx context.Context, sessionID string, n int) ([]models.TelemetryReading, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT payload
		FROM telemetry_readings
		WHERE session_id = $1
		ORDER BY ts DESC, created_at DESC
		LIMIT $2
	`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var readings []models.TelemetryReading
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry: %w", err)
		}
		var reading models.TelemetryReading
		if err := json.Unmarshal(payload, &reading); err != nil {
			return nil, fmt.Errorf("failed to decode telemetry: %w", err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating telemetry: %w", err)
	}
	return readings, nil
}
