package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizmatters/solar-fleet/control-service/internal/models"
)

// PgSessionRepository stores control sessions in PostgreSQL
type PgSessionRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewSessionRepository creates a session repository
func NewSessionRepository(pool *pgxpool.Pool) *PgSessionRepository {
	return &PgSessionRepository{pool: pool, now: time.Now}
}

// Start inserts the session as active. Restarting a known id reactivates it.
func (r *PgSessionRepository) Start(ctx context.Context, s models.Session) (models.Session, error) {
	if s.StartTime.IsZero() {
		s.StartTime = r.now().UTC()
	}
	s.Status = models.SessionStatusActive
	s.EndTime = nil

	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, panel_id, start_time, end_time, status)
		VALUES ($1, $2, $3, NULL, $4)
		ON CONFLICT (id) DO UPDATE
		SET panel_id = EXCLUDED.panel_id, start_time = EXCLUDED.start_time,
		    end_time = NULL, status = EXCLUDED.status
	`, s.ID, s.PanelID, s.StartTime, s.Status)
	if err != nil {
		return s, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// Stop marks the session ended. It returns ErrNotFound for an unknown id.
func (r *PgSessionRepository) Stop(ctx context.Context, id string) (models.Session, error) {
	var s models.Session
	err := r.pool.QueryRow(ctx, `
		UPDATE sessions
		SET end_time = $2, status = $3
		WHERE id = $1
		RETURNING id, panel_id, start_time, end_time, status
	`, id, r.now().UTC(), models.SessionStatusEnded).Scan(&s.ID, &s.PanelID, &s.StartTime, &s.EndTime, &s.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return s, fmt.Errorf("failed to stop session: %w", err)
	}
	return s, nil
}

// Active lists the sessions that have not been stopped
func (r *PgSessionRepository) Active(ctx context.Context) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, panel_id, start_time, end_time, status
		FROM sessions
		WHERE status = $1
		ORDER BY start_time DESC
	`, models.SessionStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.ID, &s.PanelID, &s.StartTime, &s.EndTime, &s.Status); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}
