package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bizmatters/solar-fleet/control-service/internal/decision"
	"github.com/bizmatters/solar-fleet/control-service/internal/metrics"
	"github.com/bizmatters/solar-fleet/control-service/internal/models"
	"github.com/bizmatters/solar-fleet/control-service/internal/store"
)

// DefaultWindowSize is the number of frames fed to one prediction.
const DefaultWindowSize = 10

const windowTimeout = 30 * time.Second

// WindowRunner processes one window of frames
type WindowRunner interface {
	ProcessWindow(ctx context.Context, sessionID, panelID string, frames []models.TelemetryReading, applyControl bool) (*decision.Decision, error)
}

// Service ingests telemetry frames and schedules window processing
type Service struct {
	repo       store.TelemetryRepository
	windows    WindowRunner
	hub        Broadcaster
	windowSize int
	logger     *zap.Logger

	wg sync.WaitGroup
}

// NewService creates the telemetry ingest service
func NewService(repo store.TelemetryRepository, windows WindowRunner, hub Broadcaster, windowSize int, logger *zap.Logger) *Service {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Service{
		repo:       repo,
		windows:    windows,
		hub:        hub,
		windowSize: windowSize,
		logger:     logger,
	}
}

// ProcessReading persists and broadcasts a frame, then processes the session's latest
// window in the background once enough frames exist.
func (s *Service) ProcessReading(ctx context.Context, reading models.TelemetryReading) (models.TelemetryReading, error) {
	saved, err := s.repo.Save(ctx, reading)
	if err != nil {
		return reading, fmt.Errorf("failed to save reading: %w", err)
	}
	metrics.TelemetryFramesTotal.Inc()

	s.hub.Broadcast(models.RuntimeEvent{
		Type:      models.RuntimeEventTelemetry,
		SessionID: saved.SessionID,
		PanelID:   saved.PanelID,
		Payload:   saved.View(time.Now()),
		Timestamp: time.Now().UTC(),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), windowTimeout)
		defer cancel()
		s.triggerWindow(wctx, saved.SessionID)
	}()

	return saved, nil
}

// Wait blocks until every scheduled window has finished
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) triggerWindow(ctx context.Context, sessionID string) {
	frames, err := s.repo.LastN(ctx, sessionID, s.windowSize)
	if err != nil {
		s.logger.Warn("window skipped", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if len(frames) < s.windowSize {
		return
	}
	if _, err := s.windows.ProcessWindow(ctx, sessionID, panelOf(frames), frames, true); err != nil {
		s.logger.Warn("window failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// panelOf takes the panel of the newest frame, or the one before it when missing.
func panelOf(frames []models.TelemetryReading) string {
	if len(frames) == 0 {
		return ""
	}
	if frames[0].PanelID == "" && len(frames) > 1 {
		return frames[1].PanelID
	}
	return frames[0].PanelID
}
