package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bizmatters/solar-fleet/control-service/internal/metrics"
	"github.com/bizmatters/solar-fleet/control-service/internal/models"
)

// ErrDisabled is returned when predictions are turned off by configuration.
var ErrDisabled = errors.New("ai predictions disabled")

// Predictor defines the interface for the prediction service client
type Predictor interface {
	Predict(ctx context.Context, frames []models.TelemetryReading) (*PredictResponse, error)
	IsHealthy(ctx context.Context) bool
}

// Config configures the prediction client
type Config struct {
	Enabled bool
	BaseURL string
	Timeout time.Duration
}

// Client handles communication with the prediction service
type Client struct {
	cfg        Config
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a new prediction client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	settings := gobreaker.Settings{
		Name:        "ai-predict",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tracer:     otel.Tracer("ai-client"),
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}
}

// Predict sends a window of frames to the prediction service
func (c *Client) Predict(ctx context.Context, frames []models.TelemetryReading) (*PredictResponse, error) {
	if !c.cfg.Enabled {
		metrics.AICallsTotal.WithLabelValues(metrics.OutcomeDisabled).Inc()
		return nil, ErrDisabled
	}

	ctx, span := c.tracer.Start(ctx, "ai.predict")
	defer span.End()
	span.SetAttributes(attribute.Int("points", len(frames)))
	if len(frames) > 0 {
		span.SetAttributes(attribute.String("session_id", frames[0].SessionID))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := PredictRequest{Points: make([]Point, 0, len(frames))}
	for _, f := range frames {
		req.Points = append(req.Points, NewPoint(f))
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.predictInternal(ctx, req)
	})
	metrics.AICallLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = metrics.OutcomeOpen
		}
		metrics.AICallsTotal.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to call prediction service: %w", err)
	}
	metrics.AICallsTotal.WithLabelValues(metrics.OutcomeOK).Inc()

	resp := result.(*PredictResponse)
	span.SetAttributes(attribute.String("recommendation", resp.RecommendedCleaningFrequency))
	return resp, nil
}

// predictInternal performs the actual HTTP request
func (c *Client) predictInternal(ctx context.Context, req PredictRequest) (*PredictResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.cfg.BaseURL + "/predict"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return nil, fmt.Errorf("prediction service returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("prediction service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var out PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// IsHealthy checks if the prediction service is reachable
func (c *Client) IsHealthy(ctx context.Context) bool {
	if !c.cfg.Enabled {
		return false
	}
	ctx, span := c.tracer.Start(ctx, "ai.health_check")
	defer span.End()

	if c.breaker.State() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "circuit_breaker_open"))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		span.RecordError(err)
		return false
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode == http.StatusOK
	span.SetAttributes(attribute.Bool("healthy", healthy))
	return healthy
}
