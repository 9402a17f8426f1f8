package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bizmatters/solar-fleet/control-service/internal/metrics"
	"github.com/bizmatters/solar-fleet/control-service/internal/models"
)

// DefaultControlURL is the simulator command endpoint used when none is configured.
const DefaultControlURL = "http://localhost:7072/commands"

// Relayer forwards control events to the simulator
type Relayer interface {
	Relay(ctx context.Context, evt models.StateChangeEvent) (map[string]interface{}, error)
}

// Config configures the simulator relay
type Config struct {
	ControlURL    string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// Client posts control events to the simulator
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a new simulator relay
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.ControlURL == "" {
		cfg.ControlURL = DefaultControlURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	settings := gobreaker.Settings{
		Name:        "simulator-relay",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     10 * time.Second,
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
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		tracer:     otel.Tracer("simulator-relay"),
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}
}

// Relay sends the command body built from evt and returns the simulator reply
func (c *Client) Relay(ctx context.Context, evt models.StateChangeEvent) (map[string]interface{}, error) {
	ctx, span := c.tracer.Start(ctx, "simulator.relay")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", evt.SessionID),
		attribute.String("event_type", evt.Type),
		attribute.String("cause", evt.Cause),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.RelayCallsTotal.WithLabelValues(evt.Type, metrics.OutcomeLimited).Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("relay rate limit: %w", err)
	}

	body := BuildBody(evt)
	c.logger.Debug("relaying event to simulator",
		zap.String("session_id", evt.SessionID),
		zap.String("type", evt.Type),
		zap.Any("body", body))

	jsonData, err := json.Marshal(body)
	if err != nil {
		metrics.RelayCallsTotal.WithLabelValues(evt.Type, metrics.OutcomeError).Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to marshal body: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.relayInternal(ctx, jsonData)
	})
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = metrics.OutcomeOpen
		}
		metrics.RelayCallsTotal.WithLabelValues(evt.Type, outcome).Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to relay to simulator: %w", err)
	}

	metrics.RelayCallsTotal.WithLabelValues(evt.Type, metrics.OutcomeOK).Inc()
	return result.(map[string]interface{}), nil
}

// relayInternal performs the actual HTTP request
func (c *Client) relayInternal(ctx context.Context, jsonData []byte) (map[string]interface{}, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ControlURL, bytes.NewReader(jsonData))
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

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("simulator returned status %d: %s", resp.StatusCode, string(respBytes))
	}

	out := map[string]interface{}{}
	if len(bytes.TrimSpace(respBytes)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(respBytes, &out); err != nil {
		// plain-text acknowledgements are still a successful relay
		return map[string]interface{}{"status": resp.StatusCode, "body": string(respBytes)}, nil
	}
	return out, nil
}
