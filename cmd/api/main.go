package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/bizmatters/solar-fleet/control-service/internal/ai"
	"github.com/bizmatters/solar-fleet/control-service/internal/auth"
	"github.com/bizmatters/solar-fleet/control-service/internal/config"
	"github.com/bizmatters/solar-fleet/control-service/internal/decision"
	"github.com/bizmatters/solar-fleet/control-service/internal/gateway"
	"github.com/bizmatters/solar-fleet/control-service/internal/metrics"
	"github.com/bizmatters/solar-fleet/control-service/internal/relay"
	"github.com/bizmatters/solar-fleet/control-service/internal/state"
	"github.com/bizmatters/solar-fleet/control-service/internal/store"
	"github.com/bizmatters/solar-fleet/control-service/internal/telemetry"
)

const (
	dbConnectAttempts = 10
	dbRetryDelay      = 3 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped with error", zap.Error(err))
	}
	logger.Info("Server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := initTracer()
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(sctx)
	}()

	pool, err := connectDatabase(ctx, cfg.Database.URL, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		return err
	}

	stateStore, closeState, err := newStateStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeState()

	var jwtManager *auth.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwtManager, err = auth.NewJWTManager(cfg.Auth.JWTSecret)
		if err != nil {
			return fmt.Errorf("failed to initialize JWT manager: %w", err)
		}
		logger.Info("operator tokens required for state changes")
	}

	decisionMetrics, err := metrics.NewDecisionMetrics()
	if err != nil {
		return fmt.Errorf("failed to create decision metrics: %w", err)
	}

	hub := gateway.NewHub(logger)
	states := state.NewManager(stateStore)
	relayer := relay.NewClient(cfg.Relay(), logger)
	predictor := ai.NewClient(cfg.Prediction(), logger)
	processor := telemetry.NewWindowProcessor(
		predictor,
		decision.NewEngine(cfg.Decision()),
		states,
		relayer,
		hub,
		cfg.Envelope(),
		decisionMetrics,
		logger,
	)
	telemetryService := telemetry.NewService(store.NewTelemetryRepository(pool), processor, hub, cfg.Window.Size, logger)

	deps := gateway.HandlerDeps{
		Ingester:   telemetryService,
		Sessions:   store.NewSessionRepository(pool),
		Relayer:    relayer,
		Hub:        hub,
		States:     states,
		DB:         pool,
		Prediction: predictor,
	}
	if rs, ok := stateStore.(*state.RedisStore); ok {
		deps.StateBackend = rs
	}
	handler := gateway.NewHandler(deps, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gateway.NewRouter(gateway.RouterConfig{
		Handler:        handler,
		Stream:         gateway.NewSessionStream(hub, cfg.Server.AllowedOrigins, logger),
		JWTManager:     jwtManager,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting control service", zap.String("port", cfg.Server.Port),
			zap.Int("window_size", cfg.Window.Size),
			zap.Bool("ai_enabled", cfg.AI.Enabled),
			zap.String("state_backend", cfg.State.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(sctx)
		hub.Close()
		telemetryService.Wait()
		if err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log.level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

// connectDatabase retries until PostgreSQL answers a ping
func connectDatabase(ctx context.Context, url string, logger *zap.Logger) (*pgxpool.Pool, error) {
	logger.Info("Connecting to PostgreSQL database...")

	var (
		pool *pgxpool.Pool
		err  error
	)
	for i := 0; i < dbConnectAttempts; i++ {
		pool, err = pgxpool.New(ctx, url)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				logger.Info("Connected to PostgreSQL database")
				return pool, nil
			}
			pool.Close()
		}
		logger.Warn("Waiting for database...",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", dbConnectAttempts),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dbRetryDelay):
		}
	}
	return nil, fmt.Errorf("failed to connect to database after retries: %w", err)
}

func newStateStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (state.Store, func(), error) {
	if cfg.State.Backend != config.StateBackendRedis {
		return state.NewMemoryStore(), func() {}, nil
	}

	rs, err := state.NewRedisStore(ctx, cfg.State.RedisURL, cfg.State.TTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect decision state backend: %w", err)
	}
	logger.Info("decision state kept in redis", zap.Duration("ttl", cfg.State.TTL))
	return rs, func() { _ = rs.Close() }, nil
}

// initTracer initializes OpenTelemetry tracing
func initTracer() (*trace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp, nil
}
