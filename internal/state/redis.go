package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bizmatters/solar-fleet/control-service/internal/safety"
)

const keyPrefix = "solar:decision-state:"

// RedisStore keeps decision state in Redis so it survives restarts
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to url and verifies the connection
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*safety.Commands, error) {
	raw, err := s.client.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load decision state: %w", err)
	}
	var c safety.Commands
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode decision state: %w", err)
	}
	return &c, nil
}

func (s *RedisStore) Save(ctx context.Context, sessionID string, c safety.Commands) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode decision state: %w", err)
	}
	if err := s.client.Set(ctx, key(sessionID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save decision state: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete decision state: %w", err)
	}
	return nil
}

// Ping checks the connection for readiness probes
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}
