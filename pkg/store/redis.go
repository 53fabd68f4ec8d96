package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"openevse-mqtt-bridge/pkg/config"
	"openevse-mqtt-bridge/pkg/evse"
	"openevse-mqtt-bridge/pkg/logger"
)

const updatedField = "updated_at"

// RedisStore writes readings into one hash per device:
// openevse:<device_id>:state, field = reading key, value = published state
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s failed: %w", cfg.Addr, err)
	}

	logger.LogInfo("Redis state store connected: %s (db %d)", cfg.Addr, cfg.DB)
	return NewRedisStoreFromClient(client, time.Duration(cfg.TTL)*time.Second), nil
}

// NewRedisStoreFromClient wraps an existing client; ttl <= 0 disables expiry
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

// StateKey is the hash holding a device's readings
func StateKey(deviceID string) string {
	return "openevse:" + deviceID + ":state"
}

// Save writes readings and refreshes the TTL in a single round trip
func (s *RedisStore) Save(ctx context.Context, deviceID string, readings []evse.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	values := make([]interface{}, 0, 2*len(readings)+2)
	for _, r := range readings {
		values = append(values, r.Key, r.State())
	}
	values = append(values, updatedField, s.now().UTC().Format(time.RFC3339))

	key := StateKey(deviceID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values...)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Load returns every stored field of a device
func (s *RedisStore) Load(ctx context.Context, deviceID string) (map[string]string, error) {
	return s.client.HGetAll(ctx, StateKey(deviceID)).Result()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ StateStore = (*RedisStore)(nil)
