package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/go-redis/redis/v8"
)

const keyPrefix = "fire-monitor:reading:latest:"

type RedisCache struct {
	c   *redis.Client
	ttl time.Duration
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisCache(c *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{c: c, ttl: ttl}
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *RedisCache) Put(ctx context.Context, reading types.Reading) error {
	b, err := json.Marshal(reading)
	if err != nil {
		return err
	}

	return r.c.Set(ctx, keyPrefix+reading.SensorID, b, r.ttl).Err()
}

func (r *RedisCache) Get(ctx context.Context, sensorID string) (types.Reading, error) {
	val, err := r.c.Get(ctx, keyPrefix+sensorID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Reading{}, ErrCacheMiss
		}
		return types.Reading{}, err
	}

	var reading types.Reading
	if err := json.Unmarshal(val, &reading); err != nil {
		return types.Reading{}, err
	}

	return reading, nil
}

func (r *RedisCache) Close() error {
	return r.c.Close()
}
