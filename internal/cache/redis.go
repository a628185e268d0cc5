package cache

import (
	"context"
	"errors"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// RedisStore implements Store using redis. Like memcached, expiry is applied
// server-side. Redis keeps cached payloads across process restarts, which
// suits the long-lived geocode entries.
type RedisStore struct {
	client *redisv9.Client
}

// NewRedisStore creates a RedisStore connecting to the given address
// ("host:port"). db selects the redis logical database.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redisv9.NewClient(&redisv9.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Get implements Store.Get. Returns false, nil on cache miss; false, err on error.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redisv9.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

// Set implements Store.Set.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return s.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

// Ping checks if redis is reachable. Used for health checks.
func (s *RedisStore) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client connections. Call during shutdown.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
