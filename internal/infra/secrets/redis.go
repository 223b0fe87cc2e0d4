// Package secrets provides concrete SecretStore backends: a Redis store
// for deployments with a shared secret cache, and an environment store for
// local development.
package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/intelgate/intelgate/internal/connector/credentials"
)

// Config holds connection settings for the Redis secret backend.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// RedisStore fetches credentials from Redis hashes. Each credential ID
// maps to one hash; the hash TTL, when set, becomes the snapshot expiry.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects and verifies the backend is reachable.
func NewRedisStore(cfg Config) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func credentialKey(credentialID string) string {
	return fmt.Sprintf("intelgate:credentials:%s", credentialID)
}

// Fetch loads the credential hash for the given ID.
func (s *RedisStore) Fetch(ctx context.Context, credentialID string) (*credentials.Credentials, error) {
	key := credentialKey(credentialID)

	values, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch credential %q: %w", credentialID, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("credential %q not found", credentialID)
	}

	creds := &credentials.Credentials{Values: values}

	// A TTL on the hash bounds the snapshot's validity.
	if ttl, err := s.rdb.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		creds.ExpiresAt = time.Now().Add(ttl)
	}

	return creds, nil
}
